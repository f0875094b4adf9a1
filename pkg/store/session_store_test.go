package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"meddoc-assistant-be/internal/entity"
)

func newTestStore(limit int, maxAge time.Duration) (*SessionStore, *MemoryKV) {
	kv := NewMemoryKV()
	return NewSessionStore(kv, "test_chat", limit, maxAge, nil), kv
}

func makeSession(id string, mode entity.DocumentSourceMode, messages int) *entity.ChatSession {
	s := &entity.ChatSession{Id: id, Mode: mode}
	for i := 0; i < messages; i++ {
		role := entity.RoleUser
		if i%2 == 1 {
			role = entity.RoleAssistant
		}
		s.Messages = append(s.Messages, entity.Message{
			Id:            fmt.Sprintf("%s-m%d", id, i),
			Role:          role,
			Content:       "bericht",
			DeliveryState: entity.DeliveryDelivered,
		})
	}
	return s
}

func TestComputeSessionID(t *testing.T) {
	tests := []struct {
		name       string
		mode       entity.DocumentSourceMode
		contextKey string
		want       string
	}{
		{
			name:       "database with client",
			mode:       entity.ModeDatabase,
			contextKey: "client-42",
			want:       "database:client-42:base",
		},
		{
			name:       "uploaded without context",
			mode:       entity.ModeUploaded,
			contextKey: "",
			want:       "uploaded:none:base",
		},
		{
			name:       "external with compound key",
			mode:       entity.ModeExternal,
			contextKey: "client-42:doc-7",
			want:       "external:client-42:doc-7:base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSessionID(tt.mode, tt.contextKey)
			if got != tt.want {
				t.Errorf("ComputeSessionID = %q, want %q", got, tt.want)
			}
			// Same inputs, same id.
			if again := ComputeSessionID(tt.mode, tt.contextKey); again != got {
				t.Errorf("not deterministic: %q vs %q", again, got)
			}
		})
	}
}

func TestMintSessionIDIsUnique(t *testing.T) {
	a := MintSessionID(entity.ModeDatabase, "client-1")
	b := MintSessionID(entity.ModeDatabase, "client-1")
	if a == b {
		t.Errorf("minted ids collide: %q", a)
	}
	if !strings.HasPrefix(a, "database:client-1:") {
		t.Errorf("minted id %q missing mode:context prefix", a)
	}
	if strings.HasSuffix(a, ":base") {
		t.Errorf("minted id %q must not reuse the implicit discriminator", a)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(5, 0)
	ctx := context.Background()

	session := makeSession("database:c1:base", entity.ModeDatabase, 3)
	s.Save(ctx, session)

	loaded := s.Load(ctx, session.Id)
	if loaded == nil {
		t.Fatal("Load returned nil after Save")
	}
	if loaded.Id != session.Id || loaded.Mode != session.Mode {
		t.Errorf("loaded %q/%s, want %q/%s", loaded.Id, loaded.Mode, session.Id, session.Mode)
	}
	if len(loaded.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(loaded.Messages))
	}
	if loaded.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped on save")
	}
}

func TestSavePreservesCreatedAt(t *testing.T) {
	s, _ := newTestStore(5, 0)
	ctx := context.Background()

	session := makeSession("database:c1:base", entity.ModeDatabase, 1)
	session.CreatedAt = time.Now().Add(-48 * time.Hour)
	s.Save(ctx, session)

	// Second save without a creation timestamp keeps the original one.
	update := makeSession("database:c1:base", entity.ModeDatabase, 2)
	s.Save(ctx, update)

	loaded := s.Load(ctx, session.Id)
	if loaded == nil {
		t.Fatal("Load returned nil")
	}
	if loaded.CreatedAt.After(time.Now().Add(-24 * time.Hour)) {
		t.Errorf("CreatedAt %v not preserved across saves", loaded.CreatedAt)
	}
}

func TestLoadMissAndCorrupt(t *testing.T) {
	s, kv := newTestStore(5, 0)
	ctx := context.Background()

	if got := s.Load(ctx, "database:c1:base"); got != nil {
		t.Errorf("Load on miss = %+v, want nil", got)
	}

	// A corrupt entry reads as absent, never as an error.
	kv.Set(ctx, s.sessionKey("database:c1:base"), []byte("{not json"))
	if got := s.Load(ctx, "database:c1:base"); got != nil {
		t.Errorf("Load on corrupt entry = %+v, want nil", got)
	}
}

func TestRecentIndexOrderAndEviction(t *testing.T) {
	s, _ := newTestStore(3, 0)
	ctx := context.Background()

	ids := []string{"database:a:base", "database:b:base", "database:c:base", "database:d:base"}
	for _, id := range ids {
		s.Save(ctx, makeSession(id, entity.ModeDatabase, 2))
		time.Sleep(2 * time.Millisecond)
	}

	recent := s.ListRecent(ctx, 0)
	if len(recent) != 3 {
		t.Fatalf("ListRecent = %d sessions, want 3", len(recent))
	}
	if recent[0].Id != "database:d:base" {
		t.Errorf("newest = %q, want database:d:base", recent[0].Id)
	}

	// The evicted session is gone entirely, not just deindexed.
	if s.Load(ctx, "database:a:base") != nil {
		t.Error("evicted session still loadable")
	}
}

func TestResaveMovesToFront(t *testing.T) {
	s, _ := newTestStore(3, 0)
	ctx := context.Background()

	for _, id := range []string{"database:a:base", "database:b:base", "database:c:base"} {
		s.Save(ctx, makeSession(id, entity.ModeDatabase, 2))
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(2 * time.Millisecond)
	s.Save(ctx, makeSession("database:a:base", entity.ModeDatabase, 4))

	recent := s.ListRecent(ctx, 0)
	if len(recent) != 3 {
		t.Fatalf("ListRecent = %d sessions, want 3", len(recent))
	}
	if recent[0].Id != "database:a:base" {
		t.Errorf("front = %q, want database:a:base", recent[0].Id)
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(5, 0)
	ctx := context.Background()

	s.Save(ctx, makeSession("database:a:base", entity.ModeDatabase, 2))
	s.Save(ctx, makeSession("database:b:base", entity.ModeDatabase, 2))

	s.Remove(ctx, "database:a:base")

	if s.Load(ctx, "database:a:base") != nil {
		t.Error("removed session still loadable")
	}
	recent := s.ListRecent(ctx, 0)
	if len(recent) != 1 || recent[0].Id != "database:b:base" {
		t.Errorf("recent after remove = %+v", recent)
	}
}

func TestClearAllLeavesForeignKeys(t *testing.T) {
	s, kv := newTestStore(5, 0)
	ctx := context.Background()

	s.Save(ctx, makeSession("database:a:base", entity.ModeDatabase, 2))
	s.SetSoundEnabled(ctx, false)
	kv.Set(ctx, "other_app:data", []byte("keep me"))

	s.ClearAll(ctx)

	if s.Load(ctx, "database:a:base") != nil {
		t.Error("session survived ClearAll")
	}
	if got := s.ListRecent(ctx, 0); len(got) != 0 {
		t.Errorf("recent after ClearAll = %d", len(got))
	}
	if !s.SoundEnabled(ctx, true) {
		t.Error("preference survived ClearAll")
	}
	if _, found, _ := kv.Get(ctx, "other_app:data"); !found {
		t.Error("ClearAll touched a key outside the namespace")
	}
}

func TestCleanupOldSessions(t *testing.T) {
	s, kv := newTestStore(5, time.Hour)
	ctx := context.Background()

	// Plant a stale session directly so its LastUpdated predates the cutoff.
	stale := makeSession("database:old:base", entity.ModeDatabase, 2)
	stale.CreatedAt = time.Now().Add(-72 * time.Hour)
	stale.LastUpdated = time.Now().Add(-72 * time.Hour)
	data, _ := json.Marshal(stale)
	kv.Set(ctx, s.sessionKey(stale.Id), data)
	s.writeRecent(ctx, []string{stale.Id})

	// Any save sweeps expired entries.
	s.Save(ctx, makeSession("database:new:base", entity.ModeDatabase, 2))

	if s.Load(ctx, "database:old:base") != nil {
		t.Error("expired session survived cleanup")
	}
	recent := s.ListRecent(ctx, 0)
	if len(recent) != 1 || recent[0].Id != "database:new:base" {
		t.Errorf("recent after cleanup = %+v", recent)
	}
}

func TestPreferences(t *testing.T) {
	s, _ := newTestStore(5, 0)
	ctx := context.Background()

	if !s.SoundEnabled(ctx, true) {
		t.Error("fallback not honored on missing preference")
	}
	s.SetSoundEnabled(ctx, false)
	if s.SoundEnabled(ctx, true) {
		t.Error("stored preference ignored")
	}

	if s.HasSeenWelcome(ctx) {
		t.Error("welcome flag defaults to false")
	}
	s.SetHasSeenWelcome(ctx, true)
	if !s.HasSeenWelcome(ctx) {
		t.Error("welcome flag not persisted")
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(5, 0)
	ctx := context.Background()

	if stats := s.Stats(ctx); stats.TotalSessions != 0 {
		t.Errorf("empty store reports %d sessions", stats.TotalSessions)
	}

	s.Save(ctx, makeSession("database:a:base", entity.ModeDatabase, 2))
	s.Save(ctx, makeSession("uploaded:d1:base", entity.ModeUploaded, 4))

	stats := s.Stats(ctx)
	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", stats.TotalSessions)
	}
	if stats.TotalBytes == 0 {
		t.Error("TotalBytes = 0")
	}
	if stats.OldestSession == nil || stats.NewestSession == nil {
		t.Error("session age bounds missing")
	}
}
