// Package store owns client-local persistence for the assistant: transcripts
// keyed by session id, a bounded most-recently-used index, and user
// preferences. All keys share one configurable namespace so the subsystem
// never touches unrelated data living in the same store.
//
// Failure semantics: the backing store may be absent, full or disabled.
// Every operation degrades to a no-op or empty result; nothing here returns
// an error to the caller.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"

	"github.com/google/uuid"
)

const (
	noContext = "none"
	// Discriminator of the implicit session for a (mode, context) pair.
	// Explicit "new conversation" mints a random one instead, so switching
	// context without sending anything keeps resuming the same session.
	baseDiscriminator = "base"

	prefSound       = "sound-enabled"
	prefSeenWelcome = "welcome-seen"
)

// ComputeSessionID maps (mode, contextKey) to the stable id of the implicit
// session for that pair. Pure and deterministic.
func ComputeSessionID(mode entity.DocumentSourceMode, contextKey string) string {
	return composeSessionID(mode, contextKey, baseDiscriminator)
}

// MintSessionID creates a brand-new id for the same pair; used by the
// explicit new-conversation action to supersede the implicit session.
func MintSessionID(mode entity.DocumentSourceMode, contextKey string) string {
	return composeSessionID(mode, contextKey, uuid.NewString()[:8])
}

func composeSessionID(mode entity.DocumentSourceMode, contextKey, discriminator string) string {
	if contextKey == "" {
		contextKey = noContext
	}
	return string(mode) + ":" + contextKey + ":" + discriminator
}

// StorageStats summarizes what the subsystem currently holds.
type StorageStats struct {
	TotalSessions int        `json:"total_sessions"`
	TotalBytes    int        `json:"total_bytes"`
	OldestSession *time.Time `json:"oldest_session,omitempty"`
	NewestSession *time.Time `json:"newest_session,omitempty"`
}

type SessionStore struct {
	kv          KV
	prefix      string
	recentLimit int
	maxAge      time.Duration
	logger      logger.ILogger
}

func NewSessionStore(kv KV, prefix string, recentLimit int, maxAge time.Duration, log logger.ILogger) *SessionStore {
	if recentLimit <= 0 {
		recentLimit = 5
	}
	return &SessionStore{
		kv:          kv,
		prefix:      prefix,
		recentLimit: recentLimit,
		maxAge:      maxAge,
		logger:      log,
	}
}

// Save writes the full transcript and refreshes the MRU index. The creation
// timestamp of an existing session is preserved.
func (s *SessionStore) Save(ctx context.Context, session *entity.ChatSession) {
	if session == nil || session.Id == "" {
		return
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		if existing := s.Load(ctx, session.Id); existing != nil {
			session.CreatedAt = existing.CreatedAt
		} else {
			session.CreatedAt = now
		}
	}
	session.LastUpdated = now

	data, err := json.Marshal(session)
	if err != nil {
		s.warn("Failed to marshal session", session.Id, err)
		return
	}
	if err := s.kv.Set(ctx, s.sessionKey(session.Id), data); err != nil {
		s.warn("Failed to persist session", session.Id, err)
		return
	}

	s.touchRecent(ctx, session.Id)
	s.cleanupOld(ctx)
}

// Load returns the stored session, or nil on a miss, a storage failure or a
// corrupt entry.
func (s *SessionStore) Load(ctx context.Context, id string) *entity.ChatSession {
	data, found, err := s.kv.Get(ctx, s.sessionKey(id))
	if err != nil {
		s.warn("Failed to read session", id, err)
		return nil
	}
	if !found {
		return nil
	}

	var session entity.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		s.warn("Corrupt session entry, treating as absent", id, err)
		return nil
	}
	return &session
}

// ListRecent returns up to limit sessions ordered by last update, newest
// first. Index entries whose session is gone are skipped.
func (s *SessionStore) ListRecent(ctx context.Context, limit int) []*entity.ChatSession {
	if limit <= 0 || limit > s.recentLimit {
		limit = s.recentLimit
	}

	var sessions []*entity.ChatSession
	for _, id := range s.recentIDs(ctx) {
		if session := s.Load(ctx, id); session != nil {
			sessions = append(sessions, session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

// Remove deletes one session and its index reference.
func (s *SessionStore) Remove(ctx context.Context, id string) {
	if err := s.kv.Delete(ctx, s.sessionKey(id)); err != nil {
		s.warn("Failed to delete session", id, err)
	}

	ids := s.recentIDs(ctx)
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	s.writeRecent(ctx, filtered)
}

// ClearAll wipes every session, the index and the preferences this subsystem
// owns. Keys outside the namespace are untouched.
func (s *SessionStore) ClearAll(ctx context.Context) {
	for _, id := range s.recentIDs(ctx) {
		if err := s.kv.Delete(ctx, s.sessionKey(id)); err != nil {
			s.warn("Failed to delete session", id, err)
		}
	}
	_ = s.kv.Delete(ctx, s.recentKey())
	_ = s.kv.Delete(ctx, s.prefKey(prefSound))
	_ = s.kv.Delete(ctx, s.prefKey(prefSeenWelcome))
}

// Stats reports how much the subsystem is holding, for the settings screen.
func (s *SessionStore) Stats(ctx context.Context) StorageStats {
	var stats StorageStats
	for _, id := range s.recentIDs(ctx) {
		data, found, err := s.kv.Get(ctx, s.sessionKey(id))
		if err != nil || !found {
			continue
		}
		var session entity.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		stats.TotalSessions++
		stats.TotalBytes += len(data)
		created := session.CreatedAt
		if stats.OldestSession == nil || created.Before(*stats.OldestSession) {
			c := created
			stats.OldestSession = &c
		}
		if stats.NewestSession == nil || created.After(*stats.NewestSession) {
			c := created
			stats.NewestSession = &c
		}
	}
	return stats
}

// SoundEnabled reads the acoustic-feedback preference.
func (s *SessionStore) SoundEnabled(ctx context.Context, fallback bool) bool {
	return s.boolPref(ctx, prefSound, fallback)
}

func (s *SessionStore) SetSoundEnabled(ctx context.Context, enabled bool) {
	s.setBoolPref(ctx, prefSound, enabled)
}

// HasSeenWelcome reads the first-run flag for the welcome dialog.
func (s *SessionStore) HasSeenWelcome(ctx context.Context) bool {
	return s.boolPref(ctx, prefSeenWelcome, false)
}

func (s *SessionStore) SetHasSeenWelcome(ctx context.Context, seen bool) {
	s.setBoolPref(ctx, prefSeenWelcome, seen)
}

// touchRecent moves id to the front of the MRU index and evicts beyond
// capacity, removing each evicted session entry together with its index slot.
func (s *SessionStore) touchRecent(ctx context.Context, id string) {
	ids := s.recentIDs(ctx)

	updated := make([]string, 0, len(ids)+1)
	updated = append(updated, id)
	for _, existing := range ids {
		if existing != id {
			updated = append(updated, existing)
		}
	}

	if len(updated) > s.recentLimit {
		for _, evicted := range updated[s.recentLimit:] {
			if err := s.kv.Delete(ctx, s.sessionKey(evicted)); err != nil {
				s.warn("Failed to delete evicted session", evicted, err)
			}
		}
		updated = updated[:s.recentLimit]
	}

	s.writeRecent(ctx, updated)
}

// cleanupOld drops sessions past the retention age from both the store and
// the index.
func (s *SessionStore) cleanupOld(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	ids := s.recentIDs(ctx)
	kept := make([]string, 0, len(ids))
	changed := false

	for _, id := range ids {
		session := s.Load(ctx, id)
		if session == nil || session.LastUpdated.Before(cutoff) {
			_ = s.kv.Delete(ctx, s.sessionKey(id))
			changed = true
			continue
		}
		kept = append(kept, id)
	}

	if changed {
		s.writeRecent(ctx, kept)
	}
}

func (s *SessionStore) recentIDs(ctx context.Context) []string {
	data, found, err := s.kv.Get(ctx, s.recentKey())
	if err != nil || !found {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.warn("Corrupt recent index, resetting", s.recentKey(), err)
		return nil
	}
	return ids
}

func (s *SessionStore) writeRecent(ctx context.Context, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, s.recentKey(), data); err != nil {
		s.warn("Failed to write recent index", s.recentKey(), err)
	}
}

func (s *SessionStore) boolPref(ctx context.Context, name string, fallback bool) bool {
	data, found, err := s.kv.Get(ctx, s.prefKey(name))
	if err != nil || !found {
		return fallback
	}
	value, err := strconv.ParseBool(string(data))
	if err != nil {
		return fallback
	}
	return value
}

func (s *SessionStore) setBoolPref(ctx context.Context, name string, value bool) {
	if err := s.kv.Set(ctx, s.prefKey(name), []byte(strconv.FormatBool(value))); err != nil {
		s.warn("Failed to write preference", name, err)
	}
}

func (s *SessionStore) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

func (s *SessionStore) recentKey() string {
	return s.prefix + ":recent"
}

func (s *SessionStore) prefKey(name string) string {
	return s.prefix + ":pref:" + name
}

func (s *SessionStore) warn(message, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn("SessionStore", message, map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	})
}
