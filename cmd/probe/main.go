package main

import (
	"context"
	"fmt"
	"os"

	"meddoc-assistant-be/internal/config"
	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/prober"

	"github.com/fatih/color"
)

// One-shot availability check of the three assistant backends. Handy before
// demos and after deploys.
func main() {
	cfg := config.Load()
	log := logger.NewIsolatedLogger("logs/probe.log")

	p := prober.New(
		cfg.Backends.RagBaseURL,
		cfg.Backends.RecordBaseURL,
		cfg.Backends.MorphikBaseURL,
		cfg.Backends.ProbeTimeout,
		log,
	)

	color.Cyan("🩺 Probing assistant backends\n")

	ctx := context.Background()
	statuses := p.ProbeAll(ctx)

	failed := 0
	for _, backend := range []entity.DocumentSourceMode{entity.ModeUploaded, entity.ModeDatabase, entity.ModeExternal} {
		status := statuses[backend]
		if status.Available {
			color.Green("[OK]   %-10s %s (%s)", backend, "available", status.ResponseTime)
			continue
		}
		failed++
		color.Red("[FAIL] %-10s unavailable (%s)", backend, status.ResponseTime)
		if status.Error != nil {
			fmt.Printf("       kind: %s\n", status.Error.Kind)
			fmt.Printf("       %s\n", status.Error.UserMessage())
		}
	}

	if failed > 0 {
		color.Yellow("\n%d of %d backends unavailable", failed, len(statuses))
		os.Exit(1)
	}
	color.Cyan("\nAll backends available")
}
