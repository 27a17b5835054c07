// Command candysim runs the candy market simulation with its HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/candy-cartel/internal/api"
	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/engine"
	"github.com/talgya/candy-cartel/internal/eventlog"
	"github.com/talgya/candy-cartel/internal/persistence"
	"github.com/talgya/candy-cartel/internal/snapshot"
)

const (
	saveEvery     = 2 * time.Minute
	keepSnapshots = 10
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Candy Cartel / neighbourhood market simulation")

	dataDir := envOr("CANDYSIM_DATA", "data")
	dbPath := envOr("CANDYSIM_DB", filepath.Join(dataDir, "candysim.db"))
	snapDir := filepath.Join(dataDir, "snapshots")
	apiPort := envInt("CANDYSIM_PORT", 8080)

	// ── Configuration ────────────────────────────────────────────────
	cfg := config.Default()
	if path := os.Getenv("CANDYSIM_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			slog.Error("invalid configuration", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("configuration loaded", "path", path)
	} else {
		slog.Warn("CANDYSIM_CONFIG not set, using built-in tables")
	}
	if v := os.Getenv("CANDYSIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			slog.Error("invalid CANDYSIM_SEED", "value", v, "error", err)
			os.Exit(1)
		}
		cfg.Seed = seed
	}

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "path", dataDir, "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	worldID, err := db.WorldID()
	if err != nil {
		slog.Error("failed to read world id", "error", err)
		os.Exit(1)
	}
	slog.Info("database opened", "path", dbPath, "world_id", worldID)

	// ── Load or Generate World State ─────────────────────────────────
	w := engine.New(cfg, engine.Options{})
	restored, err := restore(w, db, snapDir)
	if err != nil {
		slog.Error("failed to restore world", "error", err)
		os.Exit(1)
	}
	if !restored {
		slog.Info("no saved state found, generated new world",
			"agents", len(w.Agents()),
			"houses", len(w.Houses()),
			"seed", cfg.Seed,
		)
	}

	// ── Event sinks ──────────────────────────────────────────────────
	events := eventlog.NewWriter(filepath.Join(dataDir, "events"), "events")
	defer events.Close()
	recorder := persistence.NewRecorder(w.Config().Capacity.RecentEvents * 4)
	hub := api.NewHub()
	w.Subscribe(events.Sink())
	w.Subscribe(recorder.Sink())
	w.Subscribe(hub.Sink())

	save := func(reason string) {
		snap, err := w.Snapshot()
		if err != nil {
			slog.Error("snapshot failed", "reason", reason, "error", err)
			return
		}
		if err := db.SaveWorldState(snap); err != nil {
			slog.Error("save failed", "reason", reason, "error", err)
		}
		if _, err := recorder.Flush(db); err != nil {
			slog.Error("event flush failed", "reason", reason, "error", err)
		}
		if err := os.MkdirAll(snapDir, 0o755); err == nil {
			if err := snapshot.Write(snapshot.PathFor(snapDir, snap.Tick), worldID, snap); err != nil {
				slog.Error("snapshot file failed", "error", err)
			} else if err := snapshot.Prune(snapDir, keepSnapshots); err != nil {
				slog.Warn("snapshot prune failed", "error", err)
			}
		}
	}

	// Save on fresh generation only (loaded worlds are already saved).
	if !restored {
		save("initial")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("CANDYSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("CANDYSIM_ADMIN_KEY not set, command and admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		World:     w,
		DB:        db,
		Hub:       hub,
		SnapDir:   snapDir,
		WorldID:   worldID,
		Port:      apiPort,
		AdminKey:  adminKey,
		StreamKey: os.Getenv("CANDYSIM_STREAM_KEY"),
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(saveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				save("periodic")
			}
		}
	}()

	fmt.Printf("\nThe market is open: %d kids, %d houses.\n", len(w.Agents()), len(w.Houses()))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	if restored {
		fmt.Printf("Resuming from tick %s\n", humanize.Comma(int64(w.Tick())))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	w.Run(ctx)

	// Final save on shutdown.
	slog.Info("final save...")
	save("shutdown")

	stats := w.Stats()
	fmt.Printf("Simulation stopped at tick %s. %s trades, %s defaults, %s combos, %s events exported. World state saved.\n",
		humanize.Comma(int64(w.Tick())),
		humanize.Comma(int64(stats.Trades)),
		humanize.Comma(int64(stats.Defaults)),
		humanize.Comma(int64(stats.Combos)),
		humanize.Comma(int64(events.Written())),
	)
}

// restore loads the newest saved state: the database first, then the most
// recent snapshot file. It reports whether anything was restored.
func restore(w *engine.World, db *persistence.DB, snapDir string) (bool, error) {
	if db.HasWorldState() {
		slog.Info("found saved world state, loading...")
		snap, err := db.LoadWorldState()
		if err != nil {
			return false, fmt.Errorf("load database state: %w", err)
		}
		if err := w.Restore(snap); err != nil {
			return false, fmt.Errorf("restore database state: %w", err)
		}
		slog.Info("world state restored", "source", "database", "tick", snap.Tick, "agents", len(snap.Agents))
		return true, nil
	}

	path, err := snapshot.Latest(snapDir)
	if err != nil {
		return false, err
	}
	if path == "" {
		return false, nil
	}
	_, snap, err := snapshot.Read(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := w.Restore(snap); err != nil {
		return false, fmt.Errorf("restore %s: %w", path, err)
	}
	slog.Info("world state restored", "source", path, "tick", snap.Tick, "agents", len(snap.Agents))
	return true, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer env", "key", key, "value", v)
		return def
	}
	return n
}
