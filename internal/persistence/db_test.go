package persistence

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/engine"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "candysim.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// canonical encodes v treating an empty list and null alike.
func canonical(v any) string {
	raw, _ := json.Marshal(v)
	s := string(raw)
	if s == "[]" {
		return "null"
	}
	return s
}

func TestEmptyDatabase(t *testing.T) {
	db := openTemp(t)
	if db.HasWorldState() {
		t.Fatal("fresh database reports saved state")
	}
	if _, err := db.LoadWorldState(); !errors.Is(err, ErrNoWorld) {
		t.Fatalf("LoadWorldState = %v, want ErrNoWorld", err)
	}
}

func TestWorldIDStable(t *testing.T) {
	db := openTemp(t)
	first, err := db.WorldID()
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.WorldID()
	if err != nil {
		t.Fatal(err)
	}
	if first == "" || first != second {
		t.Fatalf("world ids %q and %q", first, second)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = 10
	w := engine.New(cfg, engine.Options{})
	for i := 0; i < 150; i++ {
		w.Step()
	}
	snap, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	db := openTemp(t)
	if err := db.SaveWorldState(snap); err != nil {
		t.Fatalf("SaveWorldState: %v", err)
	}
	// A second save must fully replace the first.
	if err := db.SaveWorldState(snap); err != nil {
		t.Fatalf("second SaveWorldState: %v", err)
	}

	got, err := db.LoadWorldState()
	if err != nil {
		t.Fatalf("LoadWorldState: %v", err)
	}
	if got.Tick != snap.Tick || got.Version != snap.Version {
		t.Errorf("tick/version = %d/%d, want %d/%d", got.Tick, got.Version, snap.Tick, snap.Version)
	}
	for name, pair := range map[string][2]any{
		"agents":  {snap.Agents, got.Agents},
		"houses":  {snap.Houses, got.Houses},
		"rumors":  {snap.Rumors, got.Rumors},
		"blocs":   {snap.Blocs, got.Blocs},
		"economy": {snap.Economy, got.Economy},
		"config":  {snap.Config, got.Config},
	} {
		if canonical(pair[0]) != canonical(pair[1]) {
			t.Errorf("%s differ after reload", name)
		}
	}

	restored := engine.New(cfg, engine.Options{})
	if err := restored.Restore(got); err != nil {
		t.Fatalf("Restore from database: %v", err)
	}
	if restored.Tick() != snap.Tick {
		t.Errorf("restored tick %d, want %d", restored.Tick(), snap.Tick)
	}
}

func TestEvents(t *testing.T) {
	db := openTemp(t)
	events := []engine.Event{
		{Seq: 1, Tick: 5, Kind: engine.EventTradeCompleted, Description: "a", Meta: map[string]any{"proposer": 1}},
		{Seq: 2, Tick: 6, Kind: engine.EventDebtDefaulted, Description: "b"},
		{Seq: 3, Tick: 7, Kind: engine.EventComboTriggered, Description: "c", Meta: map[string]any{"name": "Supply Shock"}},
	}
	if err := db.SaveEvents(events); err != nil {
		t.Fatal(err)
	}
	// Re-saving overlapping events is a no-op for stored sequence numbers.
	if err := db.SaveEvents(events[1:]); err != nil {
		t.Fatal(err)
	}

	got, err := db.RecentEvents(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 3 || got[1].Seq != 2 {
		t.Fatalf("RecentEvents = %+v", got)
	}
	if got[0].Meta["name"] != "Supply Shock" || got[0].Kind != engine.EventComboTriggered {
		t.Errorf("event 3 = %+v", got[0])
	}
}
