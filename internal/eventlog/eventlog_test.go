package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/candy-cartel/internal/engine"
)

func TestWriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")
	clock := time.Date(2026, 10, 31, 18, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	sink := w.Sink()
	sink(engine.Event{Seq: 1, Tick: 10, Kind: engine.EventTradeCompleted, Description: "swap"})
	sink(engine.Event{Seq: 2, Tick: 11, Kind: engine.EventDebtDefaulted, Description: "default"})
	clock = clock.Add(2 * time.Minute)
	sink(engine.Event{Seq: 3, Tick: 12, Kind: engine.EventComboTriggered, Description: "combo"})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Written() != 3 {
		t.Fatalf("Written = %d, want 3", w.Written())
	}

	first, err := ReadFile(filepath.Join(dir, "events-2026-10-31-18.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[1].Kind != engine.EventDebtDefaulted {
		t.Fatalf("first hour = %+v", first)
	}
	second, err := ReadFile(filepath.Join(dir, "events-2026-10-31-19.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].Seq != 3 {
		t.Fatalf("second hour = %+v", second)
	}
}

func TestAppendAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	for seq := uint64(1); seq <= 2; seq++ {
		w := NewWriter(dir, "events")
		w.now = func() time.Time { return clock }
		if err := w.Write(engine.Event{Seq: seq}); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ReadFile(filepath.Join(dir, "events-2026-01-02-03.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("reopened file = %+v", got)
	}
}
