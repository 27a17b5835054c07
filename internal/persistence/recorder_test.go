package persistence

import (
	"testing"

	"github.com/talgya/candy-cartel/internal/engine"
)

func TestRecorderFlush(t *testing.T) {
	db := openTemp(t)
	rec := NewRecorder(3)
	sink := rec.Sink()
	for seq := uint64(1); seq <= 5; seq++ {
		sink(engine.Event{Seq: seq, Tick: seq, Kind: engine.EventRumorSpread})
	}
	if rec.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", rec.Dropped())
	}

	n, err := rec.Flush(db)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("flushed %d, want 3", n)
	}
	got, err := db.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Seq != 5 || got[2].Seq != 3 {
		t.Fatalf("stored = %+v, want seqs 5..3", got)
	}

	if n, err := rec.Flush(db); err != nil || n != 0 {
		t.Errorf("second flush = %d, %v; want 0, nil", n, err)
	}
}
