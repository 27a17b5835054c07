package combo

import (
	"testing"

	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

func house(id world.HouseID) Payload {
	return Payload{House: &id}
}

func price(k candy.Kind, from, to float64) Payload {
	p := CandyOf(k)
	p.From, p.To = from, to
	return p
}

func supplyShock(d *Detector, start uint64, sellAt uint64) []Trigger {
	var got []Trigger
	record := func(e Entry) {
		_, t := d.Record(e)
		got = append(got, t...)
	}
	record(Entry{Tick: start, Kind: ActionCurseHouse, Payload: house(3)})
	record(Entry{Tick: start + 10, Actor: 4, Kind: ActionHoard, Payload: CandyOf(candy.Sour)})
	record(Entry{Tick: start + 60, Kind: ActionPriceChange, Payload: price(candy.Sour, 6, 8)})
	record(Entry{Tick: start + 120, Kind: ActionPriceChange, Payload: price(candy.Sour, 8, 12.5)})
	record(Entry{Tick: sellAt, Actor: 4, Kind: ActionSell, Payload: CandyOf(candy.Sour)})
	return got
}

func TestSupplyShockAwardsOnce(t *testing.T) {
	d := NewDetector(DefaultDefinitions(), NewLog(64))
	got := supplyShock(d, 100, 250)
	if len(got) != 1 || got[0].Name != "Supply Shock" || got[0].Bonus != 30 {
		t.Fatalf("triggers = %+v", got)
	}
	if len(got[0].Seqs) != 4 {
		t.Fatalf("seqs = %v", got[0].Seqs)
	}

	// A second sell inside the window cannot reuse the consumed curse and hoard.
	if _, again := d.Record(Entry{Tick: 260, Actor: 4, Kind: ActionSell, Payload: CandyOf(candy.Sour)}); len(again) != 0 {
		t.Fatalf("combo re-awarded: %+v", again)
	}
}

func TestSupplyShockOutsideWindow(t *testing.T) {
	d := NewDetector(DefaultDefinitions(), NewLog(64))
	if got := supplyShock(d, 100, 100+601); len(got) != 0 {
		t.Fatalf("late sell awarded: %+v", got)
	}
}

func TestSupplyShockNeedsDoubling(t *testing.T) {
	d := NewDetector(DefaultDefinitions(), NewLog(64))
	d.Record(Entry{Tick: 1, Kind: ActionCurseHouse, Payload: house(1)})
	d.Record(Entry{Tick: 2, Kind: ActionHoard, Payload: CandyOf(candy.Fruity)})
	d.Record(Entry{Tick: 3, Kind: ActionPriceChange, Payload: price(candy.Fruity, 5, 7)})
	if _, got := d.Record(Entry{Tick: 4, Kind: ActionSell, Payload: CandyOf(candy.Fruity)}); len(got) != 0 {
		t.Fatalf("awarded on a 40%% rise: %+v", got)
	}
}

func TestSupplyShockRequiresSameCandy(t *testing.T) {
	d := NewDetector(DefaultDefinitions(), NewLog(64))
	d.Record(Entry{Tick: 1, Kind: ActionCurseHouse, Payload: house(1)})
	d.Record(Entry{Tick: 2, Kind: ActionHoard, Payload: CandyOf(candy.Fruity)})
	d.Record(Entry{Tick: 3, Kind: ActionPriceChange, Payload: price(candy.Fruity, 5, 11)})
	if _, got := d.Record(Entry{Tick: 4, Kind: ActionSell, Payload: CandyOf(candy.Chocolate)}); len(got) != 0 {
		t.Fatalf("awarded for the wrong candy: %+v", got)
	}
	if _, got := d.Record(Entry{Tick: 5, Kind: ActionSell, Payload: CandyOf(candy.Fruity)}); len(got) != 1 {
		t.Fatalf("expected award, got %+v", got)
	}
}

func TestLogEvictsOldest(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(Entry{Tick: uint64(i), Kind: ActionTrade})
	}
	es := l.Entries()
	if len(es) != 3 || es[0].Seq != 3 || es[2].Seq != 5 || l.Dropped() != 2 {
		t.Fatalf("entries = %+v dropped=%d", es, l.Dropped())
	}
	if s := l.Since(3); len(s) != 2 {
		t.Fatalf("since = %+v", s)
	}

	r := NewLog(3)
	r.Restore(es)
	if e := r.Append(Entry{Kind: ActionSell}); e.Seq != 6 {
		t.Fatalf("restored seq = %d", e.Seq)
	}
}

func TestDefinitionValidate(t *testing.T) {
	for _, d := range DefaultDefinitions() {
		if err := d.Validate(); err != nil {
			t.Fatal(err)
		}
	}
	bad := Definition{Name: "x", Steps: []Step{{Action: "juggle"}}}
	if bad.Validate() == nil {
		t.Fatal("unknown action accepted")
	}
	bad = Definition{Name: "y", Steps: []Step{{Action: ActionSell, SameCandy: true}}}
	if bad.Validate() == nil {
		t.Fatal("same_candy without bind accepted")
	}
}
