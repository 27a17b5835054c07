package combo

import (
	"fmt"

	"github.com/talgya/candy-cartel/internal/candy"
)

// Step is one predicate in a combo sequence.
type Step struct {
	Action ActionKind `json:"action" yaml:"action"`
	// Bind fixes the combo's candy kind to this entry's candy.
	Bind bool `json:"bind,omitempty" yaml:"bind,omitempty"`
	// SameCandy requires the entry's candy to equal the bound kind.
	SameCandy bool `json:"same_candy,omitempty" yaml:"same_candy,omitempty"`
	// MinRise, for price_change steps, is the required relative rise from
	// the price at the start of the step (1.0 = doubled).
	MinRise float64 `json:"min_rise,omitempty" yaml:"min_rise,omitempty"`
}

// Definition is a named, time-windowed action sequence.
type Definition struct {
	Name   string  `json:"name" yaml:"name"`
	Bonus  float64 `json:"bonus" yaml:"bonus"`
	Window uint64  `json:"window" yaml:"window"` // Max ticks from first to last step
	Steps  []Step  `json:"steps" yaml:"steps"`
}

// Validate checks a definition for unknown actions and empty sequences.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("combo without name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("combo %q has no steps", d.Name)
	}
	bound := false
	for i, s := range d.Steps {
		if !KnownAction(s.Action) {
			return fmt.Errorf("combo %q step %d: unknown action %q", d.Name, i, s.Action)
		}
		if s.SameCandy && !bound {
			return fmt.Errorf("combo %q step %d: same_candy before any bind", d.Name, i)
		}
		bound = bound || s.Bind
	}
	return nil
}

// DefaultDefinitions returns the built-in combos.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:   "Supply Shock",
			Bonus:  30,
			Window: 600,
			Steps: []Step{
				{Action: ActionCurseHouse},
				{Action: ActionHoard, Bind: true},
				{Action: ActionPriceChange, SameCandy: true, MinRise: 1.0},
				{Action: ActionSell, SameCandy: true},
			},
		},
		{
			Name:   "Rumor Pump",
			Bonus:  20,
			Window: 400,
			Steps: []Step{
				{Action: ActionSpreadRumor, Bind: true},
				{Action: ActionPriceChange, SameCandy: true, MinRise: 0.25},
				{Action: ActionSell, SameCandy: true},
			},
		},
	}
}

// Trigger reports a completed combo.
type Trigger struct {
	Name  string   `json:"name"`
	Bonus float64  `json:"bonus"`
	Seqs  []uint64 `json:"seqs"` // Entries that satisfied the sequence
	Tick  uint64   `json:"tick"`
}

// Detector matches every new log entry against the combo definitions.
type Detector struct {
	defs     []Definition
	log      *Log
	consumed []map[uint64]bool // Per definition
}

// NewDetector creates a detector over log.
func NewDetector(defs []Definition, log *Log) *Detector {
	d := &Detector{defs: defs, log: log, consumed: make([]map[uint64]bool, len(defs))}
	for i := range d.consumed {
		d.consumed[i] = make(map[uint64]bool)
	}
	return d
}

// Definitions returns the active combo definitions.
func (d *Detector) Definitions() []Definition { return d.defs }

// Log returns the underlying action log.
func (d *Detector) Log() *Log { return d.log }

// Record appends e to the log and checks every definition for a sequence
// ending at it.
func (d *Detector) Record(e Entry) (Entry, []Trigger) {
	e = d.log.Append(e)
	return e, d.Check(e)
}

// Check attempts to complete each definition with last as its final step.
// Entries used by a match are consumed for that definition and can never
// satisfy it again.
func (d *Detector) Check(last Entry) []Trigger {
	var out []Trigger
	for i, def := range d.defs {
		final := def.Steps[len(def.Steps)-1]
		if last.Kind != final.Action || d.consumed[i][last.Seq] {
			continue
		}
		from := uint64(0)
		if last.Tick > def.Window {
			from = last.Tick - def.Window
		}
		window := d.log.Since(from)
		m := &matcher{def: def, entries: window, consumed: d.consumed[i]}
		seqs, ok := m.match(0, 0, nil, last)
		if !ok {
			continue
		}
		for _, s := range seqs {
			d.consumed[i][s] = true
		}
		out = append(out, Trigger{Name: def.Name, Bonus: def.Bonus, Seqs: seqs, Tick: last.Tick})
	}
	d.prune()
	return out
}

// prune forgets consumed marks for entries that have left the log.
func (d *Detector) prune() {
	entries := d.log.Entries()
	if len(entries) == 0 {
		return
	}
	oldest := entries[0].Seq
	for _, c := range d.consumed {
		for s := range c {
			if s < oldest {
				delete(c, s)
			}
		}
	}
}

type matcher struct {
	def      Definition
	entries  []Entry
	consumed map[uint64]bool
}

// match finds entries for steps[step:] starting at entries[pos:], with the
// final step fixed to last. It returns the chosen sequence numbers.
func (m *matcher) match(step, pos int, bound *candy.Kind, last Entry) ([]uint64, bool) {
	s := m.def.Steps[step]
	if step == len(m.def.Steps)-1 {
		if _, ok := m.accepts(s, last, bound, pos); !ok {
			return nil, false
		}
		return []uint64{last.Seq}, true
	}
	for j := pos; j < len(m.entries); j++ {
		e := m.entries[j]
		if e.Seq >= last.Seq {
			break
		}
		if m.consumed[e.Seq] {
			continue
		}
		nb, ok := m.accepts(s, e, bound, pos)
		if !ok {
			continue
		}
		if rest, ok := m.match(step+1, j+1, nb, last); ok {
			return append([]uint64{e.Seq}, rest...), true
		}
	}
	return nil, false
}

// accepts checks one entry against a step, returning the candy binding in
// force afterwards. pos is the index just after the previous matched entry,
// used to find the baseline price for MinRise.
func (m *matcher) accepts(s Step, e Entry, bound *candy.Kind, pos int) (*candy.Kind, bool) {
	if e.Kind != s.Action {
		return nil, false
	}
	if s.SameCandy {
		if bound == nil || e.Payload.Candy == nil || *e.Payload.Candy != *bound {
			return nil, false
		}
	}
	if s.MinRise > 0 {
		if e.Payload.Candy == nil {
			return nil, false
		}
		base := m.baseline(*e.Payload.Candy, pos, e)
		if base <= 0 || (e.Payload.To-base)/base < s.MinRise {
			return nil, false
		}
	}
	if s.Bind {
		if e.Payload.Candy == nil {
			return nil, false
		}
		k := *e.Payload.Candy
		return &k, true
	}
	return bound, true
}

// baseline is the From price of the first price change for kind at or
// after entries[pos], up to and including e.
func (m *matcher) baseline(kind candy.Kind, pos int, e Entry) float64 {
	for j := pos; j < len(m.entries) && m.entries[j].Seq <= e.Seq; j++ {
		x := m.entries[j]
		if x.Kind == ActionPriceChange && x.Payload.Candy != nil && *x.Payload.Candy == kind {
			return x.Payload.From
		}
	}
	return e.Payload.From
}
