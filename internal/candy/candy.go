// Package candy defines the tradeable candy kinds and the fixed-size
// inventory type shared by agents, houses, the economy and trade evaluation.
package candy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind enumerates tradeable candy kinds.
type Kind uint8

const (
	Chocolate Kind = iota
	Fruity
	Sour
	Novelty
	Health
	Trash // Spoiled candy of any kind ends up here
)

// NumKinds is the total number of candy kinds.
const NumKinds = 6

var kindNames = [NumKinds]string{"chocolate", "fruity", "sour", "novelty", "health", "trash"}

// ErrUnknownKind is returned when a name or index does not map to a candy kind.
var ErrUnknownKind = errors.New("unknown candy kind")

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return int(k) < NumKinds
}

// ParseKind maps a case-insensitive name to a kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, kn := range kindNames {
		if kn == n {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// AllKinds returns every kind in index order.
func AllKinds() []Kind {
	out := make([]Kind, NumKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind by name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Inventory is a fixed-size array holding counts of each kind.
// Inline in Agent and House, zero heap allocation.
type Inventory [NumKinds]int

// Of builds an inventory from kind/count pairs.
func Of(pairs map[Kind]int) Inventory {
	var inv Inventory
	for k, n := range pairs {
		if k.Valid() {
			inv[k] = n
		}
	}
	return inv
}

// IsEmpty returns true if all quantities are zero.
func (inv Inventory) IsEmpty() bool {
	for _, qty := range inv {
		if qty != 0 {
			return false
		}
	}
	return true
}

// Total returns the number of pieces held.
func (inv Inventory) Total() int {
	total := 0
	for _, qty := range inv {
		total += qty
	}
	return total
}

// HasNegative reports whether any count is below zero.
func (inv Inventory) HasNegative() bool {
	for _, qty := range inv {
		if qty < 0 {
			return true
		}
	}
	return false
}

// Covers reports whether inv holds at least the counts in want.
func (inv Inventory) Covers(want Inventory) bool {
	for k, qty := range want {
		if inv[k] < qty {
			return false
		}
	}
	return true
}

// Add returns inv + other.
func (inv Inventory) Add(other Inventory) Inventory {
	for k := range inv {
		inv[k] += other[k]
	}
	return inv
}

// Sub returns inv - other. The caller checks Covers first.
func (inv Inventory) Sub(other Inventory) Inventory {
	for k := range inv {
		inv[k] -= other[k]
	}
	return inv
}

// Kinds returns the kinds with a non-zero count, in index order.
func (inv Inventory) Kinds() []Kind {
	var out []Kind
	for k, qty := range inv {
		if qty != 0 {
			out = append(out, Kind(k))
		}
	}
	return out
}

// Value prices the inventory with a per-kind value table.
func (inv Inventory) Value(values [NumKinds]float64) float64 {
	total := 0.0
	for k, qty := range inv {
		total += float64(qty) * values[k]
	}
	return total
}

// String renders non-zero counts as "chocolate:2 fruity:1".
func (inv Inventory) String() string {
	parts := make([]string, 0, NumKinds)
	for _, k := range inv.Kinds() {
		parts = append(parts, fmt.Sprintf("%s:%d", k, inv[k]))
	}
	if len(parts) == 0 {
		return "{}"
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes non-zero counts as an object keyed by kind name.
func (inv Inventory) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, NumKinds)
	for _, k := range inv.Kinds() {
		m[k.String()] = inv[k]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by kind name.
func (inv *Inventory) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var out Inventory
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return err
		}
		if m[name] < 0 {
			return fmt.Errorf("negative count for %s", name)
		}
		out[k] = m[name]
	}
	*inv = out
	return nil
}
