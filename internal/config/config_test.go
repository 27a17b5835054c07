package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/rumor"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "candysim.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Seed != 1031 {
		t.Errorf("seed = %d", cfg.Seed)
	}
	if len(cfg.Combos) != 2 || cfg.Combos[0].Name != "Supply Shock" {
		t.Errorf("combos = %+v", cfg.Combos)
	}
	// Omitted sections keep defaults.
	if cfg.Debt.MinTrust != 0.3 {
		t.Errorf("debt.min_trust = %v", cfg.Debt.MinTrust)
	}
	eco := cfg.EconomyConfig()
	if eco.Real[candy.Chocolate] != 8 || eco.Real[candy.Trash] != 1 {
		t.Errorf("real values = %v", eco.Real)
	}
	if h := cfg.RumorConfig().HalfLife[rumor.KindSupply]; h != 240 {
		t.Errorf("supply half-life = %v", h)
	}
	if tbl := cfg.PersonalityTable(); tbl[agents.Hoarder].Threshold != 0.5 {
		t.Errorf("hoarder threshold = %v", tbl[agents.Hoarder].Threshold)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"schema type", "agents: many\n"},
		{"unknown field", "agentz: 4\n"},
		{"probability range", "rumor:\n  spread_chance: 1.5\n"},
		{"unknown candy", "candy:\n  licorice: { real_value: 3 }\n"},
		{"unknown personality", "personalities:\n  GAMBLER: { threshold: 1 }\n"},
		{"bloc too small", "bloc:\n  min_size: 2\n"},
		{"unknown combo action", "combos:\n  - name: x\n    steps:\n      - { action: juggle }\n"},
		{"bad yaml", "agents: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents != Default().Agents {
		t.Fatalf("agents = %d", cfg.Agents)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}
