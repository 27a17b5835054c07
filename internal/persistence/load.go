package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/engine"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

type houseRow struct {
	ID         uint64  `db:"id"`
	PosX       float64 `db:"pos_x"`
	PosY       float64 `db:"pos_y"`
	Quality    float64 `db:"quality"`
	CurseTicks uint64  `db:"curse_ticks"`
	BlessTicks uint64  `db:"bless_ticks"`
	Multiplier float64 `db:"multiplier"`
	Cooldown   uint64  `db:"cooldown"`
	Mansion    int     `db:"mansion"`
	KindsJSON  string  `db:"kinds_json"`
}

type blocRow struct {
	ID          uint64  `db:"id"`
	Strength    float64 `db:"strength"`
	Internal    float64 `db:"internal_trades"`
	External    float64 `db:"external_trades"`
	FormedTick  uint64  `db:"formed_tick"`
	Missed      int     `db:"missed"`
	MembersJSON string  `db:"members_json"`
	BeliefsJSON string  `db:"beliefs_json"`
}

type priceRow struct {
	Kind  string  `db:"kind"`
	Price float64 `db:"price"`
	Tick  uint64  `db:"tick"`
}

func (db *DB) metaJSON(key string, v any) error {
	raw, err := db.GetMeta(key)
	if err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	return nil
}

func (db *DB) metaUint(key string) (uint64, error) {
	raw, err := db.GetMeta(key)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return strconv.ParseUint(raw, 10, 64)
}

// LoadWorldState rebuilds the last saved snapshot.
func (db *DB) LoadWorldState() (engine.Snapshot, error) {
	var snap engine.Snapshot
	if !db.HasWorldState() {
		return snap, ErrNoWorld
	}

	var err error
	if snap.Tick, err = db.metaUint("last_tick"); err != nil {
		return snap, err
	}
	version, err := db.metaUint("version")
	if err != nil {
		return snap, err
	}
	snap.Version = int(version)
	if snap.EventSeq, err = db.metaUint("event_seq"); err != nil {
		return snap, err
	}
	if snap.NextCmd, err = db.metaUint("next_cmd"); err != nil {
		return snap, err
	}
	disc, err := db.GetMeta("discovery")
	if err != nil {
		return snap, fmt.Errorf("meta discovery: %w", err)
	}
	if snap.Economy.Discovery, err = strconv.ParseFloat(disc, 64); err != nil {
		return snap, fmt.Errorf("meta discovery: %w", err)
	}

	var size [2]float64
	for key, dst := range map[string]any{
		"config":     &snap.Config,
		"prices":     &snap.Economy.Prices,
		"possession": &snap.Possession,
		"stats":      &snap.Stats,
		"actions":    &snap.Actions,
		"map_size":   &size,
	} {
		if err := db.metaJSON(key, dst); err != nil {
			return snap, err
		}
	}
	snap.Width, snap.Height = size[0], size[1]

	if snap.Agents, err = db.loadAgents(); err != nil {
		return snap, fmt.Errorf("load agents: %w", err)
	}
	if snap.Houses, err = db.loadHouses(); err != nil {
		return snap, fmt.Errorf("load houses: %w", err)
	}
	if snap.Rumors, err = db.loadRumors(); err != nil {
		return snap, fmt.Errorf("load rumors: %w", err)
	}
	if snap.Blocs, err = db.loadBlocs(); err != nil {
		return snap, fmt.Errorf("load blocs: %w", err)
	}
	if snap.Economy.History, err = db.loadPrices(); err != nil {
		return snap, fmt.Errorf("load prices: %w", err)
	}
	return snap, nil
}

func (db *DB) loadAgents() ([]*agents.Agent, error) {
	var rows []string
	if err := db.conn.Select(&rows, "SELECT data_json FROM agents ORDER BY id"); err != nil {
		return nil, err
	}
	var out []*agents.Agent
	for _, raw := range rows {
		var a agents.Agent
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (db *DB) loadHouses() ([]*world.House, error) {
	var rows []houseRow
	if err := db.conn.Select(&rows, "SELECT * FROM houses ORDER BY id"); err != nil {
		return nil, err
	}
	var out []*world.House
	for _, r := range rows {
		h := &world.House{
			ID:         world.HouseID(r.ID),
			Pos:        world.Vec2{X: r.PosX, Y: r.PosY},
			Quality:    r.Quality,
			Mansion:    r.Mansion != 0,
			CurseTicks: r.CurseTicks,
			BlessTicks: r.BlessTicks,
			Multiplier: r.Multiplier,
			Cooldown:   r.Cooldown,
		}
		if err := json.Unmarshal([]byte(r.KindsJSON), &h.Kinds); err != nil {
			return nil, fmt.Errorf("house %d kinds: %w", r.ID, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (db *DB) loadRumors() ([]*rumor.Rumor, error) {
	var rows []string
	if err := db.conn.Select(&rows, "SELECT data_json FROM rumors ORDER BY id"); err != nil {
		return nil, err
	}
	var out []*rumor.Rumor
	for _, raw := range rows {
		var r rumor.Rumor
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

func (db *DB) loadBlocs() ([]*social.Bloc, error) {
	var rows []blocRow
	if err := db.conn.Select(&rows, "SELECT * FROM blocs ORDER BY id"); err != nil {
		return nil, err
	}
	var out []*social.Bloc
	for _, r := range rows {
		b := &social.Bloc{ID: r.ID, Strength: r.Strength, Internal: r.Internal, External: r.External, FormedTick: r.FormedTick, Missed: r.Missed}
		if err := json.Unmarshal([]byte(r.MembersJSON), &b.Members); err != nil {
			return nil, fmt.Errorf("bloc %d members: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.BeliefsJSON), &b.SharedBeliefs); err != nil {
			return nil, fmt.Errorf("bloc %d beliefs: %w", r.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (db *DB) loadPrices() ([]economy.PricePoint, error) {
	var rows []priceRow
	if err := db.conn.Select(&rows, "SELECT kind, price, tick FROM prices ORDER BY id"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var out []economy.PricePoint
	for _, r := range rows {
		k, err := candy.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, economy.PricePoint{Kind: k, Price: r.Price, Tick: r.Tick})
	}
	return out, nil
}
