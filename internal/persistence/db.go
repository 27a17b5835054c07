// Package persistence provides SQLite-based storage for the save/load
// collaborator: snapshots split into agents, houses, rumors, blocs, price
// history and metadata, plus an append-only event table.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/engine"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

// ErrNoWorld is returned by LoadWorldState on an empty database.
var ErrNoWorld = errors.New("no saved world")

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		personality TEXT NOT NULL,
		mood TEXT NOT NULL,
		state INTEGER NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		bloc_id INTEGER,
		trade_count INTEGER NOT NULL,
		inventory_json TEXT NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS houses (
		id INTEGER PRIMARY KEY,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		quality REAL NOT NULL,
		curse_ticks INTEGER NOT NULL,
		bless_ticks INTEGER NOT NULL,
		multiplier REAL NOT NULL,
		cooldown INTEGER NOT NULL,
		mansion INTEGER NOT NULL,
		kinds_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rumors (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		believability REAL NOT NULL,
		origin INTEGER NOT NULL,
		age INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blocs (
		id INTEGER PRIMARY KEY,
		strength REAL NOT NULL,
		internal_trades REAL NOT NULL DEFAULT 0,
		external_trades REAL NOT NULL DEFAULT 0,
		formed_tick INTEGER NOT NULL,
		missed INTEGER NOT NULL,
		members_json TEXT NOT NULL,
		beliefs_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL UNIQUE,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL,
		meta_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_agents_bloc ON agents(bloc_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// WorldID returns the database's world id, minting one on first use.
func (db *DB) WorldID() (string, error) {
	id, err := db.GetMeta("world_id")
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id = uuid.NewString()
	if err := db.SaveMeta("world_id", id); err != nil {
		return "", err
	}
	return id, nil
}

// HasWorldState reports whether a snapshot has been saved.
func (db *DB) HasWorldState() bool {
	_, err := db.GetMeta("last_tick")
	return err == nil
}

func saveJSON(tx *sqlx.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", key, string(raw))
	return err
}

// SaveWorldState performs a full save of a snapshot in one transaction.
// Tables are fully replaced; events are appended by SaveEvents instead.
func (db *DB) SaveWorldState(snap engine.Snapshot) error {
	worldID, err := db.WorldID()
	if err != nil {
		return fmt.Errorf("world id: %w", err)
	}
	slog.Info("saving world state", "world", worldID, "tick", snap.Tick, "agents", len(snap.Agents), "rumors", len(snap.Rumors), "blocs", len(snap.Blocs))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveAgents(tx, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := saveHouses(tx, snap.Houses); err != nil {
		return fmt.Errorf("save houses: %w", err)
	}
	if err := saveRumors(tx, snap.Rumors); err != nil {
		return fmt.Errorf("save rumors: %w", err)
	}
	if err := saveBlocs(tx, snap.Blocs); err != nil {
		return fmt.Errorf("save blocs: %w", err)
	}
	if err := savePrices(tx, snap.Economy.History); err != nil {
		return fmt.Errorf("save prices: %w", err)
	}

	meta := map[string]any{
		"config":     snap.Config,
		"prices":     snap.Economy.Prices,
		"possession": snap.Possession,
		"stats":      snap.Stats,
		"actions":    snap.Actions,
		"map_size":   [2]float64{snap.Width, snap.Height},
	}
	for key, v := range meta {
		if err := saveJSON(tx, key, v); err != nil {
			return err
		}
	}
	scalars := map[string]string{
		"version":   strconv.Itoa(snap.Version),
		"discovery": strconv.FormatFloat(snap.Economy.Discovery, 'g', -1, 64),
		"event_seq": strconv.FormatUint(snap.EventSeq, 10),
		"next_cmd":  strconv.FormatUint(snap.NextCmd, 10),
		"last_tick": strconv.FormatUint(snap.Tick, 10),
	}
	for key, v := range scalars {
		if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", key, v); err != nil {
			return fmt.Errorf("save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("world state saved", "tick", snap.Tick)
	return nil
}

func saveAgents(tx *sqlx.Tx, list []*agents.Agent) error {
	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, name, personality, mood, state, pos_x, pos_y, bloc_id, trade_count, inventory_json, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range list {
		invJSON, err := json.Marshal(a.Inventory)
		if err != nil {
			return fmt.Errorf("agent %d inventory: %w", a.ID, err)
		}
		dataJSON, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("agent %d: %w", a.ID, err)
		}
		_, err = stmt.Exec(
			a.ID, a.Name, a.Personality.Kind.String(), a.Mood.String(), a.State,
			a.Position.X, a.Position.Y, a.BlocID, a.TradeCount,
			string(invJSON), string(dataJSON),
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}
	return nil
}

func saveHouses(tx *sqlx.Tx, list []*world.House) error {
	if _, err := tx.Exec("DELETE FROM houses"); err != nil {
		return err
	}
	for _, h := range list {
		kinds, err := json.Marshal(h.Kinds)
		if err != nil {
			return err
		}
		mansion := 0
		if h.Mansion {
			mansion = 1
		}
		_, err = tx.Exec(`INSERT INTO houses
			(id, pos_x, pos_y, quality, curse_ticks, bless_ticks, multiplier, cooldown, mansion, kinds_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.Pos.X, h.Pos.Y, h.Quality, h.CurseTicks, h.BlessTicks, h.Multiplier, h.Cooldown, mansion, string(kinds),
		)
		if err != nil {
			return fmt.Errorf("insert house %d: %w", h.ID, err)
		}
	}
	return nil
}

func saveRumors(tx *sqlx.Tx, list []*rumor.Rumor) error {
	if _, err := tx.Exec("DELETE FROM rumors"); err != nil {
		return err
	}
	for _, r := range list {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO rumors (id, kind, believability, origin, age, data_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.Kind.String(), r.Believability, r.Origin, r.Age, string(data),
		)
		if err != nil {
			return fmt.Errorf("insert rumor %d: %w", r.ID, err)
		}
	}
	return nil
}

func saveBlocs(tx *sqlx.Tx, list []*social.Bloc) error {
	if _, err := tx.Exec("DELETE FROM blocs"); err != nil {
		return err
	}
	for _, b := range list {
		members, err := json.Marshal(b.Members)
		if err != nil {
			return err
		}
		beliefs, err := json.Marshal(b.SharedBeliefs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO blocs (id, strength, internal_trades, external_trades, formed_tick, missed, members_json, beliefs_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Strength, b.Internal, b.External, b.FormedTick, b.Missed, string(members), string(beliefs),
		)
		if err != nil {
			return fmt.Errorf("insert bloc %d: %w", b.ID, err)
		}
	}
	return nil
}

func savePrices(tx *sqlx.Tx, history []economy.PricePoint) error {
	if _, err := tx.Exec("DELETE FROM prices"); err != nil {
		return err
	}
	for _, p := range history {
		if _, err := tx.Exec("INSERT INTO prices (kind, price, tick) VALUES (?, ?, ?)", p.Kind.String(), p.Price, p.Tick); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvents appends events; events already stored are skipped.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("event %d meta: %w", e.Seq, err)
		}
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO events (seq, tick, kind, description, meta_json) VALUES (?, ?, ?, ?, ?)",
			e.Seq, e.Tick, string(e.Kind), e.Description, string(meta),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type eventRow struct {
	Seq         uint64 `db:"seq"`
	Tick        uint64 `db:"tick"`
	Kind        string `db:"kind"`
	Description string `db:"description"`
	MetaJSON    string `db:"meta_json"`
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT seq, tick, kind, description, meta_json FROM events ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		e := engine.Event{Seq: r.Seq, Tick: r.Tick, Kind: engine.EventKind(r.Kind), Description: r.Description}
		if r.MetaJSON != "" && r.MetaJSON != "null" {
			if err := json.Unmarshal([]byte(r.MetaJSON), &e.Meta); err != nil {
				return nil, fmt.Errorf("event %d meta: %w", r.Seq, err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}
