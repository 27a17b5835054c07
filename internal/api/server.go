// Package api provides the HTTP API for observing and steering the market.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/engine"
	"github.com/talgya/candy-cartel/internal/persistence"
	"github.com/talgya/candy-cartel/internal/snapshot"
)

// keepSnapshots is how many snapshot files survive a manual snapshot.
const keepSnapshots = 10

// Server serves the world state over HTTP.
type Server struct {
	World     *engine.World
	DB        *persistence.DB // Optional; snapshot endpoint saves here when set
	Hub       *Hub            // Optional; stream endpoint is disabled when nil
	SnapDir   string          // Optional; snapshot endpoint writes a .json.zst here when set
	WorldID   string
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	StreamKey string // Token for the stream endpoint. Empty = open.

	upgrader websocket.Upgrader
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	commandLimiter := NewRateLimiter(120, time.Minute)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/economy", s.handleEconomy)
	mux.HandleFunc("/api/v1/blocs", s.handleBlocs)
	mux.HandleFunc("/api/v1/rumors", s.handleRumors)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/houses", s.handleHouses)
	mux.HandleFunc("/api/v1/combos", s.handleCombos)
	mux.HandleFunc("/api/v1/command/", s.handleCommandResult)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Control endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/command", RateLimitMiddleware(commandLimiter, s.adminOnly(s.handleCommand)))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "stream", s.Hub != nil)

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "control endpoints disabled (no CANDYSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	eng := s.World.Engine()
	eco := s.World.Economy()
	status := map[string]any{
		"name":       "Candy Cartel",
		"world_id":   s.WorldID,
		"tick":       s.World.Tick(),
		"speed":      eng.Speed(),
		"running":    eng.Running(),
		"agents":     len(s.World.Agents()),
		"blocs":      len(s.World.Blocs()),
		"rumors":     len(s.World.Rumors()),
		"phase":      eco.Phase,
		"discovery":  eco.Discovery,
		"possession": s.World.Possession(),
		"stats":      s.World.Stats(),
	}
	if s.Hub != nil {
		status["stream_clients"] = s.Hub.Clients()
	}
	writeJSON(w, status)
}

type agentSummary struct {
	ID          agents.AgentID         `json:"id"`
	Name        string                 `json:"name"`
	Personality agents.PersonalityKind `json:"personality"`
	Mood        string                 `json:"mood"`
	State       string                 `json:"state"`
	X           float64                `json:"x"`
	Y           float64                `json:"y"`
	Candy       int                    `json:"candy"`
	BlocID      *uint64                `json:"bloc_id,omitempty"`
	Debts       int                    `json:"debts"`
	Trades      int                    `json:"trades"`
	Possessed   bool                   `json:"possessed,omitempty"`
}

// handleAgents lists agent summaries. Optional filters: mood, personality.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	mood, byMood := agents.MoodNeutral, false
	if name := r.URL.Query().Get("mood"); name != "" {
		if mood, byMood = agents.ParseMood(strings.ToUpper(name)); !byMood {
			http.Error(w, "unknown mood", http.StatusBadRequest)
			return
		}
	}
	personality := r.URL.Query().Get("personality")

	list := s.World.Agents()
	out := make([]agentSummary, 0, len(list))
	for _, a := range list {
		if byMood && a.Mood != mood {
			continue
		}
		if personality != "" && !strings.EqualFold(a.Personality.Kind.String(), personality) {
			continue
		}
		out = append(out, agentSummary{
			ID:          a.ID,
			Name:        a.Name,
			Personality: a.Personality.Kind,
			Mood:        a.Mood.String(),
			State:       a.State.String(),
			X:           a.Position.X,
			Y:           a.Position.Y,
			Candy:       a.Inventory.Total(),
			BlocID:      a.BlocID,
			Debts:       len(a.Debts),
			Trades:      a.TradeCount,
			Possessed:   a.Possessed,
		})
	}
	writeJSON(w, out)
}

// handleAgentDetail serves GET /api/v1/agent/{id}.
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/agent/")
	if !ok {
		return
	}
	a, found := s.World.Agent(agents.AgentID(id))
	if !found {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	cfg := s.World.Config()
	writeJSON(w, map[string]any{
		"agent":       a,
		"mood":        a.Mood.String(),
		"state":       a.State.String(),
		"real_value":  s.World.Worth(a),
		"avg_profit":  agents.AverageProfit(a),
		"goal_urgent": a.Goal.Urgent(s.World.Tick(), cfg.Behavior.GoalUrgentAfter),
	})
}

func (s *Server) handleEconomy(w http.ResponseWriter, r *http.Request) {
	view := s.World.Economy()
	names := make(map[string]float64, candy.NumKinds)
	for _, k := range candy.AllKinds() {
		names[k.String()] = view.Prices[k]
	}

	limit := queryInt(r, "history", 50, 500)
	history := s.World.PriceHistory()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	writeJSON(w, map[string]any{
		"summary": view,
		"prices":  names,
		"history": history,
	})
}

func (s *Server) handleBlocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Blocs())
}

func (s *Server) handleRumors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Rumors())
}

func (s *Server) handleHouses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Houses())
}

// handleEvents returns buffered events. ?since=<seq> returns only newer
// events; ?limit caps the tail.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}
	limit := queryInt(r, "limit", 50, 500)

	events := s.World.EventsSince(since)
	if s.DB != nil && (len(events) == 0 || events[0].Seq > since+1) {
		events = s.storedEvents(events, since, limit)
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		var filtered []engine.Event
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

// storedEvents prepends persisted events the in-memory buffer no longer
// holds, such as history from before a restart.
func (s *Server) storedEvents(live []engine.Event, since uint64, limit int) []engine.Event {
	stored, err := s.DB.RecentEvents(limit + len(live))
	if err != nil {
		slog.Warn("event history read failed", "error", err)
		return live
	}
	var out []engine.Event
	for i := len(stored) - 1; i >= 0; i-- {
		e := stored[i]
		if e.Seq <= since || (len(live) > 0 && e.Seq >= live[0].Seq) {
			continue
		}
		out = append(out, e)
	}
	return append(out, live...)
}

func (s *Server) handleCombos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.ComboDefinitions())
}

// handleCommand serves POST /api/v1/command. The body is a Command; the
// response carries the id to poll.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd engine.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch cmd.Kind {
	case engine.CmdPossess, engine.CmdIssue, engine.CmdRelease, engine.CmdSupplyPower:
	default:
		http.Error(w, "unknown command kind (use: possess, issue_command, release, apply_supply_power)", http.StatusBadRequest)
		return
	}
	cmd.ID = 0
	id := s.World.Enqueue(cmd)
	slog.Info("command queued", "id", id, "kind", cmd.Kind, "action", cmd.Action)

	w.Header().Set("Location", fmt.Sprintf("/api/v1/command/%d", id))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"id": id, "status": engine.StatusPending})
}

// handleCommandResult serves GET /api/v1/command/{id}.
func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/command/")
	if !ok {
		return
	}
	res, found := s.World.Result(id)
	if !found {
		http.Error(w, "command not found", http.StatusNotFound)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	eng := s.World.Engine()
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": eng.Speed()})
}

// handleSnapshot saves the current world to the database and, when a
// snapshot directory is configured, to a compressed file.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil && s.SnapDir == "" {
		http.Error(w, "no snapshot target configured", http.StatusServiceUnavailable)
		return
	}

	snap, err := s.World.Snapshot()
	if err != nil {
		slog.Error("snapshot capture failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"tick": snap.Tick, "message": "snapshot saved"}
	if s.DB != nil {
		if err := s.DB.SaveWorldState(snap); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
	}
	if s.SnapDir != "" {
		if err := os.MkdirAll(s.SnapDir, 0o755); err != nil {
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		path := snapshot.PathFor(s.SnapDir, snap.Tick)
		if err := snapshot.Write(path, s.WorldID, snap); err != nil {
			slog.Error("snapshot file write failed", "path", path, "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		if err := snapshot.Prune(s.SnapDir, keepSnapshots); err != nil {
			slog.Warn("snapshot prune failed", "error", err)
		}
		resp["file"] = path
	}
	writeJSON(w, resp)
}

// handleStream upgrades to a websocket and pushes events as JSON text
// frames. ?since=<seq> replays buffered events first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "streaming disabled", http.StatusForbidden)
		return
	}
	if s.StreamKey != "" {
		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token != s.StreamKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	id, ch, ok := s.Hub.join()
	if !ok {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	// Catch-up is read after joining so nothing falls between the two.
	var catchUp []engine.Event
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			catchUp = s.World.EventsSince(n)
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Hub.leave(id)
		return
	}
	slog.Info("stream client connected", "client", id, "catch_up", len(catchUp))
	s.Hub.serve(conn, catchUp, id, ch)
}

// pathID parses the trailing numeric id of a detail route.
func pathID(w http.ResponseWriter, r *http.Request, prefix string) (uint64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	id, err := strconv.ParseUint(strings.Trim(raw, "/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, limit int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= limit {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
