package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/trading"
)

type agentCmd int

const (
	cmdStart agentCmd = iota
	cmdStop
	cmdPause
	cmdResume
	cmdEnable
	cmdDisable
)

func (s *Server) agentCommand(cmd agentCmd) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		a, ok := s.manager.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown agent "+name)
			return
		}

		switch cmd {
		case cmdStart:
			a.Start(context.Background())
		case cmdStop:
			a.Stop()
		case cmdPause:
			a.Pause()
		case cmdResume:
			a.Resume()
		case cmdEnable:
			a.Enable()
		case cmdDisable:
			a.Disable()
		}
		writeJSON(w, http.StatusOK, agentView(a))
	}
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	a, ok := s.manager.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent "+name)
		return
	}

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := a.SetMode(body.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentView(a))
}

func (s *Server) handleTrading(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.permission.SetGlobalEnabled(enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"global_trading_enabled": enabled})
	}
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Env string `json:"env"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if _, ok := s.engines[body.Env]; !ok {
		writeError(w, http.StatusBadRequest, "unknown environment "+body.Env)
		return
	}
	s.permission.SetActiveEnvironment(body.Env)
	writeJSON(w, http.StatusOK, map[string]string{"active_environment": body.Env})
}

func (s *Server) handleLoadCredentials(w http.ResponseWriter, r *http.Request) {
	env := mux.Vars(r)["env"]
	if _, ok := s.clients[env]; !ok {
		writeError(w, http.StatusNotFound, "unknown environment "+env)
		return
	}

	var body struct {
		APIKey         string `json:"api_key"`
		PrivateKeyPath string `json:"private_key_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.APIKey == "" || body.PrivateKeyPath == "" {
		writeError(w, http.StatusBadRequest, "api_key and private_key_path required")
		return
	}

	if err := s.loadCreds(env, body.APIKey, body.PrivateKeyPath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"env": env, "configured": true})
}

func (s *Server) handleUnloadCredentials(w http.ResponseWriter, r *http.Request) {
	env := mux.Vars(r)["env"]
	if _, ok := s.clients[env]; !ok {
		writeError(w, http.StatusNotFound, "unknown environment "+env)
		return
	}
	if err := s.loadCreds(env, "", ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"env": env, "configured": false})
}

func agentView(a interface {
	ID() string
	Name() string
	State() string
	Mode() string
	Enabled() bool
}) map[string]any {
	return map[string]any{
		"agent_id":        a.ID(),
		"name":            a.Name(),
		"lifecycle_state": a.State(),
		"mode":            a.Mode(),
		"enabled":         a.Enabled(),
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.manager.All()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]trading.Order, len(s.engines))
	for env, engine := range s.engines {
		out[env] = engine.OpenOrders()
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]trading.Position, len(s.engines))
	for env, engine := range s.engines {
		out[env] = engine.Positions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	snapshot := s.cache.Snapshot()
	markets := make([]cache.MarketState, 0, len(snapshot))
	for _, state := range snapshot {
		if status != "" && state.Status != status {
			continue
		}
		markets = append(markets, state)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
	if len(markets) > limit {
		markets = markets[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(snapshot),
		"markets": markets,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	env := s.permission.ActiveEnvironment()
	client, ok := s.clients[env]
	if !ok {
		writeError(w, http.StatusInternalServerError, "no client for "+env)
		return
	}
	balance, err := client.GetBalance(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"env": env, "balance": balance})
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	env := s.permission.ActiveEnvironment()
	client, ok := s.clients[env]
	if !ok {
		writeError(w, http.StatusInternalServerError, "no client for "+env)
		return
	}
	fills, err := client.GetFills(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"env": env, "fills": fills})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	streams := make(map[string]any, len(s.streams))
	for env, c := range s.streams {
		streams[env] = map[string]any{
			"connected":     c.IsConnected(),
			"subscriptions": c.SubscriptionCount(),
		}
	}
	engines := make(map[string]any, len(s.engines))
	for env, e := range s.engines {
		engines[env] = map[string]any{
			"halted":      e.Halted(),
			"open_orders": len(e.OpenOrders()),
		}
	}
	configured := make(map[string]bool, len(s.clients))
	for env, c := range s.clients {
		configured[env] = c.IsConfigured()
	}

	// Best effort: an unreachable exchange must not break the system view.
	var exchange any
	activeEnv := s.permission.ActiveEnvironment()
	if client, ok := s.clients[activeEnv]; ok && client.IsConfigured() {
		if status, err := client.GetExchangeStatus(r.Context()); err == nil {
			exchange = status
		} else {
			exchange = map[string]string{"error": err.Error()}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_environment":     activeEnv,
		"global_trading_enabled": s.permission.GlobalEnabled(),
		"cached_markets":         s.cache.Size(),
		"credentials":            configured,
		"streams":                streams,
		"engines":                engines,
		"exchange":               exchange,
		"event_subscribers":      s.hub.SubscriberCount(),
	})
}
