// Package control exposes the local HTTP surface: lifecycle commands
// for agents and trading, credential management, state queries, and the
// Server-Sent-Events feed. It binds to loopback; there is no auth layer.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pollypredict/trader/internal/agent"
	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/stream"
	"github.com/pollypredict/trader/internal/trading"
)

// Server is the control API server.
type Server struct {
	manager    *agent.Manager
	permission *trading.Permission
	engines    map[string]*trading.Engine
	clients    map[string]*api.Client
	streams    map[string]*stream.Client
	cache      *cache.Cache
	hub        *events.Hub
	loadCreds  CredentialsLoader
	logger     *slog.Logger

	httpSrv *http.Server
}

// CredentialsLoader installs credentials for an environment on every
// component that signs, or removes them when keyID is empty.
type CredentialsLoader func(env, keyID, privateKeyPath string) error

// Deps bundles the components the server fronts.
type Deps struct {
	Manager    *agent.Manager
	Permission *trading.Permission
	Engines    map[string]*trading.Engine
	Clients    map[string]*api.Client
	Streams    map[string]*stream.Client
	Cache      *cache.Cache
	Hub        *events.Hub
	LoadCreds  CredentialsLoader
}

// NewServer builds the server and its route table.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:    deps.Manager,
		permission: deps.Permission,
		engines:    deps.Engines,
		clients:    deps.Clients,
		streams:    deps.Streams,
		cache:      deps.Cache,
		hub:        deps.Hub,
		loadCreds:  deps.LoadCreds,
		logger:     logger.With("component", "control"),
	}
	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/control/agents/{name}/start", s.agentCommand(cmdStart)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/stop", s.agentCommand(cmdStop)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/pause", s.agentCommand(cmdPause)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/resume", s.agentCommand(cmdResume)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/enable", s.agentCommand(cmdEnable)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/disable", s.agentCommand(cmdDisable)).Methods("POST")
	r.HandleFunc("/control/agents/{name}/mode", s.handleSetMode).Methods("POST")

	r.HandleFunc("/control/trading/enable", s.handleTrading(true)).Methods("POST")
	r.HandleFunc("/control/trading/disable", s.handleTrading(false)).Methods("POST")
	r.HandleFunc("/control/environment", s.handleEnvironment).Methods("POST")
	r.HandleFunc("/control/credentials/{env}", s.handleLoadCredentials).Methods("POST")
	r.HandleFunc("/control/credentials/{env}", s.handleUnloadCredentials).Methods("DELETE")

	r.HandleFunc("/state/agents", s.handleAgents).Methods("GET")
	r.HandleFunc("/state/orders", s.handleOrders).Methods("GET")
	r.HandleFunc("/state/positions", s.handlePositions).Methods("GET")
	r.HandleFunc("/state/markets", s.handleMarkets).Methods("GET")
	r.HandleFunc("/state/balance", s.handleBalance).Methods("GET")
	r.HandleFunc("/state/fills", s.handleFills).Methods("GET")
	r.HandleFunc("/state/system", s.handleSystem).Methods("GET")

	r.HandleFunc("/events", s.handleEvents).Methods("GET")

	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind control api: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control api serve failed", "error", err)
		}
	}()
	s.logger.Info("control api listening", "addr", addr)
	return nil
}

// Shutdown stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
