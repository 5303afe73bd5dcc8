package trading

import (
	"log/slog"
	"sync"

	"github.com/pollypredict/trader/internal/events"
)

// ApprovedFunc receives intents that passed every gate, together with
// the environment they were approved for.
type ApprovedFunc func(intent TradeIntent, env string)

// Permission is the gate between agents and the execution engine. An
// intent is forwarded only when global trading is enabled, credentials
// are loaded for the active environment, and the originating agent is in
// Auto mode. Failing intents are dropped silently; agents never see an
// error path.
type Permission struct {
	logger *slog.Logger
	hub    *events.Hub

	mu            sync.Mutex
	globalEnabled bool
	activeEnv     string
	modes         map[string]string
	keysLoaded    func(env string) bool
	onApproved    ApprovedFunc
}

// NewPermission creates the permission layer. keysLoaded reports whether
// signing credentials are present for an environment.
func NewPermission(activeEnv string, globalEnabled bool, keysLoaded func(env string) bool, hub *events.Hub, logger *slog.Logger) *Permission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Permission{
		logger:        logger.With("component", "permission"),
		hub:           hub,
		globalEnabled: globalEnabled,
		activeEnv:     activeEnv,
		modes:         make(map[string]string),
		keysLoaded:    keysLoaded,
	}
}

// SetOnApproved registers the downstream callback. Must be called before
// agents start submitting.
func (p *Permission) SetOnApproved(fn ApprovedFunc) {
	p.mu.Lock()
	p.onApproved = fn
	p.mu.Unlock()
}

// SetGlobalEnabled flips the process-wide trading switch.
func (p *Permission) SetGlobalEnabled(enabled bool) {
	p.mu.Lock()
	p.globalEnabled = enabled
	p.mu.Unlock()
	p.logger.Info("global trading flag changed", "enabled", enabled)
	if p.hub != nil {
		p.hub.Publish(events.New("global_trading_change", map[string]any{"enabled": enabled}))
	}
}

// GlobalEnabled reports the process-wide trading switch.
func (p *Permission) GlobalEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalEnabled
}

// SetActiveEnvironment switches which environment approved intents are
// routed to.
func (p *Permission) SetActiveEnvironment(env string) {
	p.mu.Lock()
	p.activeEnv = env
	p.mu.Unlock()
	p.logger.Info("active environment changed", "env", env)
}

// ActiveEnvironment returns the environment intents are routed to.
func (p *Permission) ActiveEnvironment() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeEnv
}

// SetAgentMode records an agent's submission mode.
func (p *Permission) SetAgentMode(agentID, mode string) {
	p.mu.Lock()
	p.modes[agentID] = mode
	p.mu.Unlock()
}

// AgentMode returns an agent's mode, defaulting to FullStop for agents
// that were never registered.
func (p *Permission) AgentMode(agentID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode, ok := p.modes[agentID]; ok {
		return mode
	}
	return ModeFullStop
}

// Submit runs the intent through the gates and forwards it on pass.
func (p *Permission) Submit(intent TradeIntent) {
	p.mu.Lock()
	enabled := p.globalEnabled
	env := p.activeEnv
	mode, knownAgent := p.modes[intent.AgentID]
	fn := p.onApproved
	keysLoaded := p.keysLoaded
	p.mu.Unlock()

	if !enabled {
		p.drop(intent, "global trading disabled")
		return
	}
	if keysLoaded == nil || !keysLoaded(env) {
		p.drop(intent, "credentials not loaded")
		return
	}
	if !knownAgent || mode != ModeAuto {
		p.drop(intent, "agent not in Auto mode")
		return
	}
	if fn == nil {
		p.drop(intent, "no downstream registered")
		return
	}
	fn(intent, env)
}

func (p *Permission) drop(intent TradeIntent, reason string) {
	p.logger.Info("intent rejected",
		"agent", intent.AgentName,
		"ticker", intent.MarketTicker,
		"client_order_id", intent.ClientOrderID,
		"reason", reason)
	if p.hub != nil {
		p.hub.Publish(events.New("intent_rejected", map[string]any{
			"agent_id":        intent.AgentID,
			"client_order_id": intent.ClientOrderID,
			"reason":          reason,
		}))
	}
}
