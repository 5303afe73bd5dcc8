// Package agent runs trading strategies over the market cache. Each
// agent is an independent task woken by the cache update notifier;
// strategies emit trade intents through the permission layer and never
// call the exchange directly.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/store"
	"github.com/pollypredict/trader/internal/trading"
)

// Lifecycle states.
const (
	StateInitializing = "INITIALIZING"
	StateActive       = "ACTIVE"
	StateIdle         = "IDLE"
	StatePaused       = "PAUSED"
	StateError        = "ERROR"
	StateStopped      = "STOPPED"
)

const (
	// heartbeatTimeout bounds how long an agent sleeps when no market
	// update arrives.
	heartbeatTimeout = 60 * time.Second

	// errorBackoff is the pause after a strategy failure before the
	// agent resumes.
	errorBackoff = 5 * time.Second
)

// Strategy is the per-agent trading logic, invoked once per coalesced
// batch of cache updates.
type Strategy interface {
	Name() string
	OnMarketUpdate(ctx context.Context, env *Env) error
}

// Env is what a strategy sees: the market cache, the submit endpoint and
// an event publisher, pre-bound to the owning agent's identity.
type Env struct {
	AgentID   string
	AgentName string
	Cache     *cache.Cache
	Submit    func(trading.TradeIntent)
	Publish   func(eventType string, fields map[string]any)
}

// Agent wraps one strategy in the lifecycle state machine.
type Agent struct {
	id         string
	strategy   Strategy
	cache      *cache.Cache
	permission *trading.Permission
	store      store.Store
	hub        *events.Hub
	logger     *slog.Logger

	mu      sync.Mutex
	state   string
	enabled bool
	resumed chan struct{} // closed while not paused
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an agent in INITIALIZING state, registered with the
// permission layer in FullStop mode.
func New(strategy Strategy, c *cache.Cache, permission *trading.Permission, st store.Store, hub *events.Hub, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.Null{}
	}

	resumed := make(chan struct{})
	close(resumed)

	a := &Agent{
		id:         uuid.NewString(),
		strategy:   strategy,
		cache:      c,
		permission: permission,
		store:      st,
		hub:        hub,
		logger:     logger.With("component", "agent", "agent", strategy.Name()),
		state:      StateInitializing,
		enabled:    true,
		resumed:    resumed,
	}
	if permission != nil {
		permission.SetAgentMode(a.id, trading.ModeFullStop)
	}
	return a
}

// ID returns the agent's identity used on intents.
func (a *Agent) ID() string { return a.id }

// Name returns the strategy name.
func (a *Agent) Name() string { return a.strategy.Name() }

// State returns the current lifecycle state.
func (a *Agent) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Enabled reports whether the agent evaluates its strategy on wake.
func (a *Agent) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Mode returns the agent's submission mode from the permission layer.
func (a *Agent) Mode() string {
	if a.permission == nil {
		return trading.ModeFullStop
	}
	return a.permission.AgentMode(a.id)
}

// SetMode updates the agent's submission mode.
func (a *Agent) SetMode(mode string) error {
	switch mode {
	case trading.ModeAuto, trading.ModeSemiAuto, trading.ModeFullStop:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if a.permission != nil {
		a.permission.SetAgentMode(a.id, mode)
	}
	a.logger.Info("mode changed", "mode", mode)
	a.persistState()
	return nil
}

// Enable lets the strategy run on the next wake.
func (a *Agent) Enable() {
	a.mu.Lock()
	a.enabled = true
	a.mu.Unlock()
	a.logger.Info("enabled")
	a.persistState()
}

// Disable parks the agent in IDLE without stopping its task.
func (a *Agent) Disable() {
	a.mu.Lock()
	a.enabled = false
	a.mu.Unlock()
	a.logger.Info("disabled")
	a.persistState()
}

// Pause gates the run loop. The gate survives wakeups: a paused agent
// consumes notifications but evaluates nothing until resumed.
func (a *Agent) Pause() {
	a.mu.Lock()
	select {
	case <-a.resumed:
		a.resumed = make(chan struct{})
	default:
	}
	a.mu.Unlock()
	a.setState(StatePaused)
}

// Resume opens the pause gate.
func (a *Agent) Resume() {
	a.mu.Lock()
	select {
	case <-a.resumed:
	default:
		close(a.resumed)
	}
	a.mu.Unlock()
	a.setState(StateIdle)
}

// Start launches the run loop. Idempotent while running.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.run(runCtx)
	}()
	a.logger.Info("started")
}

// Stop cancels the run loop and waits for it to exit.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.setState(StateStopped)
	a.logger.Info("stopped")
}

func (a *Agent) run(ctx context.Context) {
	updates, unsubscribe := a.cache.Updates()
	defer unsubscribe()

	a.setState(StateIdle)

	timer := time.NewTimer(heartbeatTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(heartbeatTimeout)

		woke := false
		select {
		case <-ctx.Done():
			return
		case <-updates:
			woke = true
		case <-timer.C:
		}

		// Pause is a gate, not a state lost on wake.
		a.mu.Lock()
		resumed := a.resumed
		a.mu.Unlock()
		select {
		case <-resumed:
		default:
			select {
			case <-resumed:
			case <-ctx.Done():
				return
			}
			a.setState(StateIdle)
		}

		if !a.Enabled() {
			a.setState(StateIdle)
			continue
		}
		if !woke {
			a.setState(StateIdle)
			continue
		}

		a.setState(StateActive)
		if err := a.evaluate(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.setState(StateError)
			a.logger.Error("strategy failed", "error", err)
			a.publish("agent_error", map[string]any{"error": err.Error()})
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
				return
			}
			a.setState(StateActive)
		}
	}
}

// evaluate invokes the strategy, converting panics into errors so one
// bad evaluation never kills the task.
func (a *Agent) evaluate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	env := &Env{
		AgentID:   a.id,
		AgentName: a.Name(),
		Cache:     a.cache,
		Submit:    a.submit,
		Publish:   a.publish,
	}
	return a.strategy.OnMarketUpdate(ctx, env)
}

func (a *Agent) submit(intent trading.TradeIntent) {
	if a.permission != nil {
		a.permission.Submit(intent)
	}
}

func (a *Agent) setState(state string) {
	a.mu.Lock()
	if a.state == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	a.mu.Unlock()

	a.publish("agent_state_change", map[string]any{"lifecycle_state": state})
	a.persistState()
}

func (a *Agent) publish(eventType string, fields map[string]any) {
	if a.hub == nil {
		return
	}
	fields["agent_id"] = a.id
	fields["agent_name"] = a.Name()
	a.hub.Publish(events.New(eventType, fields))
}

func (a *Agent) persistState() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.store.SaveAgentState(ctx, a.envTag(), store.AgentStateRow{
		AgentID: a.id,
		Name:    a.Name(),
		State:   a.State(),
		Mode:    a.Mode(),
		Enabled: a.Enabled(),
	})
}

func (a *Agent) envTag() string {
	if a.permission != nil {
		return a.permission.ActiveEnvironment()
	}
	return "demo"
}
