package agent

import (
	"context"
	"fmt"
	"sync"
)

// Manager holds the registered agents by name and drives bulk lifecycle
// operations.
type Manager struct {
	mu     sync.Mutex
	agents map[string]*Agent
	order  []string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{agents: make(map[string]*Agent)}
}

// Register adds an agent. Names must be unique.
func (m *Manager) Register(a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.agents[a.Name()]; dup {
		return fmt.Errorf("agent %q already registered", a.Name())
	}
	m.agents[a.Name()] = a
	m.order = append(m.order, a.Name())
	return nil
}

// Get looks up an agent by name.
func (m *Manager) Get(name string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[name]
	return a, ok
}

// All returns the agents in registration order.
func (m *Manager) All() []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Agent, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.agents[name])
	}
	return out
}

// StartAll launches every registered agent.
func (m *Manager) StartAll(ctx context.Context) {
	for _, a := range m.All() {
		a.Start(ctx)
	}
}

// StopAll stops every agent, waiting for each run loop to exit.
func (m *Manager) StopAll() {
	for _, a := range m.All() {
		a.Stop()
	}
}
