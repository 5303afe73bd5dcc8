package trading

import (
	"testing"
)

func newTestPermission(keysLoaded bool) (*Permission, *[]TradeIntent) {
	var approved []TradeIntent
	p := NewPermission("demo", true, func(env string) bool { return keysLoaded }, nil, nil)
	p.SetOnApproved(func(intent TradeIntent, env string) {
		approved = append(approved, intent)
	})
	return p, &approved
}

func testIntent() TradeIntent {
	return NewIntent("agent-1", "AgentPrime", "BTC-X", ActionBuy, SideYes, 42, 10, 0.7)
}

func TestSubmitPassesAllGates(t *testing.T) {
	p, approved := newTestPermission(true)
	p.SetAgentMode("agent-1", ModeAuto)

	p.Submit(testIntent())

	if len(*approved) != 1 {
		t.Fatalf("approved %d intents, want 1", len(*approved))
	}
}

func TestSubmitBlockedByGlobalFlag(t *testing.T) {
	p, approved := newTestPermission(true)
	p.SetAgentMode("agent-1", ModeAuto)
	p.SetGlobalEnabled(false)

	p.Submit(testIntent())

	if len(*approved) != 0 {
		t.Error("intent passed with global trading disabled")
	}
}

func TestSubmitBlockedWithoutCredentials(t *testing.T) {
	p, approved := newTestPermission(false)
	p.SetAgentMode("agent-1", ModeAuto)

	p.Submit(testIntent())

	if len(*approved) != 0 {
		t.Error("intent passed without credentials loaded")
	}
}

func TestSubmitBlockedByAgentMode(t *testing.T) {
	for _, mode := range []string{ModeSemiAuto, ModeFullStop} {
		p, approved := newTestPermission(true)
		p.SetAgentMode("agent-1", mode)

		p.Submit(testIntent())

		if len(*approved) != 0 {
			t.Errorf("intent passed with mode %s", mode)
		}
	}
}

func TestSubmitBlockedForUnknownAgent(t *testing.T) {
	p, approved := newTestPermission(true)

	p.Submit(testIntent())

	if len(*approved) != 0 {
		t.Error("intent from unregistered agent passed")
	}
}

func TestAgentModeDefaultsToFullStop(t *testing.T) {
	p, _ := newTestPermission(true)
	if got := p.AgentMode("unknown"); got != ModeFullStop {
		t.Errorf("AgentMode(unknown) = %q, want FullStop", got)
	}
}
