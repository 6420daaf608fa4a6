package fabric

import (
	"fmt"
	"sync"

	"github.com/roach88/runctl/internal/wire"
)

// Agent is one downstream subsystem. It needs Latency cycles after a
// dispatch signal is first offered before it asserts ready.
type Agent struct {
	Name    string
	Latency int

	state     wire.AgentState
	countdown int
	arming    bool
}

// State returns the agent's current run-lifecycle state.
func (a *Agent) State() wire.AgentState { return a.state }

// AgentGroup aggregates the ready lines of its agents. A dispatch signal is
// accepted in the cycle every agent is ready, and only then do the agents
// enter the target state.
//
// Offer is called from the engine goroutine; the accessors may be called
// from any goroutine.
type AgentGroup struct {
	mu          sync.Mutex
	agents      []*Agent
	transitions []Transition
	offers      int
}

// Transition records one accepted dispatch.
type Transition struct {
	Signal wire.DispatchSignal `json:"signal"`
	State  wire.AgentState     `json:"state"`
	Offers int                 `json:"offers"`
}

// NewAgentGroup creates n agents, all with the same latency.
func NewAgentGroup(n, latency int) *AgentGroup {
	latencies := make([]int, n)
	for i := range latencies {
		latencies[i] = latency
	}
	return NewAgentGroupWithLatencies(latencies...)
}

// NewAgentGroupWithLatencies creates one agent per latency value.
func NewAgentGroupWithLatencies(latencies ...int) *AgentGroup {
	g := &AgentGroup{}
	for i, l := range latencies {
		if l < 0 {
			l = 0
		}
		g.agents = append(g.agents, &Agent{Name: fmt.Sprintf("agent-%d", i), Latency: l})
	}
	return g
}

// Offer implements engine.DispatchPort.
func (g *AgentGroup) Offer(sig wire.DispatchSignal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, ok := sig.State()
	if !ok {
		target = wire.AgentIdle
	}

	g.offers++
	ready := true
	for _, a := range g.agents {
		if !a.arming {
			a.arming = true
			a.countdown = a.Latency
		}
		if a.countdown > 0 {
			a.countdown--
			ready = false
		}
	}
	if !ready {
		return false
	}

	for _, a := range g.agents {
		a.arming = false
		a.state = target
	}
	g.transitions = append(g.transitions, Transition{Signal: sig, State: target, Offers: g.offers})
	g.offers = 0
	return true
}

// Withdraw implements engine.Withdrawer. The pending offer is forgotten
// and the agents start their latency again on the next one.
func (g *AgentGroup) Withdraw() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.agents {
		a.arming = false
		a.countdown = 0
	}
	g.offers = 0
}

// States returns every agent's current state, in creation order.
func (g *AgentGroup) States() []wire.AgentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]wire.AgentState, len(g.agents))
	for i, a := range g.agents {
		out[i] = a.state
	}
	return out
}

// Transitions returns the accepted dispatches so far.
func (g *AgentGroup) Transitions() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Transition(nil), g.transitions...)
}

// Len returns the number of agents.
func (g *AgentGroup) Len() int { return len(g.agents) }
