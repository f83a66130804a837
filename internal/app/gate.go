package app

import (
	"sync"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
)

// Gate admits at most one in-flight flow per action. Different actions do
// not block each other.
type Gate struct {
	mu       sync.Mutex
	inFlight map[orchestrator.Action]struct{}
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{inFlight: make(map[orchestrator.Action]struct{})}
}

// Run executes fn unless a flow of the same action is running, in which case
// it returns domain.ErrFlowInProgress without calling fn.
func (g *Gate) Run(action orchestrator.Action, fn func() orchestrator.Flow) (orchestrator.Flow, error) {
	g.mu.Lock()
	if _, busy := g.inFlight[action]; busy {
		g.mu.Unlock()
		return orchestrator.Flow{}, domain.ErrFlowInProgress
	}
	g.inFlight[action] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, action)
		g.mu.Unlock()
	}()

	return fn(), nil
}

// Busy reports whether a flow of action is in flight.
func (g *Gate) Busy(action orchestrator.Action) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[action]
	return busy
}
