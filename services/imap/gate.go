package imap

import (
	"sync"

	"github.com/customeros/mailpulse/dto"
)

// syncGate serializes sync runs for one account. A trigger that arrives
// while a run is in flight marks the gate dirty instead of starting a second
// run; the dirty flag buys exactly one more run.
type syncGate struct {
	mu       sync.Mutex
	running  bool
	dirty    bool
	runCount int
	wake     chan struct{}
}

func newSyncGate() *syncGate {
	return &syncGate{wake: make(chan struct{}, 1)}
}

func (g *syncGate) trigger() dto.SyncRequestOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		g.dirty = true
		return dto.SyncCoalesced
	}

	select {
	case g.wake <- struct{}{}:
		return dto.SyncScheduled
	default:
		// a wake-up is already pending
		return dto.SyncCoalesced
	}
}

// begin marks a run as started and consumes any pending wake-up, which the
// run is about to serve.
func (g *syncGate) begin() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running = true
	g.runCount++
	select {
	case <-g.wake:
	default:
	}
}

// end reports whether a trigger arrived during the run.
func (g *syncGate) end() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running = false
	dirty := g.dirty
	g.dirty = false
	return dirty
}

func (g *syncGate) snapshot() (running, pending bool, runs int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running, g.dirty || len(g.wake) > 0, g.runCount
}
