package engine

import (
	"sync/atomic"
	"time"

	"github.com/hailam/abnnue/internal/game"
)

// Limits contains the constraints of one search.
type Limits struct {
	MoveTime time.Duration    // fixed time for this move (0 = none)
	Clock    [2]time.Duration // wtime, btime (remaining time for each side)
	Depth    int              // maximum plies, one pass per ply (0 = no limit)
	Nodes    uint64           // maximum nodes (0 = no limit)
	Infinite bool             // search until stopped
	Ponder   bool             // ignore the clock until PonderHit
}

// Allocate returns the wall-clock budget for side to move:
// min(MoveTime, Clock[side]/100), ignoring components that are unset.
// Zero means unbounded.
func (l Limits) Allocate(side game.Side) time.Duration {
	if l.Infinite {
		return 0
	}
	budget := l.MoveTime
	if side <= game.Black && l.Clock[side] > 0 {
		share := l.Clock[side] / 100
		if share <= 0 {
			share = time.Millisecond
		}
		if budget == 0 || share < budget {
			budget = share
		}
	}
	return budget
}

// Budget decides when a search must stop. It is read at every node and never
// rolled back.
type Budget struct {
	start  atomic.Int64 // unix nanos; moved forward on ponderhit
	max    time.Duration
	nodes  uint64
	stop   *atomic.Bool
	ponder atomic.Bool
	wakeup chan struct{} // signalled on ponderhit and stop
}

// NewBudget starts the clock now.
func NewBudget(limit time.Duration, nodes uint64, stop *atomic.Bool, ponder bool) *Budget {
	b := &Budget{max: limit, nodes: nodes, stop: stop, wakeup: make(chan struct{}, 1)}
	b.start.Store(time.Now().UnixNano())
	b.ponder.Store(ponder)
	return b
}

// wake nudges a search waiting for ponderhit or stop to recheck its flags.
func (b *Budget) wake() {
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Elapsed returns the time since the clock started.
func (b *Budget) Elapsed() time.Duration {
	return time.Duration(time.Now().UnixNano() - b.start.Load())
}

// PonderHit switches a pondering search onto the clock, starting now.
func (b *Budget) PonderHit() {
	b.start.Store(time.Now().UnixNano())
	b.ponder.Store(false)
	b.wake()
}

// Expired reports whether the search must wind down after searching nodes.
func (b *Budget) Expired(nodes uint64) bool {
	if b.stop != nil && b.stop.Load() {
		return true
	}
	if b.ponder.Load() {
		return false
	}
	if b.nodes > 0 && nodes >= b.nodes {
		return true
	}
	return b.max > 0 && b.Elapsed() > b.max
}
