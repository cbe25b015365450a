package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/energychat/internal/types"
)

// DefaultAdmitTimeout bounds how long a turn waits for a free slot.
const DefaultAdmitTimeout = 2 * time.Second

var (
	// ErrTurnInFlight is returned when a conversation already has a turn running.
	ErrTurnInFlight = errors.New("turn already in flight for conversation")
	// ErrServerBusy is returned when no slot frees up within the admit timeout.
	ErrServerBusy = errors.New("server busy")
)

// Gate admits chat turns. A conversation runs at most one turn at a time,
// and a global semaphore limits the number of turns running across all
// conversations.
type Gate struct {
	semaphore    *semaphore.Weighted
	active       atomic.Int64
	admitTimeout time.Duration

	mu       sync.Mutex
	inFlight map[types.ConversationID]struct{}
}

// New creates a Gate that allows up to maxConcurrent turns to run at once.
func New(maxConcurrent int64) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Gate{
		semaphore:    semaphore.NewWeighted(maxConcurrent),
		admitTimeout: DefaultAdmitTimeout,
		inFlight:     make(map[types.ConversationID]struct{}),
	}
}

// SetAdmitTimeout changes how long Acquire waits for a slot. Zero or less
// means no waiting.
func (g *Gate) SetAdmitTimeout(d time.Duration) {
	g.admitTimeout = d
}

// Acquire admits one turn for conv, waiting up to the admit timeout for a
// free slot if the global limit is reached, then failing with ErrServerBusy.
// A second turn for the same conversation fails at once with ErrTurnInFlight. An empty conv is only subject to the global limit.
// The returned release must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, conv types.ConversationID) (release func(), err error) {
	if conv != "" {
		g.mu.Lock()
		if _, busy := g.inFlight[conv]; busy {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w %s", ErrTurnInFlight, conv)
		}
		g.inFlight[conv] = struct{}{}
		g.mu.Unlock()
	}

	if err := g.acquireSlot(ctx); err != nil {
		g.forget(conv)
		return nil, err
	}
	g.active.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.active.Add(-1)
			g.semaphore.Release(1)
			g.forget(conv)
		})
	}, nil
}

func (g *Gate) acquireSlot(ctx context.Context) error {
	if g.semaphore.TryAcquire(1) {
		return nil
	}
	if g.admitTimeout <= 0 {
		return ErrServerBusy
	}
	wait, cancel := context.WithTimeout(ctx, g.admitTimeout)
	defer cancel()
	if err := g.semaphore.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire turn slot: %w", ctx.Err())
		}
		return ErrServerBusy
	}
	return nil
}

// Active returns the number of turns currently running.
func (g *Gate) Active() int64 {
	return g.active.Load()
}

func (g *Gate) forget(conv types.ConversationID) {
	if conv == "" {
		return
	}
	g.mu.Lock()
	delete(g.inFlight, conv)
	g.mu.Unlock()
}
