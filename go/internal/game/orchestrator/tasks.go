package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// taskRegistry runs the orchestrator's background work: question timers,
// delayed advances, async generation and auto-start. Every task gets the
// registry's context, which Close cancels. Errors and panics are logged and
// never escape the task.
type taskRegistry struct {
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	active     atomic.Int64

	mu     sync.Mutex
	closed bool
}

func newTaskRegistry(instanceID string) *taskRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskRegistry{instanceID: instanceID, ctx: ctx, cancel: cancel}
}

// Go starts fn in its own goroutine. It returns false once the registry is closed.
func (r *taskRegistry) Go(name string, gameID uuid.UUID, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Warn().Str("task", name).Str("game_id", gameID.String()).Msg("task rejected, orchestrator closed")
		return false
	}
	r.wg.Add(1)
	r.active.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("task", name).
					Str("game_id", gameID.String()).
					Str("instance", r.instanceID).
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Msg("game task panicked")
			}
		}()

		if err := fn(r.ctx); err != nil {
			log.Error().
				Err(err).
				Str("task", name).
				Str("game_id", gameID.String()).
				Str("instance", r.instanceID).
				Msg("game task failed")
		}
	}()
	return true
}

// Active returns the number of running tasks.
func (r *taskRegistry) Active() int {
	return int(r.active.Load())
}

// Close cancels every task and waits for all of them to return.
func (r *taskRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
