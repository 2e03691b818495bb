package sdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MutationResult is what a write returns to its caller. Partial success is
// preserved: Data may be present alongside Errors when some fields failed
// server-side validation.
type MutationResult struct {
	Data   json.RawMessage
	Errors []OperationError
}

// Coordinator executes mutations and bridges the clinical API's
// write/read propagation lag: after a successful write it schedules a
// delayed re-read of the affected queries instead of refetching
// immediately, which would usually observe pre-write data.
type Coordinator struct {
	backend backend
	store   *Store
	delay   time.Duration
	clk     clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[string]*clock.Timer
	closed bool
}

func newCoordinator(b backend, store *Store, delay time.Duration, clk clock.Clock, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		backend: b,
		store:   store,
		delay:   delay,
		clk:     clk,
		logger:  logger,
		timers:  make(map[string]*clock.Timer),
	}
}

// ExecuteMutation runs a write and, once it resolves, schedules one delayed
// refetch per affected query key. The mutation's own result is authoritative
// and is returned before any refetch runs; refetch failures never alter it.
//
// Partial errors still schedule refetches: server-side partial success may
// have changed state the read side should pick up.
func (c *Coordinator) ExecuteMutation(ctx context.Context, operation string, variables any, affectedKeys []string) (*MutationResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	data, opErrs, err := c.backend.Do(ctx, operation, variables)
	if err != nil {
		// Transport failure: nothing was durably written, nothing to bridge.
		return nil, err
	}

	result := &MutationResult{Data: data, Errors: opErrs}

	for _, key := range affectedKeys {
		c.scheduleRefetch(key)
	}

	if len(opErrs) > 0 {
		return result, newError(KindMutationValidation, opErrs[0].Message, opErrs[0])
	}
	return result, nil
}

// scheduleRefetch arms (or re-arms) the trailing refetch timer for key.
// Multiple mutations touching the same key within the delay window coalesce
// into a single refetch: the last schedule wins, earlier timers are stopped.
func (c *Coordinator) scheduleRefetch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if timer, ok := c.timers[key]; ok {
		timer.Stop()
	}

	c.logger.Debug("refetch scheduled",
		slog.String("key", key),
		slog.Duration("delay", c.delay))

	var timer *clock.Timer
	timer = c.clk.AfterFunc(c.delay, func() {
		c.mu.Lock()
		// A timer that fired while a later mutation re-armed the key lost
		// the race: only the currently armed timer may run the refetch, and
		// only it may remove its own map entry.
		if c.closed || c.timers[key] != timer {
			c.mu.Unlock()
			return
		}
		delete(c.timers, key)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Best effort: the mutation already reported its own outcome.
		if err := c.store.Refetch(ctx, key); err != nil && KindOf(err) != KindStaleResponse {
			c.logger.Warn("post-mutation refetch failed",
				slog.String("key", key),
				slog.Any("error", err))
		}
	})
	c.timers[key] = timer
}

// Close stops every pending refetch timer. No refetch fires afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
}
