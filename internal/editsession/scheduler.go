package editsession

import (
	"context"
	"sync"
	"time"
)

// TickFunc runs one autosave. Returning false stops the scheduler from
// inside the tick.
type TickFunc func(ctx context.Context) bool

// Scheduler runs a TickFunc once immediately and then every interval, on a
// single goroutine. Ticks never overlap.
type Scheduler struct {
	interval time.Duration
	tick     TickFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewScheduler(interval time.Duration, tick TickFunc) *Scheduler {
	return &Scheduler{interval: interval, tick: tick}
}

// Start launches the loop. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if !s.tick(ctx) {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !s.tick(ctx) {
				return
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit. After Stop returns no
// tick is running and none will start. It must not be called from a tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the loop has exited, by Stop or by a tick returning
// false. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
