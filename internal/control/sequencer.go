// v2
// internal/control/sequencer.go
package control

import (
	"context"
	"log/slog"
	"sync"
)

const zoneQueueSize = 64

// Sequencer runs all mutations of one zone on a single per-zone worker, in
// strict submission order. Different zones get different workers and never
// wait on each other. This is what makes a stale automatic decision unable
// to overtake a newer manual command for the same zone.
type Sequencer struct {
	mu     sync.RWMutex
	queues map[string]chan func()
	wg     sync.WaitGroup
	closed bool
	log    *slog.Logger
}

func NewSequencer(log *slog.Logger) *Sequencer {
	return &Sequencer{
		queues: map[string]chan func(){},
		log:    log.With(slog.String("component", "sequencer")),
	}
}

func (s *Sequencer) queue(zoneID string) (chan func(), error) {
	s.mu.RLock()
	q, ok := s.queues[zoneID]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return q, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	q, ok = s.queues[zoneID]
	if !ok {
		q = make(chan func(), zoneQueueSize)
		s.queues[zoneID] = q
		s.wg.Add(1)
		go s.worker(zoneID, q)
	}
	return q, nil
}

func (s *Sequencer) worker(zoneID string, q chan func()) {
	defer s.wg.Done()
	for task := range q {
		task()
	}
	s.log.Info("zone_worker_exit", slog.String("zone", zoneID))
}

// Do submits fn to the zone's queue and waits for it to finish. The context
// only bounds admission and waiting: once fn is accepted it runs to
// completion even if the caller gives up.
func (s *Sequencer) Do(ctx context.Context, zoneID string, fn func() error) error {
	done := make(chan error, 1)
	if err := s.submit(ctx, zoneID, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits fn without waiting. When the zone's queue is full the task
// is dropped and false is returned; only the deferred best-effort writes use
// this path, and those degrade gracefully when skipped.
func (s *Sequencer) Enqueue(zoneID string, fn func()) bool {
	q, err := s.queue(zoneID)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case q <- fn:
		return true
	default:
		s.log.Warn("zone_queue_full", slog.String("zone", zoneID))
		return false
	}
}

func (s *Sequencer) submit(ctx context.Context, zoneID string, task func()) error {
	q, err := s.queue(zoneID)
	if err != nil {
		return err
	}
	// Hold the read lock during the send so Close cannot close the channel
	// under a blocked sender.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case q <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops admission, lets every queued task finish, and returns once all
// workers have exited.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
