// v1
// internal/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without running the operation while the breaker is open
// and the reset timeout has not elapsed.
var ErrOpen = errors.New("circuit breaker open")

type Config struct {
	// MaxFailures is the consecutive-failure count that opens the breaker.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
}

// Breaker fast-fails operations against a backend that keeps failing, so a
// dead broker costs one failed call per reset window instead of a timeout per
// message. After ResetTimeout the next call runs the probe first; a clean
// probe and operation close the breaker again.
type Breaker struct {
	name  string
	cfg   Config
	probe func(ctx context.Context) error
	log   *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New builds a breaker. probe may be nil, in which case recovery goes
// straight to the real operation.
func New(name string, cfg Config, probe func(ctx context.Context) error, log *slog.Logger) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		probe: probe,
		log:   log.With(slog.String("component", "breaker"), slog.String("name", name)),
		state: Closed,
	}
}

// Execute runs op under the breaker policy. While open it returns ErrOpen
// without calling op; the call that trips the breaker also returns ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			b.log.Warn("breaker_fast_fail", slog.String("sinceOpen", time.Since(openedAt).String()))
			return ErrOpen
		}
		return b.probeThenRun(ctx, op)
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	if b.onFailure(err) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) probeThenRun(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.state = HalfOpen
	b.mu.Unlock()
	b.log.Info("breaker_probe_start")

	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.log.Warn("breaker_probe_failed", slog.Any("err", err))
			b.reopen()
			return ErrOpen
		}
	}
	if err := op(ctx); err != nil {
		b.log.Warn("breaker_halfopen_failed", slog.Any("err", err))
		b.reopen()
		return err
	}

	b.mu.Lock()
	b.state = Closed
	b.failures = 0
	b.mu.Unlock()
	b.log.Info("breaker_closed")
	return nil
}

func (b *Breaker) reopen() {
	b.mu.Lock()
	b.state = Open
	b.openedAt = time.Now()
	b.mu.Unlock()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
}

// onFailure counts the failure and reports whether it tripped the breaker.
func (b *Breaker) onFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.log.Warn("breaker_op_failed", slog.Int("failures", b.failures), slog.Any("err", err))
	if b.failures >= b.cfg.MaxFailures {
		b.state = Open
		b.openedAt = time.Now()
		b.log.Error("breaker_opened", slog.Int("maxFailures", b.cfg.MaxFailures))
		return true
	}
	return false
}
