// Package circuitbreaker stops calling an upstream after a run of failures
// and lets a few trial calls through once a cool-down has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrOpen is returned without calling the upstream while the breaker is
	// cooling down.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTrialsExhausted is returned while half-open once every trial slot is
	// taken.
	ErrTrialsExhausted = errors.New("circuit breaker trial calls exhausted")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

type Config struct {
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration
	// TrialCalls is how many calls a half-open breaker admits.
	TrialCalls int
	// SuccessThreshold trial successes close the breaker again.
	SuccessThreshold int
	// ResetInterval forgets a closed breaker's failure streak. Zero keeps
	// the streak until a success.
	ResetInterval time.Duration
	// IsFailure reports whether an error counts against the upstream.
	// Defaults to every error except a cancelled context.
	IsFailure func(error) bool

	// OnStateChange runs with the breaker locked.
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
}

// Breaker guards a single upstream. Results that arrive after the breaker
// changed state are discarded so a slow call from a previous period cannot
// reopen or close it.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	state     State
	period    uint64
	since     time.Time
	streak    int
	trials    int
	recovered int
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TrialCalls <= 0 {
		cfg.TrialCalls = 1
	}
	if cfg.SuccessThreshold <= 0 || cfg.SuccessThreshold > cfg.TrialCalls {
		cfg.SuccessThreshold = cfg.TrialCalls
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.since = b.now()
	return b
}

// Execute runs fn unless the breaker refuses it. A context that is already
// done is returned as is and never counts as a call.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	period, err := b.admit()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			b.record(period, true)
		}
	}()

	err = fn()
	completed = true
	b.record(period, err != nil && b.cfg.IsFailure(err))
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expire(b.now())
	return b.state
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.expire(now)

	switch b.state {
	case StateOpen:
		wait := b.since.Add(b.cfg.Cooldown).Sub(now)
		return 0, fmt.Errorf("%w: %s, retry in %s", ErrOpen, b.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if b.trials >= b.cfg.TrialCalls {
			return 0, fmt.Errorf("%w: %s", ErrTrialsExhausted, b.name)
		}
		b.trials++
	}
	return b.period, nil
}

func (b *Breaker) record(period uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if period != b.period {
		return
	}

	now := b.now()
	switch b.state {
	case StateClosed:
		if !failed {
			b.streak = 0
			return
		}
		b.streak++
		if b.streak >= b.cfg.FailureThreshold {
			b.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		if failed {
			b.moveTo(StateOpen, now)
			return
		}
		b.recovered++
		if b.recovered >= b.cfg.SuccessThreshold {
			b.moveTo(StateClosed, now)
		}
	}
}

// expire applies the time based transitions.
func (b *Breaker) expire(now time.Time) {
	switch b.state {
	case StateOpen:
		if !now.Before(b.since.Add(b.cfg.Cooldown)) {
			b.moveTo(StateHalfOpen, now)
		}
	case StateClosed:
		if b.cfg.ResetInterval > 0 && !now.Before(b.since.Add(b.cfg.ResetInterval)) {
			b.streak = 0
			b.since = now
		}
	}
}

func (b *Breaker) moveTo(to State, now time.Time) {
	from := b.state
	b.state = to
	b.period++
	b.since = now
	b.streak = 0
	b.trials = 0
	b.recovered = 0

	b.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
