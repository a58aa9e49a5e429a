// Package circuit keeps per-provider circuit breakers so a provider that is
// hard down stops eating request latency on every call.
package circuit

import (
	"context"
	"sync"
	"time"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected immediately
	StateOpen
	// StateHalfOpen - one probe request is allowed through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open breaker rejects before allowing a
	// half-open probe.
	Cooldown time.Duration `yaml:"cooldown"`

	// OnStateChange is called when a breaker transitions.
	OnStateChange func(provider string, from, to State) `yaml:"-"`
}

// DefaultConfig trips after five consecutive failures and probes again
// after thirty seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker tracks one provider's recent failures.
type Breaker struct {
	provider string
	config   Config

	mu            sync.Mutex
	state         State
	consecutive   int
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker creates a breaker for one provider.
func NewBreaker(provider string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{provider: provider, config: config, state: StateClosed}
}

// Do runs fn unless the breaker is open. An open breaker fails fast with a
// SERVICE_UNAVAILABLE gateway error tagged with the provider.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.config.Cooldown {
			return gwerrors.Newf(gwerrors.ErrCodeServiceUnavailable,
				"provider %q suspended after repeated failures", b.provider).
				WithProvider(b.provider)
		}
		b.setState(StateHalfOpen)
		b.probeInFlight = true
	case StateHalfOpen:
		if b.probeInFlight {
			return gwerrors.Newf(gwerrors.ErrCodeServiceUnavailable,
				"provider %q recovery probe in flight", b.provider).
				WithProvider(b.provider)
		}
		b.probeInFlight = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false

	// Rejected input never reflects provider health.
	if gwerrors.IsValidation(err) || gwerrors.IsNotFound(err) {
		return
	}

	if err == nil {
		b.consecutive = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.consecutive++
	if b.state == StateHalfOpen || b.consecutive >= b.config.FailureThreshold {
		b.openedAt = time.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(state State) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.provider, prev, state)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Set keeps one breaker per provider, created on first use.
type Set struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(config Config) *Set {
	return &Set{config: config, breakers: make(map[string]*Breaker)}
}

// Do runs fn under the named provider's breaker.
func (s *Set) Do(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	return s.breaker(provider).Do(ctx, fn)
}

func (s *Set) breaker(provider string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[provider]
	if !ok {
		b = NewBreaker(provider, s.config)
		s.breakers[provider] = b
	}
	return b
}

// States reports every known breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
