package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// ErrCircuitOpen is returned by a guarded provider while its breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState represents the state of the circuit breaker
type BreakerState string

const (
	// BreakerClosed lets calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails calls fast
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a trial call through
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker trips after consecutive provider failures and skips the provider
// until the cooldown has passed.
type Breaker struct {
	mu           sync.Mutex
	failures     int
	successCount int
	lastFailure  time.Time
	state        BreakerState

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// NewBreaker creates a breaker that opens after failureThreshold consecutive failures
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successCount = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed call and reports whether the breaker is now open
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.successCount = 0
		return true
	}
	return false
}

// Allow reports whether a call may proceed, moving an expired open breaker to half-open
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.cooldown {
		b.state = BreakerHalfOpen
		b.successCount = 0
		return true
	}
	return false
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
}

// Guard wraps provider so that calls fail fast with ErrCircuitOpen while the breaker is open
func (b *Breaker) Guard(provider domain.SearchProvider) domain.SearchProvider {
	return &guardedProvider{inner: provider, breaker: b}
}

type guardedProvider struct {
	inner   domain.SearchProvider
	breaker *Breaker
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

// Search forwards to the wrapped provider. A call that yields items counts
// as a success even when it also returns an error.
func (g *guardedProvider) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	if !g.breaker.Allow() {
		return nil, fmt.Errorf("%s: %w", g.inner.Name(), ErrCircuitOpen)
	}

	items, err := g.inner.Search(ctx, query, maxResults)
	if err != nil && len(items) == 0 {
		g.breaker.RecordFailure()
		return nil, err
	}
	g.breaker.RecordSuccess()
	return items, err
}
