package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/model"
)

var ErrCircuitOpen = errors.New("publisher: circuit open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

// MicroBreaker is a consecutive-failure circuit breaker with a single probe
// in half-open state.
type MicroBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

// Guarded wraps a Publisher with a MicroBreaker. While the breaker is open
// Publish returns ErrCircuitOpen without calling the wrapped publisher.
type Guarded struct {
	next Publisher
	br   *MicroBreaker
}

func WithBreaker(p Publisher, br *MicroBreaker) *Guarded {
	return &Guarded{next: p, br: br}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Publish(ctx context.Context, e model.OutboxEvent) error {
	if !g.br.TryAcquire() {
		return ErrCircuitOpen
	}
	if err := g.next.Publish(ctx, e); err != nil {
		g.br.OnFailure()
		return err
	}
	g.br.OnSuccess()
	return nil
}
