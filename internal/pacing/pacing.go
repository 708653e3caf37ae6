package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces outgoing page loads with jittered delays so navigation
// timing does not look mechanical, and provides the randomized
// interaction delays used between hover/click gestures.
type Pacer struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
}

func New(minDelay, maxDelay time.Duration) *Pacer {
	return &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

// Wait blocks until enough time has passed since the previous action,
// honoring ctx cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastAction)
	delay := p.jittered()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *Pacer) jittered() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
}

// Interaction delay ranges for human-like gestures.
const (
	hoverMin = 100 * time.Millisecond
	hoverMax = 300 * time.Millisecond

	clickMin = 200 * time.Millisecond
	clickMax = 500 * time.Millisecond

	networkWaitMin = 1500 * time.Millisecond
	networkWaitMax = 2500 * time.Millisecond

	retryMin = time.Second
	retryMax = 2 * time.Second
)

// Between returns a random duration in [min, max).
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func HoverDelay() time.Duration { return Between(hoverMin, hoverMax) }

func ClickDelay() time.Duration { return Between(clickMin, clickMax) }

// NetworkWait is how long to give the page to fire its share API call
// after a click.
func NetworkWait() time.Duration { return Between(networkWaitMin, networkWaitMax) }

func RetryDelay() time.Duration { return Between(retryMin, retryMax) }

// Sleep sleeps for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
