package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avolkov/market-linkgen/internal/linkerr"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Notifier receives one alert per trip. Implementations must tolerate
// being called from multiple goroutines.
type Notifier interface {
	NotifyTrip(consecutiveFailures int, openDuration time.Duration)
}

// NopNotifier discards alerts.
type NopNotifier struct{}

func (NopNotifier) NotifyTrip(int, time.Duration) {}

// Breaker guards the link-generation engine against retry storms while
// the target site is degraded. One instance covers the whole service
// since every job hits the same target.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	alertSent           bool

	failureThreshold int
	openDuration     time.Duration
	notifier         Notifier
	logger           *slog.Logger
	now              func() time.Time
}

func New(failureThreshold int, openDuration time.Duration, notifier Notifier, logger *slog.Logger) *Breaker {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
		notifier:         notifier,
		logger:           logger.With("component", "circuit_breaker"),
		now:              time.Now,
	}
}

// Allow gates one job. It returns nil when the job may proceed, a
// KindBreakerOpen error while the breaker is open, and a KindBreakerProbe
// error when the single half-open probe slot is already taken. Callers
// are rejected immediately, never queued.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed >= b.openDuration {
			// Cool-down over: this caller becomes the probe.
			b.state = StateHalfOpen
			b.consecutiveFailures = 0
			b.alertSent = false
			b.logger.Info("breaker half-open, probe admitted")
			return nil
		}
		remaining := b.openDuration - elapsed
		return linkerr.New(linkerr.KindBreakerOpen,
			fmt.Sprintf("service unavailable, retry after %s", remaining.Round(time.Second)))

	case StateHalfOpen:
		// Exactly one probe in flight; everyone else is rejected.
		return linkerr.New(linkerr.KindBreakerProbe, "recovery probe in progress, retry shortly")

	default:
		return nil
	}
}

// OnSuccess resets the breaker to closed.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.Info("breaker reset to closed", "previous_state", string(b.state))
	}
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
	b.alertSent = false
}

// OnFailure records one job failure of the given kind. Kinds that do not
// indicate target-side degradation are ignored so a parsing bug cannot be
// mistaken for a site outage. A probe failure reopens the breaker and
// restarts the cool-down from now.
func (b *Breaker) OnFailure(kind linkerr.Kind) {
	if !linkerr.TripsBreaker(kind) {
		return
	}

	var notify bool
	var failures int

	b.mu.Lock()
	switch b.state {
	case StateHalfOpen:
		b.logger.Warn("probe failed, reopening breaker", "kind", string(kind))
		notify = b.tripLocked()

	case StateClosed:
		b.consecutiveFailures++
		b.logger.Warn("breaker failure recorded",
			"kind", string(kind),
			"failures", b.consecutiveFailures,
			"threshold", b.failureThreshold,
		)
		if b.consecutiveFailures >= b.failureThreshold {
			notify = b.tripLocked()
		}
	}
	failures = b.consecutiveFailures
	b.mu.Unlock()

	if notify {
		b.notifier.NotifyTrip(failures, b.openDuration)
	}
}

// tripLocked moves to open and reports whether an alert should be sent.
// Repeated trips while the alert flag is set stay silent.
func (b *Breaker) tripLocked() bool {
	b.state = StateOpen
	b.openedAt = b.now()
	b.logger.Error("breaker tripped to open",
		"failures", b.consecutiveFailures,
		"open_duration", b.openDuration.String(),
	)
	if b.alertSent {
		return false
	}
	b.alertSent = true
	return true
}

// Status is a point-in-time snapshot for operational visibility.
type Status struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	FailureThreshold    int    `json:"failure_threshold"`
	TimeUntilRetry      int    `json:"time_until_retry"` // seconds
	OpenDuration        int    `json:"open_duration"`    // seconds
	IsAvailable         bool   `json:"is_available"`
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	var untilRetry time.Duration
	if b.state == StateOpen {
		if elapsed := b.now().Sub(b.openedAt); elapsed < b.openDuration {
			untilRetry = b.openDuration - elapsed
		}
	}

	return Status{
		State:               string(b.state),
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.failureThreshold,
		TimeUntilRetry:      int(untilRetry.Seconds()),
		OpenDuration:        int(b.openDuration.Seconds()),
		IsAvailable:         b.state == StateClosed,
	}
}
