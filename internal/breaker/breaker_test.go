package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/market-linkgen/internal/linkerr"
)

type recordingNotifier struct {
	mu    sync.Mutex
	trips int
}

func (n *recordingNotifier) NotifyTrip(failures int, openDuration time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trips++
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trips
}

func newTestBreaker(threshold int, openDuration time.Duration) (*Breaker, *recordingNotifier, *time.Time) {
	notifier := &recordingNotifier{}
	b := New(threshold, openDuration, notifier, slog.Default())

	now := time.Now()
	b.now = func() time.Time { return now }
	return b, notifier, &now
}

func kindOf(err error) linkerr.Kind {
	var le *linkerr.Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func TestClosedAllowsJobs(t *testing.T) {
	b, _, _ := newTestBreaker(3, 5*time.Minute)

	for i := 0; i < 10; i++ {
		assert.NoError(t, b.Allow())
	}
	assert.Equal(t, string(StateClosed), b.Status().State)
}

func TestTripsAfterThresholdFailures(t *testing.T) {
	b, notifier, _ := newTestBreaker(3, 5*time.Minute)

	b.OnFailure(linkerr.KindHTTP)
	b.OnFailure(linkerr.KindHTTP)
	assert.Equal(t, string(StateClosed), b.Status().State)

	b.OnFailure(linkerr.KindHTTP)
	status := b.Status()
	assert.Equal(t, string(StateOpen), status.State)
	assert.False(t, status.IsAvailable)
	assert.Greater(t, status.TimeUntilRetry, 0)
	assert.Equal(t, 1, notifier.count())
}

func TestOpenRejectsWithoutEngineCall(t *testing.T) {
	b, _, _ := newTestBreaker(1, 5*time.Minute)
	b.OnFailure(linkerr.KindThrottling)

	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, linkerr.KindBreakerOpen, kindOf(err))
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b, _, now := newTestBreaker(1, 5*time.Minute)
	b.OnFailure(linkerr.KindHTTP)

	*now = now.Add(5 * time.Minute)

	// First caller after the cool-down becomes the probe.
	require.NoError(t, b.Allow())
	assert.Equal(t, string(StateHalfOpen), b.Status().State)

	// A concurrent second caller is rejected with the half-open kind.
	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, linkerr.KindBreakerProbe, kindOf(err))
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	b, _, now := newTestBreaker(1, 5*time.Minute)
	b.OnFailure(linkerr.KindHTTP)

	*now = now.Add(5 * time.Minute)
	require.NoError(t, b.Allow())

	b.OnSuccess()

	status := b.Status()
	assert.Equal(t, string(StateClosed), status.State)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.True(t, status.IsAvailable)
	assert.NoError(t, b.Allow())
}

func TestProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	b, _, now := newTestBreaker(1, 5*time.Minute)
	b.OnFailure(linkerr.KindHTTP)

	*now = now.Add(5 * time.Minute)
	require.NoError(t, b.Allow())

	// Probe fails two minutes into the half-open window.
	*now = now.Add(2 * time.Minute)
	b.OnFailure(linkerr.KindTimeout)

	assert.Equal(t, string(StateOpen), b.Status().State)

	// The cool-down restarts at the failure instant: 4 minutes later the
	// breaker is still open.
	*now = now.Add(4 * time.Minute)
	assert.Error(t, b.Allow())

	*now = now.Add(time.Minute + time.Second)
	assert.NoError(t, b.Allow())
}

func TestParsingFailuresNeverCount(t *testing.T) {
	b, notifier, _ := newTestBreaker(1, 5*time.Minute)

	b.OnFailure(linkerr.KindParsing)
	b.OnFailure(linkerr.KindButtonNotFound)
	b.OnFailure(linkerr.KindConfiguration)

	status := b.Status()
	assert.Equal(t, string(StateClosed), status.State)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.Equal(t, 0, notifier.count())
}

func TestOneAlertPerTrip(t *testing.T) {
	b, notifier, _ := newTestBreaker(2, 5*time.Minute)

	b.OnFailure(linkerr.KindHTTP)
	b.OnFailure(linkerr.KindHTTP)
	assert.Equal(t, 1, notifier.count())

	// Further failures while already open do not re-alert.
	b.OnFailure(linkerr.KindHTTP)
	b.OnFailure(linkerr.KindCaptcha)
	assert.Equal(t, 1, notifier.count())
}

func TestAlertResentOnNextTrip(t *testing.T) {
	b, notifier, now := newTestBreaker(1, time.Minute)

	b.OnFailure(linkerr.KindHTTP)
	assert.Equal(t, 1, notifier.count())

	*now = now.Add(time.Minute)
	require.NoError(t, b.Allow()) // probe
	b.OnFailure(linkerr.KindHTTP) // probe fails, re-trip

	assert.Equal(t, 2, notifier.count())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreaker(3, 5*time.Minute)

	b.OnFailure(linkerr.KindHTTP)
	b.OnFailure(linkerr.KindHTTP)
	b.OnSuccess()
	b.OnFailure(linkerr.KindHTTP)
	b.OnFailure(linkerr.KindHTTP)

	assert.Equal(t, string(StateClosed), b.Status().State)
}
