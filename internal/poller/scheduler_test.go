package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/vehicleboard/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// okFetch returns a record whose value is the key itself.
func okFetch(ctx context.Context, key string) (store.Record, error) {
	return store.Record{Value: key, Timestamp: 1}, nil
}

// TestScheduler_StopBeforeStart verifies that calling Stop() on a scheduler
// that was never started does not panic and is a safe no-op.
func TestScheduler_StopBeforeStart(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())

	// this must not panic
	scheduler.Stop()
}

// TestScheduler_StopTwice verifies that Stop() is idempotent and can be
// called multiple times without panic or deadlock.
func TestScheduler_StopTwice(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())
	scheduler.Start(context.Background())

	// both calls must complete without panic or deadlock
	scheduler.Stop()
	scheduler.Stop()
}

// TestScheduler_StopAfterStart verifies the normal lifecycle: Start followed
// by Stop results in clean shutdown with the results channel closed.
func TestScheduler_StopAfterStart(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())
	scheduler.Start(context.Background())

	// drain results channel to prevent blocking
	go func() {
		for range scheduler.Results() {
		}
	}()

	// give the scheduler a moment to start polling
	time.Sleep(50 * time.Millisecond)

	scheduler.Stop()

	// verify results channel is closed by reading from it
	select {
	case _, ok := <-scheduler.Results():
		if ok {
			t.Error("expected results channel to be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for results channel to close")
	}
}

// TestScheduler_ConcurrentStartStop verifies that calling Start() and Stop()
// concurrently does not cause a race condition or panic.
// Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentStartStop(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	// run multiple iterations to increase chance of catching races
	for i := 0; i < 100; i++ {
		scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			scheduler.Start(context.Background())
		}()

		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()

		wg.Wait()

		// drain any remaining results
		for range scheduler.Results() {
		}
	}
}

// TestScheduler_ConcurrentPollAndStop verifies that polling workers don't race
// with Stop(). Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentPollAndStop(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}, {Key: "headlights"}, {Key: "odometer"}}

	// run multiple iterations to increase chance of catching races
	for i := 0; i < 50; i++ {
		scheduler := NewScheduler(jobs, 10*time.Millisecond, 2, okFetch, testLogger())
		scheduler.Start(context.Background())

		// let it poll at least once
		time.Sleep(15 * time.Millisecond)

		// stop while polling may be active
		scheduler.Stop()

		// verify clean shutdown by draining results
		for range scheduler.Results() {
		}
	}
}

// TestScheduler_StartTwice verifies that Start() is idempotent and calling
// it multiple times does not spawn multiple polling goroutines.
func TestScheduler_StartTwice(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())

	scheduler.Start(context.Background())
	scheduler.Start(context.Background()) // second call should be no-op

	// drain results
	go func() {
		for range scheduler.Results() {
		}
	}()

	scheduler.Stop()
}

// TestScheduler_StopBeforeStartThenStart verifies that if Stop() is called
// before Start(), a subsequent Start() call is handled gracefully.
func TestScheduler_StopBeforeStartThenStart(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())

	scheduler.Stop()                // stop before start
	scheduler.Start(context.TODO()) // start after stop - should be no-op or handled gracefully
	scheduler.Stop()                // second stop should not panic
}

// TestScheduler_ContextCancellation verifies that cancelling the parent context
// stops the scheduler gracefully.
func TestScheduler_ContextCancellation(t *testing.T) {
	jobs := []Job{{Key: "fuel_level"}}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(jobs, time.Minute, 1, okFetch, testLogger())
	scheduler.Start(ctx)

	// drain results
	go func() {
		for range scheduler.Results() {
		}
	}()

	// cancel parent context
	cancel()

	// stop should complete quickly since context is already cancelled
	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		// success
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after parent context cancellation")
	}
}

// TestScheduler_FetchPanicRecovery verifies that a panicking fetch does not
// crash the scheduler. Instead, it should report an error describing the panic.
func TestScheduler_FetchPanicRecovery(t *testing.T) {
	panicFetch := func(ctx context.Context, key string) (store.Record, error) {
		panic("fetch panic: simulated failure")
	}

	jobs := []Job{{Key: "fuel_level"}}

	scheduler := NewScheduler(jobs, time.Hour, 1, panicFetch, testLogger()) // long interval, we only want one poll
	scheduler.Start(context.Background())

	var result Result
	select {
	case result = <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for refresh result")
	}

	scheduler.Stop()

	if result.Error == nil {
		t.Fatal("Error = nil, want error describing panic")
	}
	errMsg := result.Error.Error()
	if !strings.Contains(errMsg, "refresh panic") {
		t.Errorf("Error = %q, want to contain 'refresh panic'", errMsg)
	}
	if !strings.Contains(errMsg, "correlation_id") {
		t.Errorf("Error = %q, want to contain 'correlation_id'", errMsg)
	}
	if result.Record.Value != "" {
		t.Errorf("Record = %+v, want zero record on panic", result.Record)
	}
}

// TestScheduler_PanicDoesNotAffectOtherKeys verifies that a panic while
// refreshing one key does not prevent other keys from being refreshed.
func TestScheduler_PanicDoesNotAffectOtherKeys(t *testing.T) {
	fetch := func(ctx context.Context, key string) (store.Record, error) {
		if key == "fuel_level" {
			panic("boom")
		}
		return store.Record{Value: "true"}, nil
	}

	jobs := []Job{{Key: "fuel_level"}, {Key: "headlights"}}

	scheduler := NewScheduler(jobs, time.Hour, 2, fetch, testLogger())
	scheduler.Start(context.Background())

	results := make(map[string]Result)
	for i := 0; i < 2; i++ {
		select {
		case result := <-scheduler.Results():
			results[result.Key] = result
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for result %d", i+1)
		}
	}

	scheduler.Stop()

	if results["fuel_level"].Error == nil {
		t.Error("fuel_level.Error = nil, want panic error")
	}
	if results["headlights"].Error != nil || results["headlights"].Record.Value != "true" {
		t.Errorf("headlights = %+v, want successful refresh", results["headlights"])
	}
}

// TestScheduler_NilPanicRecovery verifies that even a panic with a nil value
// is recovered gracefully.
func TestScheduler_NilPanicRecovery(t *testing.T) {
	nilPanicFetch := func(ctx context.Context, key string) (store.Record, error) {
		panic(nil)
	}

	scheduler := NewScheduler([]Job{{Key: "fuel_level"}}, time.Hour, 1, nilPanicFetch, testLogger())
	scheduler.Start(context.Background())

	var result Result
	select {
	case result = <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for refresh result")
	}

	scheduler.Stop()

	if result.Error == nil {
		t.Fatal("Error = nil, want error for nil panic")
	}
}

// TestScheduler_FetchErrorReported verifies that fetch errors are passed
// through unchanged.
func TestScheduler_FetchErrorReported(t *testing.T) {
	wantErr := errors.New("gateway unreachable")
	fetch := func(ctx context.Context, key string) (store.Record, error) {
		return store.Record{}, wantErr
	}

	scheduler := NewScheduler([]Job{{Key: "fuel_level"}}, time.Hour, 1, fetch, testLogger())
	scheduler.Start(context.Background())

	select {
	case result := <-scheduler.Results():
		if !errors.Is(result.Error, wantErr) {
			t.Errorf("Error = %v, want %v", result.Error, wantErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for refresh result")
	}

	scheduler.Stop()
}

// TestScheduler_GCDCalculation verifies that the base tick interval is
// calculated correctly as the GCD of all job intervals.
func TestScheduler_GCDCalculation(t *testing.T) {
	tests := []struct {
		name           string
		intervals      []time.Duration
		globalInterval time.Duration
		expectedBase   time.Duration
	}{
		{
			name:           "all same interval",
			intervals:      []time.Duration{10 * time.Second, 10 * time.Second},
			globalInterval: 10 * time.Second,
			expectedBase:   10 * time.Second,
		},
		{
			name:           "5s and 10s gives GCD of 5s",
			intervals:      []time.Duration{5 * time.Second, 10 * time.Second},
			globalInterval: 30 * time.Second,
			expectedBase:   5 * time.Second,
		},
		{
			name:           "with zero (default) uses global",
			intervals:      []time.Duration{6 * time.Second, 0}, // 0 = use global
			globalInterval: 9 * time.Second,
			expectedBase:   3 * time.Second, // GCD(6, 9) = 3
		},
		{
			name:           "all use default",
			intervals:      []time.Duration{0, 0},
			globalInterval: 15 * time.Second,
			expectedBase:   15 * time.Second,
		},
		{
			name:           "sub-second floored",
			intervals:      []time.Duration{300 * time.Millisecond, 0},
			globalInterval: 2 * time.Second,
			expectedBase:   time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := make([]Job, len(tt.intervals))
			for i, interval := range tt.intervals {
				jobs[i] = Job{Key: fmt.Sprintf("key%d", i), Interval: interval}
			}

			scheduler := NewScheduler(jobs, tt.globalInterval, 1, okFetch, testLogger())
			base := scheduler.calculateBaseInterval()

			if base != tt.expectedBase {
				t.Errorf("calculateBaseInterval() = %v, want %v", base, tt.expectedBase)
			}
		})
	}
}

// TestScheduler_GCDCalculation_NoJobs verifies that an empty job list
// returns the global interval as the base.
func TestScheduler_GCDCalculation_NoJobs(t *testing.T) {
	globalInterval := 20 * time.Second
	scheduler := NewScheduler(nil, globalInterval, 1, okFetch, testLogger())
	base := scheduler.calculateBaseInterval()

	if base != globalInterval {
		t.Errorf("calculateBaseInterval() = %v, want %v (global)", base, globalInterval)
	}
}

// TestScheduler_MixedIntervals verifies that keys with different intervals
// are refreshed at their respective frequencies.
func TestScheduler_MixedIntervals(t *testing.T) {
	jobs := []Job{
		{Key: "fast", Interval: 1 * time.Second},
		{Key: "slow", Interval: 3 * time.Second},
	}

	scheduler := NewScheduler(jobs, 5*time.Second, 2, okFetch, testLogger())
	scheduler.Start(context.Background())

	counts := make(map[string]int)
	timeout := time.After(3500 * time.Millisecond)

collecting:
	for {
		select {
		case result, ok := <-scheduler.Results():
			if !ok {
				break collecting
			}
			counts[result.Key]++
		case <-timeout:
			break collecting
		}
	}

	scheduler.Stop()

	// fast (1s): immediate + 3 ticks; slow (3s): immediate + 1 tick
	if counts["fast"] < 3 {
		t.Errorf("fast refreshed %d times, expected at least 3", counts["fast"])
	}
	if counts["slow"] > counts["fast"] {
		t.Errorf("slow refreshed %d times, fast %d times - slow should refresh less often",
			counts["slow"], counts["fast"])
	}
}

// TestScheduler_ImmediateRefreshOnStart verifies that every key is refreshed
// as soon as the scheduler starts, regardless of its interval.
func TestScheduler_ImmediateRefreshOnStart(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, key string) (store.Record, error) {
		calls.Add(1)
		return okFetch(ctx, key)
	}

	scheduler := NewScheduler([]Job{{Key: "fuel_level", Interval: time.Hour}}, time.Hour, 1, fetch, testLogger())
	scheduler.Start(context.Background())

	select {
	case result := <-scheduler.Results():
		if result.Key != "fuel_level" {
			t.Errorf("Key = %q, want %q", result.Key, "fuel_level")
		}
		if result.Record.Value != "fuel_level" {
			t.Errorf("Record.Value = %q, want fuel_level", result.Record.Value)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timeout waiting for immediate refresh result")
	}

	scheduler.Stop()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}
