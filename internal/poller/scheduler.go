package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/vehicleboard/internal/store"
)

// Result holds the outcome of refreshing a single telemetry key.
type Result struct {
	// Key is the telemetry key that was refreshed.
	Key string

	// Record is the value written to the cache. Zero when Error is set.
	Record store.Record

	// Latency is the time taken by the fetch, retries included.
	Latency time.Duration

	// CheckedAt is when the refresh completed.
	CheckedAt time.Time

	// Error contains any error returned (or panic raised) by the fetch.
	Error error
}

// FetchFunc refreshes key and returns the record it stored.
type FetchFunc func(ctx context.Context, key string) (store.Record, error)

// Job is one telemetry key to refresh periodically.
type Job struct {
	Key string

	// Interval overrides the scheduler's global interval when non-zero.
	Interval time.Duration
}

// Scheduler refreshes telemetry keys on a timer.
//
// Every key is refreshed immediately on start. After that the scheduler
// ticks at the GCD of all job intervals and refreshes only the keys that
// are due, using at most maxConcurrency concurrent fetches. Outcomes are
// emitted on [Scheduler.Results].
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	jobs           []Job
	interval       time.Duration // global default interval
	maxConcurrency int
	fetch          FetchFunc
	results        chan Result
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	// per-key timing for tick-and-check pattern
	lastPolledAt map[string]time.Time
	baseInterval time.Duration
}

// NewScheduler creates a new [Scheduler].
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. A maxConcurrency below 1 is treated as 1.
func NewScheduler(jobs []Job, interval time.Duration, maxConcurrency int, fetch FetchFunc, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:           jobs,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		fetch:          fetch,
		results:        make(chan Result, len(jobs)),
		logger:         logger,
	}
}

// Results returns the channel of refresh outcomes. It is closed when the
// scheduler stops; consumers should read until then.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// calculateBaseInterval determines the tick interval for the scheduler.
// Uses the GCD of all job intervals so no job is refreshed late.
func (s *Scheduler) calculateBaseInterval() time.Duration {
	if len(s.jobs) == 0 {
		return s.interval
	}

	intervals := make([]time.Duration, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Interval > 0 {
			intervals = append(intervals, job.Interval)
		} else {
			intervals = append(intervals, s.interval)
		}
	}

	result := intervals[0]
	for _, d := range intervals[1:] {
		result = gcdDuration(result, d)
	}

	// floor at 1 second to avoid hammering the gateway
	if result < time.Second {
		result = time.Second
	}

	return result
}

// gcdDuration calculates the greatest common divisor of two durations.
func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start begins the refresh loop in a background goroutine.
//
// Start is non-blocking. If ctx is nil, context.Background() is used. Start
// is idempotent, and a no-op once Stop has been called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastPolledAt = make(map[string]time.Time, len(s.jobs))
	s.baseInterval = s.calculateBaseInterval()

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pollCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		s.refreshDue(pollCtx, true)

		ticker := time.NewTicker(s.baseInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.refreshDue(pollCtx, false)
			}
		}
	}()
}

// Stop halts the scheduler and waits for in-flight fetches to finish. The
// results channel is closed on return. Stop is idempotent and safe to call
// before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	// ensure channel is closed even if Start() was never called
	s.closeOnce.Do(func() { close(s.results) })
}

// refreshDue refreshes the keys whose interval has elapsed, or every key
// when immediate is set.
//
// lastPolledAt is stamped when a refresh STARTS, so a slow gateway stretches
// the effective interval by the fetch duration rather than overlapping.
func (s *Scheduler) refreshDue(ctx context.Context, immediate bool) {
	now := time.Now()
	due := make([]Job, 0, len(s.jobs))

	s.mu.Lock()
	for _, job := range s.jobs {
		if immediate {
			due = append(due, job)
			s.lastPolledAt[job.Key] = now
			continue
		}

		interval := job.Interval
		if interval == 0 {
			interval = s.interval
		}

		last, exists := s.lastPolledAt[job.Key]
		if !exists || now.Sub(last) >= interval {
			due = append(due, job)
			s.lastPolledAt[job.Key] = now
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	s.refreshAll(ctx, due)
}

// refreshAll runs the given jobs on a bounded worker pool.
func (s *Scheduler) refreshAll(ctx context.Context, jobs []Job) {
	queue := make(chan Job, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				result := s.refresh(ctx, job)
				select {
				case s.results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return
		}
	}
	close(queue)

	wg.Wait()
}

func (s *Scheduler) refresh(ctx context.Context, job Job) Result {
	start := time.Now()
	rec, err := s.safeFetch(ctx, job.Key)
	return Result{
		Key:       job.Key,
		Record:    rec,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
		Error:     err,
	}
}

// safeFetch calls the fetch function with panic recovery. A panic is logged
// with its stack under a correlation ID and reported as an error carrying
// that ID.
func (s *Scheduler) safeFetch(ctx context.Context, key string) (rec store.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			s.logger.Error("refresh panic",
				"key", key,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)

			rec = store.Record{}
			err = fmt.Errorf("refresh panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.fetch(ctx, key)
}
