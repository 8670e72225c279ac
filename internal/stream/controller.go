package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/vehicleboard/internal/events"
	"github.com/jpalmerr/vehicleboard/internal/gateway"
	"github.com/jpalmerr/vehicleboard/internal/store"
)

// ErrClosed is returned by [Controller.Start] after [Controller.Shutdown].
var ErrClosed = errors.New("stream controller is shut down")

// Updates is an open upstream stream. Next returns io.EOF once the
// upstream ends cleanly.
type Updates interface {
	Next() (json.RawMessage, error)
	Close() error
}

// Opener opens a new upstream stream for one task.
type Opener func(ctx context.Context, interval, maxUpdates int) (Updates, error)

// Extractor derives the display value stored in the cache from a payload.
type Extractor func(payload []byte) (string, error)

// Source describes how to stream one telemetry key.
type Source struct {
	Open    Opener
	Extract Extractor
}

// Status is the outcome reported by [Controller.Start].
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
)

// StartResult is returned to the caller of [Controller.Start].
type StartResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Controller owns the background stream tasks. At most one task runs per
// telemetry key; each task writes every update into the cache and then
// publishes it, so a subscriber that sees an event can always read the
// matching record.
//
// Tasks are not tied to the request that started them. They run until the
// upstream ends, fails, or [Controller.Shutdown] is called.
type Controller struct {
	sources map[string]Source
	cache   store.Store
	pub     events.Publisher
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	id      string
	key     string
	cancel  context.CancelFunc
	started time.Time
}

// NewController creates a controller for the given per-key sources.
func NewController(sources map[string]Source, cache store.Store, pub events.Publisher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		sources: sources,
		cache:   cache,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*task),
	}
}

// Start spawns a background task streaming key unless one is already
// running, in which case it reports a warning and changes nothing. Start
// returns as soon as the task is spawned.
//
// An unknown key or a non-positive interval or maxUpdates is rejected with
// a [gateway.ValidationError].
func (c *Controller) Start(key string, interval, maxUpdates int) (StartResult, error) {
	src, ok := c.sources[key]
	if !ok {
		return StartResult{}, &gateway.ValidationError{Field: "key", Reason: fmt.Sprintf("streaming not supported for %q", key)}
	}
	if interval < 1 {
		return StartResult{}, &gateway.ValidationError{Field: "interval", Reason: "must be a positive integer"}
	}
	if maxUpdates < 1 {
		return StartResult{}, &gateway.ValidationError{Field: "max_updates", Reason: "must be a positive integer"}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return StartResult{}, ErrClosed
	}
	if existing, running := c.tasks[key]; running {
		c.mu.Unlock()
		c.logger.Debug("stream already active", "key", key, "task_id", existing.id)
		return StartResult{
			Status:  StatusWarning,
			Message: displayName(key) + " stream already active",
		}, nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	t := &task{
		id:      uuid.NewString(),
		key:     key,
		cancel:  cancel,
		started: c.now(),
	}
	c.tasks[key] = t
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, t, src, interval, maxUpdates)

	c.logger.Info("streaming started", "key", key, "task_id", t.id, "interval", interval, "max_updates", maxUpdates)
	return StartResult{Status: StatusSuccess, Message: "Streaming started"}, nil
}

// Running reports whether a task for key is alive.
func (c *Controller) Running(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[key]
	return ok
}

// Keys returns the telemetry keys that can be streamed.
func (c *Controller) Keys() []string {
	keys := make([]string, 0, len(c.sources))
	for k := range c.sources {
		keys = append(keys, k)
	}
	return keys
}

// Shutdown cancels every running task and waits for them to exit or for
// ctx to expire. Later calls to Start fail with [ErrClosed].
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for stream tasks: %w", ctx.Err())
	}
}

func (c *Controller) run(ctx context.Context, t *task, src Source, interval, maxUpdates int) {
	defer c.wg.Done()
	defer c.release(t)

	log := c.logger.With("key", t.key, "task_id", t.id)

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			log.Error("stream task panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			c.pub.Publish(events.Failure(t.key, fmt.Errorf("stream task panic (correlation_id: %s)", correlationID)))
		}
	}()

	updates, err := src.Open(ctx, interval, maxUpdates)
	if err != nil {
		c.fail(ctx, log, t.key, err)
		return
	}
	defer updates.Close()

	received := 0
	for {
		payload, err := updates.Next()
		if errors.Is(err, io.EOF) {
			log.Info("stream finished", "updates", received, "elapsed", c.now().Sub(t.started))
			return
		}
		if err != nil {
			c.fail(ctx, log, t.key, err)
			return
		}

		value, err := src.Extract(payload)
		if err != nil {
			c.fail(ctx, log, t.key, fmt.Errorf("failed to extract %s value: %w", t.key, err))
			return
		}

		// cache first: an announced update must already be readable
		c.cache.Update(t.key, store.Record{
			Value:     value,
			Timestamp: epochSeconds(c.now()),
			Raw:       payload,
		})
		c.pub.Publish(events.Update(t.key, payload))

		received++
		log.Debug("stream update", "value", value, "update", received)
	}
}

// fail reports a terminal stream failure as a single error event. A task
// cancelled by Shutdown exits quietly.
func (c *Controller) fail(ctx context.Context, log *slog.Logger, key string, err error) {
	if ctx.Err() != nil {
		log.Info("stream cancelled")
		return
	}
	log.Error("stream error", "error", err)
	c.pub.Publish(events.Failure(key, err))
}

func (c *Controller) release(t *task) {
	c.mu.Lock()
	if c.tasks[t.key] == t {
		delete(c.tasks, t.key)
	}
	c.mu.Unlock()
	t.cancel()
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// displayName turns "fuel_level" into "Fuel level".
func displayName(key string) string {
	name := strings.ReplaceAll(key, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
