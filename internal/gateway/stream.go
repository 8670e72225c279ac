package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is one open server-push connection to the gateway.
//
// A Stream is not restartable: once [Stream.Next] has returned an error
// (including io.EOF) every later call returns the same error. Open a new
// stream with [Client.StreamFuelLevel] instead.
type Stream struct {
	op     string
	body   io.ReadCloser
	dec    *sseDecoder
	cancel context.CancelFunc
	logger *slog.Logger

	idle     time.Duration
	watchdog *time.Timer
	idleHit  atomic.Bool

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// StreamFuelLevel opens a fuel level stream. The gateway sends an update
// every interval seconds and ends the stream after maxUpdates updates.
//
// Opening the connection follows the one-shot retry policy. Once open, the
// stream is never reconnected: a mid-stream failure ends it.
func (c *Client) StreamFuelLevel(ctx context.Context, interval, maxUpdates int) (*Stream, error) {
	query := url.Values{}
	query.Set("interval", strconv.Itoa(interval))
	query.Set("max_updates", strconv.Itoa(maxUpdates))
	path := fuelStreamPath + "?" + query.Encode()
	op := http.MethodGet + " " + fuelStreamPath

	c.logger.Debug("starting fuel level stream", "interval", interval, "max_updates", maxUpdates)

	// idle budget: one request timeout plus the negotiated update interval
	idle := c.timeout + time.Duration(interval)*time.Second

	var stream *Stream
	err := c.retry(ctx, op, func(ctx context.Context) error {
		var err error
		stream, err = c.openStream(ctx, op, path, idle)
		return err
	})
	if err != nil {
		c.logger.Error("stream error", "op", op, "error", err)
		return nil, err
	}
	return stream, nil
}

// openStream makes one attempt at establishing the streaming connection.
// The request timeout covers the wait for response headers only.
func (c *Client) openStream(ctx context.Context, op, path string, idle time.Duration) (*Stream, error) {
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, &RequestError{Msg: "failed to create stream request", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	var headerTimeout atomic.Bool
	headerTimer := time.AfterFunc(c.timeout, func() {
		headerTimeout.Store(true)
		cancel()
	})

	resp, err := c.httpClient.Do(req)
	stopped := headerTimer.Stop()
	if err != nil {
		cancel()
		if headerTimeout.Load() {
			return nil, &ConnectionError{Op: op, Err: fmt.Errorf("stream request timed out after %s", c.timeout)}
		}
		return nil, &ConnectionError{Op: op, Err: err}
	}
	if !stopped {
		// the timer fired after headers arrived; streamCtx is already cancelled
		_ = resp.Body.Close()
		cancel()
		return nil, &ConnectionError{Op: op, Err: fmt.Errorf("stream request timed out after %s", c.timeout)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel()
		return nil, statusError(resp.StatusCode, body)
	}

	s := &Stream{
		op:     op,
		body:   resp.Body,
		cancel: cancel,
		logger: c.logger,
		idle:   idle,
	}
	s.watchdog = time.AfterFunc(idle, func() {
		s.idleHit.Store(true)
		cancel()
	})
	s.dec = newSSEDecoder(&activityReader{r: resp.Body, onRead: s.touch})

	return s, nil
}

// Next blocks until the next decoded payload arrives. It returns io.EOF
// when the gateway ends the stream. Events whose data is not valid JSON are
// logged and skipped; any other decode or transport fault ends the stream
// with a [RequestError] (or a [ConnectionError] when the idle watchdog fired).
func (s *Stream) Next() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	for {
		ev, err := s.dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.err = io.EOF
			case s.idleHit.Load():
				s.err = &ConnectionError{Op: s.op, Err: fmt.Errorf("no stream activity for %s", s.idle)}
			default:
				s.err = &RequestError{Msg: "stream processing error", Err: err}
			}
			s.Close()
			return nil, s.err
		}

		if !json.Valid(ev.Data) {
			s.logger.Warn("invalid JSON in stream event", "op", s.op, "data", string(ev.Data))
			continue
		}

		return json.RawMessage(ev.Data), nil
	}
}

// All returns the remaining payloads as a single-use sequence. The sequence
// stops after the first error, which is yielded with a nil payload; a clean
// end of stream yields nothing further. Breaking out of the loop closes the
// stream.
func (s *Stream) All() iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		defer s.Close()
		for {
			payload, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}

// Close releases the connection. Safe to call multiple times.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.watchdog.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// touch pushes the idle deadline forward.
func (s *Stream) touch() {
	s.watchdog.Reset(s.idle)
}

// activityReader reports every successful read.
type activityReader struct {
	r      io.Reader
	onRead func()
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.onRead()
	}
	return n, err
}
