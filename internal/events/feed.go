package events

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"time"
)

// DefaultKeepalive is how long a feed waits for an event before emitting
// a keepalive frame.
const DefaultKeepalive = time.Second

var (
	keepaliveSSE = []byte(": keepalive\n\n")
	dataPrefix   = []byte("data: ")
	frameEnd     = []byte("\n\n")
)

// Frame is one unit of feed output: an encoded event or a keepalive.
type Frame struct {
	// Keepalive is set when no event arrived within the keepalive interval.
	Keepalive bool

	// Data is the compact JSON encoding of the event. Nil for keepalives.
	Data []byte
}

// SSE renders the frame in text/event-stream format.
func (f Frame) SSE() []byte {
	if f.Keepalive {
		return keepaliveSSE
	}
	out := make([]byte, 0, len(dataPrefix)+len(f.Data)+len(frameEnd))
	out = append(out, dataPrefix...)
	out = append(out, f.Data...)
	return append(out, frameEnd...)
}

// Feed turns a [Bus] into an endless sequence of frames for one client.
type Feed struct {
	bus       Bus
	keepalive time.Duration
	logger    *slog.Logger
}

// NewFeed creates a feed over bus. A keepalive <= 0 uses [DefaultKeepalive].
func NewFeed(bus Bus, keepalive time.Duration, logger *slog.Logger) *Feed {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		bus:       bus,
		keepalive: keepalive,
		logger:    logger,
	}
}

// Publish forwards ev to the underlying bus.
func (f *Feed) Publish(ev Event) {
	f.bus.Publish(ev)
}

// Frames subscribes to the bus and yields frames until ctx is done or the
// consumer stops. Each iteration waits up to the keepalive interval for an
// event; when none arrives a keepalive frame is yielded instead.
func (f *Feed) Frames(ctx context.Context) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		sub := f.bus.Subscribe()
		defer sub.Close()

		for {
			ev, ok, err := sub.Next(ctx, f.keepalive)
			if err != nil {
				return
			}

			frame := Frame{Keepalive: true}
			if ok {
				data, err := json.Marshal(ev)
				if err != nil {
					f.logger.Error("failed to encode event", "event", ev.Name(), "error", err)
					continue
				}
				frame = Frame{Data: data}
			}

			if !yield(frame) {
				return
			}
		}
	}
}
