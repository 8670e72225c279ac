// Package events carries telemetry updates from background stream tasks
// to connected dashboard clients.
//
// Producers publish [Event] values to a [Bus]. In [ModeQueue] all clients
// share one unbounded FIFO and each event reaches exactly one of them; in
// [ModeBroadcast] each client gets its own queue and sees every event
// published while it is connected.
//
// A [Feed] wraps a bus for a single client connection and yields [Frame]
// values, substituting a keepalive whenever the bus stays quiet for the
// keepalive interval:
//
//	feed := events.NewFeed(events.NewBus(events.ModeQueue), time.Second, logger)
//	for frame := range feed.Frames(ctx) {
//		w.Write(frame.SSE())
//	}
package events
