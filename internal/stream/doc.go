// Package stream runs background telemetry streams.
//
// A [Controller] keeps at most one task per telemetry key. Each task opens
// an upstream stream through its [Source], stores every update in the
// shared cache and announces it on the event bus. When the upstream ends or
// fails the task exits and the key becomes available again; failures are
// announced as a single error event rather than returned to the caller of
// [Controller.Start], which has long since returned.
package stream
