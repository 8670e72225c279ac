// Package poller periodically refreshes one-shot telemetry keys.
//
// The main components are:
//
//   - [Scheduler]: refreshes keys on a timer with a bounded worker pool
//   - [Job]: one key to refresh and its optional interval
//   - [Result]: outcome of refreshing a single key
//
// The fetch itself is supplied by the caller as a [FetchFunc]; in the
// dashboard it is the telemetry service's Refresh, which writes the cache.
package poller
