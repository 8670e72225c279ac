// Package telemetry implements the one-shot side of the dashboard: asking
// the gateway for a value right now, reading the cache snapshot, and the
// headlight get/set pair.
package telemetry
