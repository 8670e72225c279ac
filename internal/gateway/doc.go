// Package gateway provides the HTTP client for the vehicle gateway.
//
// This package is internal to vehicleboard and handles all upstream traffic:
// one-shot reads and writes with bounded retry, and the long-lived
// text/event-stream connection used for live fuel level updates.
//
// The main components are:
//
//   - [Client]: retrying HTTP client for the gateway API
//   - [Stream]: a single open server-push connection, read lazily
//   - [ConnectionError], [RequestError], [ValidationError]: the failure taxonomy
//
// Only [ConnectionError] and 5xx [RequestError] values are retried. A stream
// is never reconnected once open; callers start a new one instead.
package gateway
