// Package server provides the HTTP surface of the vehicle dashboard.
//
// Routes:
//
//   - GET  /                      embedded dashboard HTML
//   - POST /api/request_data      fetch one telemetry value now
//   - GET  /api/vehicle_data      cache snapshot
//   - GET  /api/stream/{key}      start a background stream
//   - GET  /api/events            Server-Sent Events feed
//   - GET  /api/events/ws         WebSocket feed
//   - GET  /api/headlights        headlight state
//   - PUT  /api/headlights        switch headlights
//   - GET  /healthz               liveness
//
// Failures are reported as {"error": "..."}: 400 for caller mistakes, 500
// for gateway and internal failures. Once an event feed is open it never
// fails at the HTTP level; stream failures arrive in-band as error events.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
