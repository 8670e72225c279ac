// Package store provides the shared telemetry cache.
//
// This package is internal to vehicleboard and holds the latest known value
// of every telemetry key. One store is created per process at startup and
// shared by reference between the stream controller, the one-shot data
// service and the HTTP handlers.
//
// The main components are:
//
//   - [Store]: Interface defining update, point lookup and snapshot
//   - [MemoryStore]: In-memory implementation guarded by a single RWMutex
//   - [Record]: One telemetry value with its timestamp and raw payload
//
// Updates are last-write-wins. Reads always return copies, never references
// into the store.
package store
