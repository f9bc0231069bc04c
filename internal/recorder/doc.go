// Package recorder persists push payloads to PostgreSQL.
//
// A Recorder is registered as a connection listener. Payloads are queued
// without blocking the dispatching goroutine, dropped when the queue is
// full, and written in batches to the push_events table. Rows are
// append-only.
package recorder
