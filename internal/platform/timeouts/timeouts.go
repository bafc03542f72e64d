// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// PersistRetry caps the total time spent retrying one durable write before
// the triggering pipeline stage reports a persistence failure.
const PersistRetry = 10 * time.Second

// Shutdown limits how long the runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StoreOpen caps the wait when opening the SQLite store at startup.
const StoreOpen = 5 * time.Second
