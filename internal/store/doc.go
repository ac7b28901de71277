// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Message: conversation messages, replayed into context retrieval
//   - Invocation: per-query telemetry (state, agent, tokens, cost, latency)
//   - Event: calendar-like items served by the events retriever
//   - Record: financial records served by the records retriever
//
// SQLiteStore implements the Store interface plus the keyword search
// methods the retrievers consume. The database opens in WAL mode and the
// schema is created automatically.
package store
