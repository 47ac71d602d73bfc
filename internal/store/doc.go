// Package store provides persistent storage for waylink using SQLite.
//
// # Architecture
//
// The Store interface covers all persistence concerns; SQLiteStore
// implements it in a single struct, and MockStore provides an in-memory
// implementation for tests.
//
// # Data Models
//
// Core models:
//
//   - Session: One WhatsApp link slot owned by a user, with lifecycle status
//   - Agent: Auto-responder persona with trigger keywords and knowledge entries
//   - APIKey: Hashed service credential (plaintext shown once at creation)
//   - AutoResponseConfig: Per-owner default-trigger settings
//   - MessageRecord: Inbound/outbound message history
//
// Auth state blobs hold opaque transport credentials, one per session,
// and are deleted together with the session.
//
// # SQLite Implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no CGo) with:
//
//   - WAL journal mode for concurrent readers
//   - Foreign key constraints (message and auth-state rows cascade on
//     session delete)
//   - Schema creation on open (idempotent CREATE TABLE IF NOT EXISTS)
//   - RFC3339 UTC strings for all timestamps
//
// # Error Handling
//
// Sentinel errors for common conditions:
//
//   - ErrNotFound: Entity does not exist
//   - ErrDuplicateSession: Owner already has a session with that name
//   - ErrDuplicateAgent: Owner already has an agent with that name
//
// Callers should use errors.Is for comparison.
package store
