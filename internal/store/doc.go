// Package store provides persistent storage for chatbot-gateway using SQLite.
//
// Two entity families live here:
//
//   - KnowledgeEntry: curated question/answer records with full CRUD plus a
//     candidate fetch used by the keyword search service
//   - Turn: one grouped exchange per session, moving through
//     pending -> processing -> completed|failed
//
// The turn pipeline's concurrency invariants are enforced at this layer with
// single conditional UPDATE statements:
//
//   - AppendToTurn only mutates a turn that is still pending
//   - ClaimTurn moves pending -> processing with exactly one winner
//   - FinalizeTurn writes the terminal state exactly once
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrTurnClaimed: a conditional transition lost the race
//   - ErrTurnFrozen: append attempted after the buffer was frozen
//
// All methods accept context.Context for cancellation support.
package store
