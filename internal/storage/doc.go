// Package storage defines the contract between the persister and the places
// checkpoint deltas are kept.
//
// A backend stores numbered deltas for one agent and a small set of sequence
// records naming which deltas form a replayable chain:
//
//   - The current set has an empty suffix. It is replaced atomically after
//     every committed delta.
//   - Archived sets are kept under a suffix derived from their first delta
//     when archiving is enabled, and remain eligible for rehydration.
//
// Implementations:
//
//   - file: one directory per agent, temp file plus rename per delta
//   - buffered: the file layout written by a background worker
//   - sqldb: SQL tables on a shared database connection
//   - kv: an embedded Badger store
//   - null: discards everything
//
// Every backend also implements a cross-process ownership protocol so two
// live instances of the same agent never write the same chain.
package storage
