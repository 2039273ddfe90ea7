// Package persist checkpoints an agent's object graph and restores it after
// a restart.
//
// A Persister owns the identity table of one agent and a list of storage
// backends. Each epoch pulls the changes a Collaborator accumulated since the
// previous epoch, picks the backend whose schedule is due, and writes either
// an incremental delta (the changed objects) or a full delta (every live
// object). After every consolidation period a backend gets a full delta and
// its previous chain is archived or deleted.
//
// Rehydrate replays the newest readable chain across all backends, falling
// back to older ones when a chain is corrupt, and hands the active objects
// back grouped by owner.
//
// Persisters of one process share a Host, which rejects duplicate agent
// names and serializes graph encoding.
package persist
