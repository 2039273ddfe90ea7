// Package cmap provides a sharded concurrent map.
//
// Each shard has its own RWMutex, so operations on different keys rarely
// contend. The persistence host keeps its agent registry in a Map.
//
//	m := cmap.New[string, *Agent]()
//	if !m.SetIfAbsent("planner", a) {
//		// already registered
//	}
package cmap
