// Package shutdown runs cleanup hooks when the agent is asked to stop.
//
// The agent registers the final full checkpoint and backend release as
// hooks, then blocks in Wait until SIGINT, SIGTERM or context
// cancellation.
package shutdown
