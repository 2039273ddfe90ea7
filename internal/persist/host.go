package persist

import (
	"errors"
	"sync"

	"github.com/codeaudit/cougaar-core-sub004/pkg/cmap"
)

// ErrDuplicateAgent is returned when a second Persister registers an agent
// name that is already in use on the same Host.
var ErrDuplicateAgent = errors.New("persist: agent already registered")

// Host is the process-wide registry of persisting agents.
type Host struct {
	agents *cmap.Map[string, *Persister]

	// encodeMu is held while a graph is walked and encoded, and released
	// before the bytes go to a backend.
	encodeMu sync.Mutex
}

// NewHost returns an empty host.
func NewHost() *Host {
	return &Host{agents: cmap.New[string, *Persister]()}
}

var defaultHost = NewHost()

// DefaultHost returns the host used when Config.Host is nil.
func DefaultHost() *Host { return defaultHost }

func (h *Host) register(p *Persister) error {
	if !h.agents.SetIfAbsent(p.agent, p) {
		return ErrDuplicateAgent
	}
	return nil
}

func (h *Host) unregister(p *Persister) {
	if cur, ok := h.agents.Get(p.agent); ok && cur == p {
		h.agents.Delete(p.agent)
	}
}

// Agents returns the registered agent names in order.
func (h *Host) Agents() []string {
	return cmap.SortedKeys(h.agents, func(a, b string) bool { return a < b })
}

// Lookup returns the Persister registered for agent.
func (h *Host) Lookup(agent string) (*Persister, bool) {
	return h.agents.Get(agent)
}
