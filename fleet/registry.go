package fleet

import (
	"sync"

	"github.com/samber/lo"
)

// Registry tracks the nodes this controller knows about. Label matching is
// exact string equality.
type Registry interface {
	Register(node Node)
	Deregister(node Node)
	Nodes() []Node
	NodesByLabel(label string) []Node
}

type memoryRegistry struct {
	mu    sync.RWMutex
	nodes []Node
}

// NewRegistry returns an in-memory Registry.
func NewRegistry() Registry {
	return &memoryRegistry{}
}

func (r *memoryRegistry) Register(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node)
}

func (r *memoryRegistry) Deregister(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = lo.Without(r.nodes, node)
}

func (r *memoryRegistry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]Node, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes
}

func (r *memoryRegistry) NodesByLabel(label string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.nodes, func(node Node, _ int) bool {
		return node.Label() == label
	})
}
