package fleet

import "context"

// PlannedNode is one accepted provisioning decision. Its executor contribution
// is already counted against demand; Wait resolves once the node is fully
// online, or with the launch error.
type PlannedNode struct {
	Name      string
	Executors int

	done chan any
	node Node
	err  error
}

func newPlannedNode(name string, executors int) *PlannedNode {
	return &PlannedNode{
		Name:      name,
		Executors: executors,

		done: make(chan any),
	}
}

// resolve completes the planned node, exactly once.
func (p *PlannedNode) resolve(node Node, err error) {
	p.node, p.err = node, err
	close(p.done)
}

// Wait blocks until the node is online or its launch has failed.
func (p *PlannedNode) Wait(ctx context.Context) (Node, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.node, p.err
	}
}
