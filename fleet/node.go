package fleet

import (
	"context"
	"time"
)

// Node is a launched instance as seen by the controller. Implementations live
// with their provider; the controller only reads status and drives the
// connect/terminate lifecycle.
type Node interface {
	Name() string
	// Label is the workload label of the template that launched the node
	Label() string
	// Image is the provider image identifier the node runs
	Image() string
	// Executors is the total executor count of the node
	Executors() int
	// Online reports whether the node is connected and able to take work
	Online() bool
	// IdleExecutors is the number of executors currently without work
	IdleExecutors() int
	// IdleSince is when the node last became idle
	IdleSince() time.Time
	// RequestID is the provider-side handle of the provisioning request,
	// empty once the request has been fulfilled or if the provider has none
	RequestID() string
	// Connect blocks until the node is fully online or the launch has failed
	Connect(ctx context.Context) error
	Terminate() error
}

// isIdle is the single idle predicate shared by provisioning and retention.
// Using different rules in the two places would make them oscillate: the
// controller would keep replacing nodes that retention keeps retiring.
func isIdle(node Node) bool {
	return node.Online() && node.IdleExecutors() > 0
}

// countIdleNodes counts idle nodes whose label matches exactly.
func countIdleNodes(registry Registry, label string) int {
	count := 0
	for _, node := range registry.NodesByLabel(label) {
		if isIdle(node) {
			count++
		}
	}
	return count
}
