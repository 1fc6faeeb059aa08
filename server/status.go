package main

import (
	"sync"
	"time"

	"github.com/gammadia/warden/fleet"
	"github.com/samber/lo"
)

// Status is the in-memory state reconstructed from the controller event
// stream. It backs the admin API read handlers.
type Status struct {
	StartedAt    time.Time     `json:"started_at"`
	Provider     string        `json:"provider"`
	MaxInstances int           `json:"max_instances"`
	Labels       []string      `json:"labels"`
	Nodes        []*NodeStatus `json:"nodes"`
}

type NodeStatus struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Image     string `json:"image"`
	Executors int    `json:"executors"`
	Online    bool   `json:"online"`
}

// serverStatus is written by listenEvents and read by the API handlers,
// protected by serverStatusMutex.
var serverStatus = &Status{}
var serverStatusMutex sync.RWMutex

// listenEvents runs as a dedicated goroutine (started in main.go). It's the
// only writer to serverStatus. It exits when the subscription channel is
// closed during shutdown.
func listenEvents(c <-chan fleet.Event) {
	for event := range c {
		serverStatusMutex.Lock()

		switch event := event.(type) {
		case fleet.EventPlanAccepted:
			serverStatus.Nodes = append(serverStatus.Nodes, &NodeStatus{
				Name:      event.Node,
				Label:     event.Label,
				Image:     event.Image,
				Executors: event.Executors,
			})
		case fleet.EventNodeOnline:
			for _, node := range serverStatus.Nodes {
				if node.Name == event.Node {
					node.Online = true
					break
				}
			}
		case fleet.EventNodeFailed:
			serverStatus.Nodes = lo.Reject(serverStatus.Nodes, func(n *NodeStatus, _ int) bool {
				return n.Name == event.Node
			})
		case fleet.EventNodeTerminated:
			serverStatus.Nodes = lo.Reject(serverStatus.Nodes, func(n *NodeStatus, _ int) bool {
				return n.Name == event.Node
			})
		}

		serverStatusMutex.Unlock()
	}
}

// snapshotStatus returns a copy safe to serialize outside the lock.
func snapshotStatus() Status {
	serverStatusMutex.RLock()
	defer serverStatusMutex.RUnlock()

	snapshot := *serverStatus
	snapshot.Nodes = lo.Map(serverStatus.Nodes, func(n *NodeStatus, _ int) *NodeStatus {
		node := *n
		return &node
	})
	return snapshot
}
