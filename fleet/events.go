package fleet

type Event interface{}

// Provisioning

type EventPlanAccepted struct {
	Label     string
	Node      string
	Image     string
	Executors int
}

type EventCapReached struct {
	Label string
	Image string
}

// Nodes

type EventNodeOnline struct {
	Node  string
	Label string
}

type EventNodeFailed struct {
	Node  string
	Label string
	Error error
}

type EventNodeTerminated struct {
	Node   string
	Label  string
	Reason string
}
