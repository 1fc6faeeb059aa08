package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/warden/namegen"
)

// Controller turns workload deficits into bounded plans of new-instance
// requests. Demand events, periodic sweeps, and retention checks may all call
// into it concurrently; the ledger is the only state that serializes them.
type Controller struct {
	config    Config
	provider  Provider
	registry  Registry
	templates TemplateSource
	ledger    *Ledger
	log       *slog.Logger

	// now is swapped out in tests
	now func() time.Time

	// wg tracks outstanding launch tasks
	wg sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[chan Event]any
}

func NewController(provider Provider, registry Registry, templates TemplateSource, config Config) *Controller {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		config:    config,
		provider:  provider,
		registry:  registry,
		templates: templates,
		ledger:    NewLedger(provider.CountInstances, config.MaxInstances, logger),
		log:       logger,

		now: time.Now,

		subscribers: make(map[chan Event]any),
	}
}

// CanProvision reports whether a template serves the label. No I/O.
func (c *Controller) CanProvision(label string) bool {
	return c.templates.TemplateForLabel(label) != nil
}

// Provision decides how many new instances to request for the label's excess
// workload, expressed in executor units. It returns as soon as launch tasks
// are scheduled; callers that need completion wait on the returned planned
// nodes. Cap exhaustion and unknown labels truncate the plan, they are never
// errors.
func (c *Controller) Provision(ctx context.Context, label string, excessWorkload int) []*PlannedNode {
	log := c.log.With("label", label)

	// Offline nodes whose provider request is still pending will come online
	// on their own; their executors must not be counted as unmet demand again.
	pendingNodes := 0
	for _, node := range c.registry.NodesByLabel(label) {
		if node.Online() {
			continue
		}
		id := node.RequestID()
		if id == "" {
			continue
		}
		state, err := c.provider.DescribeRequest(ctx, id)
		if err != nil {
			log.Warn("Failed to describe provisioning request", "request", id, "error", err)
			return nil
		}
		if state.Pending() {
			pendingNodes += 1
			excessWorkload -= node.Executors()
		}
	}

	idleNodes := countIdleNodes(c.registry, label) - pendingNodes

	template := c.templates.TemplateForLabel(label)
	if template == nil {
		log.Debug("No template for label, not provisioning")
		return nil
	}

	if shortfall := template.PrimedInstances - idleNodes; shortfall > 0 && template.PrimedWindowActive(c.now()) {
		log.Info("Inside primed window, inflating workload",
			"shortfall", shortfall, "idle", idleNodes, "target", template.PrimedInstances)
		excessWorkload += shortfall * template.Executors
	}

	// Launch tasks outlive the caller: a demand request returns as soon as
	// its plan is accepted, and its context may be cancelled right after.
	launchCtx := context.WithoutCancel(ctx)

	var plan []*PlannedNode
	for excessWorkload > 0 {
		granted, err := c.ledger.Reserve(ctx, template.Image, template.InstanceCap)
		if err != nil {
			log.Warn("Failed to count provider instances", "error", err)
			break
		}
		if !granted {
			c.publish(EventCapReached{Label: label, Image: template.Image})
			break
		}

		planned := newPlannedNode(fmt.Sprintf("warden-%s", namegen.Get()), template.Executors)
		plan = append(plan, planned)
		excessWorkload -= template.Executors

		log.Info("Provisioning a new node", "node", planned.Name, "image", template.Image)
		c.publish(EventPlanAccepted{
			Label:     label,
			Node:      planned.Name,
			Image:     template.Image,
			Executors: template.Executors,
		})

		c.wg.Add(1)
		go c.launch(launchCtx, template, planned)
	}

	return plan
}

// launch runs the asynchronous part of an accepted decision: request the
// instance, register it, and wait until it is fully online. The ledger slot is
// released on every exit path; a stranded slot would permanently lower the cap.
//
// The planned node only resolves once the node is connected. Nodes may take a
// long time to boot: resolving at request time would let a scheduler that
// re-evaluates capacity right away see an offline node with no capacity
// provisioned yet, and request one more instance.
func (c *Controller) launch(ctx context.Context, template *Template, planned *PlannedNode) {
	defer c.wg.Done()
	defer c.ledger.Release(template.Image)

	log := c.log.With("node", planned.Name, "label", template.Label)

	node, err := c.provider.Launch(ctx, template, planned.Name)
	if err != nil {
		log.Error("Failed to launch node", "error", err)
		c.publish(EventNodeFailed{Node: planned.Name, Label: template.Label, Error: err})
		planned.resolve(nil, fmt.Errorf("failed to launch node '%s': %w", planned.Name, err))
		return
	}

	c.registry.Register(node)

	if err := node.Connect(ctx); err != nil {
		log.Error("Failed to connect to node", "error", err)
		c.registry.Deregister(node)
		if terminateErr := node.Terminate(); terminateErr != nil {
			log.Error("Failed to terminate unreachable node", "error", terminateErr)
		}
		c.publish(EventNodeFailed{Node: planned.Name, Label: template.Label, Error: err})
		planned.resolve(nil, fmt.Errorf("failed to connect to node '%s': %w", planned.Name, err))
		return
	}

	log.Info("Node is online")
	c.publish(EventNodeOnline{Node: node.Name(), Label: template.Label})
	planned.resolve(node, nil)
}

// InFlight is the number of instances requested but not yet confirmed.
func (c *Controller) InFlight() int {
	return c.ledger.TotalInFlight()
}

// Wait blocks until all outstanding launch tasks have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Drain terminates and deregisters every known node, in parallel, and blocks
// until they are gone. Providers count each live node in their shutdown
// WaitGroup, so the fleet must be drained before waiting on the provider.
func (c *Controller) Drain() {
	var wg sync.WaitGroup
	for _, node := range c.registry.Nodes() {
		c.registry.Deregister(node)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := node.Terminate(); err != nil {
				c.log.Error("Failed to terminate node", "node", node.Name(), "error", err)
			}
			c.publish(EventNodeTerminated{
				Node:   node.Name(),
				Label:  node.Label(),
				Reason: "shutdown",
			})
		}()
	}
	wg.Wait()
}

// Subscribe returns a channel of controller events and a function to
// unsubscribe, which closes the channel so range loops over it terminate.
// Slow subscribers drop events instead of blocking decisions.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	channel := make(chan Event, 64)

	c.subMu.Lock()
	c.subscribers[channel] = nil
	c.subMu.Unlock()

	return channel, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()

		// publish sends while holding subMu, so closing under the same lock
		// cannot race a send; the guard makes unsubscribing twice harmless
		if _, subscribed := c.subscribers[channel]; subscribed {
			delete(c.subscribers, channel)
			close(channel)
		}
	}
}

func (c *Controller) publish(event Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for channel := range c.subscribers {
		select {
		case channel <- event:
		default: // subscriber is not keeping up
		}
	}
}
