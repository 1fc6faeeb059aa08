package fleet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(provider *mockProvider, registry Registry, templates TemplateSource) *Controller {
	return NewController(provider, registry, templates, newTestConfig())
}

// awaitPlan resolves every planned node, failing the test on timeout.
func awaitPlan(t *testing.T, plan []*PlannedNode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, planned := range plan {
		if _, err := planned.Wait(ctx); err != nil && ctx.Err() != nil {
			t.Fatalf("timed out waiting for planned node '%s'", planned.Name)
		}
	}
}

func testTemplate() *Template {
	return &Template{
		Name:      "builder",
		Label:     "linux",
		Image:     "img-a",
		Executors: 2,
	}
}

func TestProvisionUnknownLabel(t *testing.T) {
	provider := newMockProvider()
	c := newTestController(provider, NewRegistry(), staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "windows", 10)

	assert.Empty(t, plan, "an unmatched label fails closed, without error")
	assert.Empty(t, provider.getLaunches())
}

func TestProvisionZeroWorkload(t *testing.T) {
	provider := newMockProvider()
	c := newTestController(provider, NewRegistry(), staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "linux", 0)

	assert.Empty(t, plan)
	assert.Equal(t, 0, c.InFlight(), "no reservation may be made for zero workload")
}

func TestProvisionLaunchesEnoughNodes(t *testing.T) {
	provider := newMockProvider()
	registry := NewRegistry()
	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	// 5 executor units of demand at 2 executors per instance = 3 instances
	plan := c.Provision(context.Background(), "linux", 5)

	require.Len(t, plan, 3)
	assert.Equal(t, 6, lo.SumBy(plan, func(p *PlannedNode) int { return p.Executors }))

	awaitPlan(t, plan)
	c.Wait()

	assert.Len(t, registry.NodesByLabel("linux"), 3)
	assert.Equal(t, 0, c.InFlight(), "every launch task must release its slot")
}

func TestProvisionStopsAtImageCap(t *testing.T) {
	provider := newMockProvider()
	template := testTemplate()
	template.InstanceCap = 2
	c := newTestController(provider, NewRegistry(), staticTemplates{template})

	// Demand for 5 instances, cap allows 2: the remainder stays unfulfilled
	// without any error surfacing.
	plan := c.Provision(context.Background(), "linux", 10)

	require.Len(t, plan, 2)
	assert.Equal(t, 4, lo.SumBy(plan, func(p *PlannedNode) int { return p.Executors }))
	awaitPlan(t, plan)
	c.Wait()
}

func TestProvisionStopsAtGlobalCap(t *testing.T) {
	provider := newMockProvider()
	provider.counts["img-other"] = 3 // instances of another image count too
	config := newTestConfig()
	config.MaxInstances = 5
	c := NewController(provider, NewRegistry(), staticTemplates{testTemplate()}, config)

	plan := c.Provision(context.Background(), "linux", 100)

	require.Len(t, plan, 2)
	awaitPlan(t, plan)
	c.Wait()
}

func TestProvisionCountingFailureTruncatesPlan(t *testing.T) {
	provider := newMockProvider()
	provider.countErr = fmt.Errorf("compute api is down")
	c := newTestController(provider, NewRegistry(), staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "linux", 10)

	assert.Empty(t, plan, "a provider failure truncates the plan, it never raises")
}

func TestProvisionSubtractsPendingNodes(t *testing.T) {
	provider := newMockProvider()
	provider.requests["req-1"] = RequestOpen
	provider.requests["req-2"] = RequestFailed

	registry := NewRegistry()
	// req-1 is still pending: its 2 executors already cover part of the demand.
	// req-2 failed, so that node covers nothing. The idle node keeps the
	// idle count from going negative once the pending node is subtracted.
	registry.Register(offlineNode("node-1", "linux", 2, "req-1"))
	registry.Register(offlineNode("node-2", "linux", 2, "req-2"))
	registry.Register(idleNode("node-3", "linux", 2, time.Now()))

	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "linux", 4)

	require.Len(t, plan, 1, "pending executors must not be double-counted")
	awaitPlan(t, plan)
	c.Wait()
}

func TestProvisionPrimedShortfallInflatesWorkload(t *testing.T) {
	provider := newMockProvider()
	template := testTemplate()
	template.PrimedInstances = 2
	template.PrimedWindows = []PrimedWindow{{Start: "09:00", End: "17:00"}}

	registry := NewRegistry()
	registry.Register(idleNode("node-1", "linux", 2, time.Now()))

	c := newTestController(provider, registry, staticTemplates{template})
	c.now = func() time.Time { return clock(12, 0) }

	// No demand, one idle node, target of two: one primed instance is missing
	plan := c.Provision(context.Background(), "linux", 0)

	require.Len(t, plan, 1)
	awaitPlan(t, plan)
	c.Wait()
}

func TestProvisionPrimedShortfallOutsideWindow(t *testing.T) {
	provider := newMockProvider()
	template := testTemplate()
	template.PrimedInstances = 2
	template.PrimedWindows = []PrimedWindow{{Start: "09:00", End: "17:00"}}

	c := newTestController(provider, NewRegistry(), staticTemplates{template})
	c.now = func() time.Time { return clock(3, 0) }

	plan := c.Provision(context.Background(), "linux", 0)

	assert.Empty(t, plan, "the primed target is only enforced inside the window")
}

func TestProvisionSatisfiedPrimedTarget(t *testing.T) {
	provider := newMockProvider()
	template := testTemplate()
	template.PrimedInstances = 1

	registry := NewRegistry()
	registry.Register(idleNode("node-1", "linux", 2, time.Now()))
	registry.Register(busyNode("node-2", "linux", 2))

	c := newTestController(provider, registry, staticTemplates{template})

	plan := c.Provision(context.Background(), "linux", 0)

	assert.Empty(t, plan, "an already covered target must not inflate workload")
}

func TestLaunchFailureReleasesSlotAndResolvesError(t *testing.T) {
	provider := newMockProvider()
	provider.launchFunc = func(context.Context, *Template, string) (Node, error) {
		return nil, fmt.Errorf("quota exceeded")
	}
	registry := NewRegistry()
	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "linux", 1)
	require.Len(t, plan, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	node, err := plan[0].Wait(ctx)
	assert.Nil(t, node)
	assert.ErrorContains(t, err, "quota exceeded")

	c.Wait()
	assert.Equal(t, 0, c.InFlight(), "a failed launch must release its ledger slot")
	assert.Empty(t, registry.Nodes(), "no node is registered on launch failure")
}

func TestConnectFailureRetiresNode(t *testing.T) {
	var launched *mockNode
	provider := newMockProvider()
	provider.launchFunc = func(_ context.Context, template *Template, name string) (Node, error) {
		launched = newMockNode(name, template)
		launched.connectErr = fmt.Errorf("ssh timeout")
		return launched, nil
	}
	registry := NewRegistry()
	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	plan := c.Provision(context.Background(), "linux", 1)
	require.Len(t, plan, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := plan[0].Wait(ctx)
	assert.ErrorContains(t, err, "ssh timeout")

	c.Wait()
	assert.Equal(t, 0, c.InFlight())
	assert.Empty(t, registry.Nodes(), "an unreachable node must not linger in the registry")
	assert.True(t, launched.isTerminated())
}

// gatedNode blocks Connect until released, then fails if its context has
// already been cancelled, the way real provider nodes abort their retries.
type gatedNode struct {
	*mockNode
	release chan struct{}
}

func (n *gatedNode) Connect(ctx context.Context) error {
	<-n.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.mockNode.Connect(ctx)
}

func TestProvisionOutlivesDemandContext(t *testing.T) {
	provider := newMockProvider()
	registry := NewRegistry()
	release := make(chan struct{})
	provider.launchFunc = func(_ context.Context, template *Template, name string) (Node, error) {
		return &gatedNode{mockNode: newMockNode(name, template), release: release}, nil
	}
	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	// A demand caller cancels its context as soon as it has the plan in hand
	ctx, cancel := context.WithCancel(context.Background())
	plan := c.Provision(ctx, "linux", 2)
	require.Len(t, plan, 1)
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	node, err := plan[0].Wait(waitCtx)
	require.NoError(t, err, "launch tasks must outlive the demand call that scheduled them")
	assert.True(t, node.Online())

	c.Wait()
	assert.Len(t, registry.NodesByLabel("linux"), 1)
	assert.Equal(t, 0, c.InFlight())
}

func TestDrainTerminatesAllNodes(t *testing.T) {
	provider := newMockProvider()
	registry := NewRegistry()
	c := newTestController(provider, registry, staticTemplates{testTemplate()})

	idle := idleNode("node-1", "linux", 2, time.Now())
	busy := busyNode("node-2", "linux", 2)
	registry.Register(idle)
	registry.Register(busy)

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.Drain()

	assert.Empty(t, registry.Nodes(), "drain must leave no node behind")
	assert.True(t, idle.isTerminated())
	assert.True(t, busy.isTerminated(), "busy nodes terminate too, the daemon is going away")

	terminated := 0
	deadline := time.After(5 * time.Second)
	for terminated < 2 {
		select {
		case event := <-events:
			if e, ok := event.(EventNodeTerminated); ok {
				assert.Equal(t, "shutdown", e.Reason)
				terminated++
			}
		case <-deadline:
			t.Fatalf("timed out waiting for termination events (got %d)", terminated)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := newTestController(newMockProvider(), NewRegistry(), staticTemplates{testTemplate()})

	events, unsubscribe := c.Subscribe()
	unsubscribe()
	unsubscribe() // unsubscribing twice must not panic

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-events:
			if !open {
				return // range loops over the channel can terminate
			}
		case <-deadline:
			t.Fatal("timed out waiting for the event channel to close")
		}
	}
}

func TestCanProvision(t *testing.T) {
	c := newTestController(newMockProvider(), NewRegistry(), staticTemplates{testTemplate()})

	assert.True(t, c.CanProvision("linux"))
	assert.False(t, c.CanProvision("windows"))
}

func TestControllerEvents(t *testing.T) {
	provider := newMockProvider()
	template := testTemplate()
	template.InstanceCap = 1
	c := newTestController(provider, NewRegistry(), staticTemplates{template})

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	plan := c.Provision(context.Background(), "linux", 4)
	require.Len(t, plan, 1)
	awaitPlan(t, plan)
	c.Wait()

	var accepted, capped, online bool
	deadline := time.After(5 * time.Second)
	for !(accepted && capped && online) {
		select {
		case event := <-events:
			switch event.(type) {
			case EventPlanAccepted:
				accepted = true
			case EventCapReached:
				capped = true
			case EventNodeOnline:
				online = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events (accepted=%v capped=%v online=%v)",
				accepted, capped, online)
		}
	}
}
