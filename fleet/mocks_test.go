package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// --- Mock provider ---

type mockProvider struct {
	mu sync.Mutex

	// counts is what the provider reports as pending+running, per image
	counts map[string]int
	// countErr makes every counting query fail
	countErr error
	// requests maps request ids to their reported state
	requests map[string]RequestState
	// launchFunc overrides the default launch behavior
	launchFunc func(ctx context.Context, template *Template, name string) (Node, error)

	launches []string

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

var _ Provider = (*mockProvider)(nil)

func newMockProvider() *mockProvider {
	return &mockProvider{
		counts:     map[string]int{},
		requests:   map[string]RequestState{},
		shutdownCh: make(chan struct{}),
	}
}

func (p *mockProvider) CountInstances(_ context.Context, image string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.countErr != nil {
		return 0, p.countErr
	}
	if image == "" {
		return lo.Sum(lo.Values(p.counts)), nil
	}
	return p.counts[image], nil
}

func (p *mockProvider) DescribeRequest(_ context.Context, id string) (RequestState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.requests[id]
	if !ok {
		return "", fmt.Errorf("unknown request '%s'", id)
	}
	return state, nil
}

func (p *mockProvider) Launch(ctx context.Context, template *Template, name string) (Node, error) {
	p.mu.Lock()
	p.launches = append(p.launches, name)
	launchFunc := p.launchFunc
	p.mu.Unlock()

	if launchFunc != nil {
		return launchFunc(ctx, template, name)
	}
	return newMockNode(name, template), nil
}

func (p *mockProvider) Shutdown() {
	p.shutdownOnce.Do(func() { close(p.shutdownCh) })
}

func (p *mockProvider) Wait() {
	<-p.shutdownCh
}

func (p *mockProvider) getLaunches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, len(p.launches))
	copy(result, p.launches)
	return result
}

// --- Mock node ---

type mockNode struct {
	mu sync.Mutex

	name      string
	label     string
	image     string
	executors int

	online        bool
	idleExecutors int
	idleSince     time.Time
	requestID     string

	connectErr error
	terminated bool
}

var _ Node = (*mockNode)(nil)

func newMockNode(name string, template *Template) *mockNode {
	return &mockNode{
		name:      name,
		label:     template.Label,
		image:     template.Image,
		executors: template.Executors,
	}
}

func (n *mockNode) Name() string  { return n.name }
func (n *mockNode) Label() string { return n.label }
func (n *mockNode) Image() string { return n.image }

func (n *mockNode) Executors() int { return n.executors }

func (n *mockNode) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *mockNode) IdleExecutors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idleExecutors
}

func (n *mockNode) IdleSince() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idleSince
}

func (n *mockNode) RequestID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requestID
}

func (n *mockNode) Connect(ctx context.Context) error {
	if n.connectErr != nil {
		return n.connectErr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.online = true
	n.idleExecutors = n.executors
	n.idleSince = time.Now()
	return nil
}

func (n *mockNode) Terminate() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.terminated = true
	n.online = false
	return nil
}

func (n *mockNode) isTerminated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.terminated
}

// idleNode builds an online node that went idle at the given time.
func idleNode(name, label string, executors int, idleSince time.Time) *mockNode {
	return &mockNode{
		name:          name,
		label:         label,
		executors:     executors,
		online:        true,
		idleExecutors: executors,
		idleSince:     idleSince,
	}
}

// busyNode builds an online node with no idle executors.
func busyNode(name, label string, executors int) *mockNode {
	return &mockNode{
		name:      name,
		label:     label,
		executors: executors,
		online:    true,
	}
}

// offlineNode builds a not-yet-connected node with a provider request id.
func offlineNode(name, label string, executors int, requestID string) *mockNode {
	return &mockNode{
		name:      name,
		label:     label,
		executors: executors,
		requestID: requestID,
	}
}

// --- Templates ---

type staticTemplates []*Template

var _ TemplateSource = (staticTemplates)(nil)

func (s staticTemplates) TemplateForLabel(label string) *Template {
	template, _ := lo.Find(s, func(t *Template) bool { return t.Label == label })
	return template
}

func (s staticTemplates) Labels() []string {
	return lo.Map(s, func(t *Template, _ int) string { return t.Label })
}

// --- Helpers ---

func newTestConfig() Config {
	return Config{
		Logger:       slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError})),
		MaxInstances: 10,
		TickInterval: time.Minute,
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
