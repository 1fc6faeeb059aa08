package fleet

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Decision is the outcome of a retention check.
type Decision string

const (
	Keep      Decision = "keep"
	Terminate Decision = "terminate"
)

// RetentionPolicy decides whether an idle node should be retired or kept as
// primed buffer capacity. It shares the idle predicate and the primed target
// with the provisioning side.
type RetentionPolicy struct {
	registry  Registry
	templates TemplateSource
	log       *slog.Logger

	disabled atomic.Bool

	// now is swapped out in tests
	now func() time.Time
}

func NewRetentionPolicy(registry Registry, templates TemplateSource, config Config) *RetentionPolicy {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := &RetentionPolicy{
		registry:  registry,
		templates: templates,
		log:       logger,

		now: time.Now,
	}
	policy.disabled.Store(config.RetentionDisabled)
	return policy
}

// SetDisabled toggles the global kill switch for idle termination.
func (r *RetentionPolicy) SetDisabled(disabled bool) {
	r.disabled.Store(disabled)
}

// Evaluate returns Terminate only when the node has been idle past its
// template's threshold AND retiring it still leaves the primed target covered.
func (r *RetentionPolicy) Evaluate(node Node) Decision {
	template := r.templates.TemplateForLabel(node.Label())
	if template == nil || template.IdleTermination == 0 {
		// Never terminate without an explicit threshold
		return Keep
	}

	if r.disabled.Load() || !isIdle(node) {
		return Keep
	}

	idleFor := r.now().Sub(node.IdleSince())
	if idleFor <= template.IdleTermination {
		return Keep
	}

	if countIdleNodes(r.registry, node.Label()) > template.PrimedInstances {
		r.log.Info("Node exceeded idle threshold",
			"node", node.Name(), "idle", idleFor, "threshold", template.IdleTermination)
		return Terminate
	}

	// The node is serving as primed buffer capacity
	return Keep
}
