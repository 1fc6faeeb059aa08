package fleet

import (
	"context"
	"log/slog"
	"time"
)

// Driver periodically re-evaluates every known label as a safety net
// independent of demand events, and retires nodes the retention policy gives
// up on. The driver owns the timer; the controller performs no
// self-scheduling.
type Driver struct {
	controller *Controller
	retention  *RetentionPolicy
	log        *slog.Logger

	initialDelay time.Duration
	interval     time.Duration

	stop chan any
	done chan any
}

func NewDriver(controller *Controller, retention *RetentionPolicy, config Config) *Driver {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		controller: controller,
		retention:  retention,
		log:        logger,

		initialDelay: config.InitialDelay,
		interval:     config.TickInterval,

		stop: make(chan any),
		done: make(chan any),
	}
}

// Run blocks until Stop is called. The initial delay gives nodes connected at
// startup a chance to come online before the first sweep requests more.
func (d *Driver) Run() {
	defer close(d.done)

	if d.initialDelay > 0 {
		select {
		case <-time.After(d.initialDelay):
		case <-d.stop:
			return
		}
	}

	d.log.Info("Driver is running", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Tick(context.Background())
		case <-d.stop:
			d.log.Info("Driver is stopping")
			return
		}
	}
}

// Stop halts the periodic sweep and waits for Run to return.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
}

// Tick sweeps all known labels with a zero workload deficit, which covers
// primed shortfall even when no demand events arrive, then retires idle nodes.
func (d *Driver) Tick(ctx context.Context) {
	for _, label := range d.controller.templates.Labels() {
		if d.controller.CanProvision(label) {
			d.controller.Provision(ctx, label, 0)
		}
	}

	d.sweepIdleNodes()
}

func (d *Driver) sweepIdleNodes() {
	for _, node := range d.controller.registry.Nodes() {
		if d.retention.Evaluate(node) != Terminate {
			continue
		}

		d.log.Info("Terminating idle node", "node", node.Name())
		d.controller.registry.Deregister(node)

		go func() {
			if err := node.Terminate(); err != nil {
				d.log.Error("Failed to terminate node", "node", node.Name(), "error", err)
			}
			d.controller.publish(EventNodeTerminated{
				Node:   node.Name(),
				Label:  node.Label(),
				Reason: "idle-timeout",
			})
		}()
	}
}
