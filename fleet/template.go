package fleet

import (
	"time"

	"github.com/samber/lo"
)

// Template describes one kind of node the fleet can launch.
type Template struct {
	// Name identifies the template in logs and events
	Name string
	// Label is the workload label this template serves
	Label string
	// Image is the provider image identifier
	Image string
	// Flavor is the provider machine size identifier
	Flavor string
	// Executors is the number of executors each instance contributes
	Executors int
	// InstanceCap bounds the number of instances of this image, 0 = unbounded
	InstanceCap int
	// PrimedInstances is the number of idle instances to keep warm, 0 = none
	PrimedInstances int
	// PrimedWindows are the time ranges during which the primed target is enforced
	PrimedWindows []PrimedWindow
	// IdleTermination is how long a node may sit idle before retirement, 0 = never
	IdleTermination time.Duration
}

// PrimedWindowActive reports whether the primed-instance target applies at t.
// A template without any configured window enforces its target around the clock.
func (t *Template) PrimedWindowActive(now time.Time) bool {
	if len(t.PrimedWindows) == 0 {
		return true
	}
	return lo.SomeBy(t.PrimedWindows, func(w PrimedWindow) bool {
		return w.ActiveAt(now)
	})
}

// TemplateSource resolves templates for workload labels. Lookups are exact:
// a label with no template simply cannot be provisioned for.
type TemplateSource interface {
	TemplateForLabel(label string) *Template
	Labels() []string
}
