package fleetfile

import (
	"fmt"
	"regexp"
	"time"

	"github.com/samber/lo"
)

const FleetfileVersion = "1"

// Fleetfile is the YAML shape of a fleet definition, before it is turned into
// fleet templates.
type Fleetfile struct {
	Version      string
	MaxInstances int `yaml:"max_instances"`
	Templates    []FleetfileTemplate
}

type FleetfileTemplate struct {
	Name            string
	Label           string
	Image           string
	Flavor          string
	Executors       int
	InstanceCap     int               `yaml:"instance_cap"`
	PrimedInstances int               `yaml:"primed_instances"`
	PrimedWindows   []FleetfileWindow `yaml:"primed_windows"`
	IdleTermination string            `yaml:"idle_termination"`
}

type FleetfileWindow struct {
	Start string
	End   string
	Days  []string
}

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
var clockRegex = regexp.MustCompile(`^[0-9]{1,2}:[0-9]{2}$`)

var weekdays = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

func (f Fleetfile) Validate() error {
	if f.Version != FleetfileVersion {
		return fmt.Errorf("unsupported version '%s'", f.Version)
	}

	if f.MaxInstances < 0 {
		return fmt.Errorf("max_instances must not be negative")
	}

	if len(f.Templates) < 1 {
		return fmt.Errorf("at least one template is required")
	}

	labels := map[string]string{}
	for i, template := range f.Templates {
		where := fmt.Sprintf("templates[%d]", i)

		if !nameRegex.MatchString(template.Name) {
			return fmt.Errorf("%s.name must be a valid identifier", where)
		}
		if template.Label == "" {
			return fmt.Errorf("%s.label is required", where)
		}
		if previous, taken := labels[template.Label]; taken {
			return fmt.Errorf("%s.label '%s' is already used by template '%s'", where, template.Label, previous)
		}
		labels[template.Label] = template.Name

		if template.Image == "" {
			return fmt.Errorf("%s.image is required", where)
		}
		if template.Executors < 1 {
			return fmt.Errorf("%s.executors must be at least 1", where)
		}
		if template.InstanceCap < 0 || template.PrimedInstances < 0 {
			return fmt.Errorf("%s instance counts must not be negative", where)
		}

		if template.IdleTermination != "" {
			if _, err := time.ParseDuration(template.IdleTermination); err != nil {
				return fmt.Errorf("%s.idle_termination is not a valid duration: %w", where, err)
			}
		}

		for j, window := range template.PrimedWindows {
			if err := window.validate(); err != nil {
				return fmt.Errorf("%s.primed_windows[%d]: %w", where, j, err)
			}
		}
	}

	return nil
}

func (w FleetfileWindow) validate() error {
	// An empty start and end is a valid always-active window
	if err := validateClock(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := validateClock(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if (w.Start == "") != (w.End == "") {
		return fmt.Errorf("start and end must both be set, or both empty")
	}

	for _, day := range w.Days {
		if _, ok := weekdays[day]; !ok {
			return fmt.Errorf("unknown day '%s' (expected %v)", day, lo.Keys(weekdays))
		}
	}

	return nil
}

func validateClock(value string) error {
	if value == "" {
		return nil
	}
	if !clockRegex.MatchString(value) {
		return fmt.Errorf("'%s' must be in the format hh:mm", value)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return fmt.Errorf("'%s' must be in the format hh:mm", value)
	}
	if hour > 23 || minute > 59 {
		return fmt.Errorf("'%s' is not a valid time of day", value)
	}
	return nil
}
