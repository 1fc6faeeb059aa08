package fleet

import (
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	// Logger used by the controller and its components
	Logger *slog.Logger
	// MaxInstances bounds the fleet size across all images, 0 = unbounded
	MaxInstances int
	// RetentionDisabled turns off idle termination entirely
	RetentionDisabled bool
	// TickInterval is how often the periodic driver sweeps all labels
	TickInterval time.Duration
	// InitialDelay postpones the first sweep, giving nodes connected at
	// startup a chance to come online before more are requested
	InitialDelay time.Duration
}

func Validate(config Config) error {
	if config.MaxInstances < 0 {
		return fmt.Errorf("max instances must not be negative")
	}
	if config.TickInterval < 0 || config.InitialDelay < 0 {
		return fmt.Errorf("driver durations must not be negative")
	}
	return nil
}
