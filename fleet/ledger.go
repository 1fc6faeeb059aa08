package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InstanceCounter reports how many provider instances of an image are in a
// countable state (pending or running). An empty image counts every image.
// This includes instances started outside this controller.
type InstanceCounter func(ctx context.Context, image string) (int, error)

// Ledger tracks instances that have been requested but are not necessarily
// reported by the provider yet. Provider state is eventually consistent;
// without this bookkeeping, concurrent decisions would overshoot the caps
// before the provider reflects the instances they already requested.
type Ledger struct {
	count        InstanceCounter
	maxInstances int
	log          *slog.Logger

	mu       sync.Mutex
	inflight map[string]int
}

// NewLedger creates a ledger enforcing a global cap of maxInstances across all
// images, 0 = unbounded.
func NewLedger(count InstanceCounter, maxInstances int, logger *slog.Logger) *Ledger {
	return &Ledger{
		count:        count,
		maxInstances: maxInstances,
		log:          logger,

		inflight: make(map[string]int),
	}
}

// Reserve atomically claims one in-flight slot for image, unless the global
// cap or imageCap (0 = unbounded) would be exceeded. The provider counting
// queries run outside the lock: they are remote I/O and must not serialize
// concurrent decisions. Only the compare-and-increment is locked, which closes
// the window between decision and commit; the provider read itself is
// inherently stale regardless of locking.
func (l *Ledger) Reserve(ctx context.Context, image string, imageCap int) (bool, error) {
	estimatedTotal, err := l.count(ctx, "")
	if err != nil {
		return false, fmt.Errorf("failed to count instances: %w", err)
	}
	estimatedImage, err := l.count(ctx, image)
	if err != nil {
		return false, fmt.Errorf("failed to count instances of image '%s': %w", image, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The global estimate sums in-flight counts across every image, even when
	// only one image's cap is being tested.
	for _, n := range l.inflight {
		estimatedTotal += n
	}
	estimatedImage += l.inflight[image]

	if l.maxInstances > 0 && estimatedTotal >= l.maxInstances {
		l.log.Info("Total instance cap reached, not provisioning",
			"cap", l.maxInstances, "estimated", estimatedTotal)
		return false, nil
	}
	if imageCap > 0 && estimatedImage >= imageCap {
		l.log.Info("Image instance cap reached, not provisioning",
			"image", image, "cap", imageCap, "estimated", estimatedImage)
		return false, nil
	}

	l.inflight[image] += 1
	return true, nil
}

// Release gives back one in-flight slot for image. It is floored at zero and
// tolerates unknown images, so double releases are harmless.
func (l *Ledger) Release(image string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.inflight[image]
	if !ok {
		return
	}
	l.inflight[image] = max(current-1, 0)
}

// InFlight returns the in-flight count for image.
func (l *Ledger) InFlight(image string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[image]
}

// TotalInFlight returns the in-flight count summed across all images.
func (l *Ledger) TotalInFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, n := range l.inflight {
		total += n
	}
	return total
}
