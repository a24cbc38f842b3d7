package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSweepInterval is how often expired keys are purged.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper is implemented by backends that keep expired keys until they are
// read. Redis expires keys itself and does not need it.
type Sweeper interface {
	Name() string
	SweepExpired(ctx context.Context) (int64, error)
}

// Janitor periodically purges expired keys from its sweepers.
type Janitor struct {
	sweepers []Sweeper
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// StartJanitor starts a janitor for sweepers. Stop must be called to end it.
func StartJanitor(ctx context.Context, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, sweepers ...Sweeper) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &Janitor{
		sweepers: sweepers,
		interval: interval,
		clock:    clock,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go j.run(ctx)
	return j
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every sweeper and returns the keys removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	var total int64
	for _, s := range j.sweepers {
		n, err := s.SweepExpired(ctx)
		if err != nil {
			j.logger.Warn("Expired key sweep failed", "backend", s.Name(), "error", err)
			continue
		}
		if n > 0 {
			j.logger.Debug("Swept expired keys", "backend", s.Name(), "count", n)
		}
		total += n
	}
	return total
}

// Stop ends the loop and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.cancel()
	<-j.done
}
