package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"github.com/kursadbilgin/codegen-engine/internal/registry"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultPendingTaskTTL = 15 * time.Minute
)

// Sweeper periodically cancels tasks nobody started and drops expired
// preview confirmations.
type Sweeper struct {
	registry   *registry.Registry
	gate       *PreviewGate
	metrics    *observability.Metrics
	logger     *zap.Logger
	interval   time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

func NewSweeper(
	reg *registry.Registry,
	gate *PreviewGate,
	interval time.Duration,
	pendingTTL time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Sweeper, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTaskTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		registry:   reg,
		gate:       gate,
		metrics:    metrics,
		logger:     logger,
		interval:   interval,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	now := s.now()

	cancelled := s.registry.SweepPending(now.Add(-s.pendingTTL))
	if len(cancelled) > 0 {
		s.logger.Info("cancelled stale pending generations",
			zap.Int("count", len(cancelled)),
			zap.Strings("taskIds", cancelled),
		)
	}

	if s.gate != nil {
		if expired := s.gate.SweepExpired(now); expired > 0 {
			s.logger.Info("dropped expired previews", zap.Int("count", expired))
		}
	}

	stats := s.registry.Stats()
	s.metrics.SetRegistryTasks(stats.Active, stats.Retained)
}
