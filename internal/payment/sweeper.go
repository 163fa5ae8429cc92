package payment

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reconciles pending records whose callback never
// arrived. Each stale record is resolved by querying the gateway; records
// the gateway cannot yet answer for stay pending and are retried on the
// next pass.
type Sweeper struct {
	repo       Repository
	reconciler *Reconciler
	metrics    *Metrics
	logger     *slog.Logger
	minAge     time.Duration
	interval   time.Duration
	batchSize  int
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// SweeperConfig contains configuration for the pending-payment sweep.
type SweeperConfig struct {
	// MinAge is how long a record must have been pending before the sweep
	// queries the gateway for it. Default: 2 minutes, comfortably beyond
	// the push prompt timeout.
	MinAge time.Duration

	// Interval is how often to run the sweep. Default: 1 minute.
	Interval time.Duration

	// BatchSize caps the number of records reconciled per pass.
	// Default: 50.
	BatchSize int
}

// NewSweeper creates a new sweeper.
func NewSweeper(repo Repository, reconciler *Reconciler, metrics *Metrics, logger *slog.Logger, config SweeperConfig) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}

	// Apply defaults if not set
	if config.MinAge == 0 {
		config.MinAge = 2 * time.Minute
	}
	if config.Interval == 0 {
		config.Interval = 1 * time.Minute
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}

	return &Sweeper{
		repo:       repo,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		minAge:     config.MinAge,
		interval:   config.Interval,
		batchSize:  config.BatchSize,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// run executes the sweep loop.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("payment sweeper started",
		slog.Duration("min_age", s.minAge),
		slog.Duration("interval", s.interval),
		slog.Int("batch_size", s.batchSize))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("payment sweeper stopping due to context cancellation")
			return
		case <-s.stopChan:
			s.logger.Info("payment sweeper stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("payment sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs a single reconciliation pass over stale pending records.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	s.metrics.IncSweepRun()

	cutoff := time.Now().Add(-s.minAge)
	records, err := s.repo.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	resolved := 0
	for _, record := range records {
		updated, err := s.reconciler.ReconcileViaQuery(ctx, record.CheckoutRequestID)
		if err != nil {
			// Completion failures are already logged loudly by the
			// dispatcher; keep sweeping the rest of the batch.
			s.logger.Error("sweep reconciliation failed",
				slog.String("checkout_request_id", record.CheckoutRequestID),
				slog.String("error", err.Error()))
			continue
		}
		if updated.Terminal() {
			resolved++
		}
	}

	s.metrics.AddSweepReconciled(resolved)
	s.logger.Info("payment sweep completed",
		slog.Int("examined", len(records)),
		slog.Int("resolved", resolved),
		slog.Duration("duration", time.Since(start)))
	return nil
}
