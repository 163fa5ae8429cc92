package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrCompletionFailed is returned when the business-side write for a paid
// record fails. Money has already moved, so this is the highest-severity
// error class: it is logged loudly and must be resolved by operational
// replay, never dropped.
var ErrCompletionFailed = errors.New("completion failed after successful payment")

// CompletionHandler performs the business side effect for one purpose.
// Implementations must be idempotent (upsert-by-subject semantics) because a
// failed write releases the completion claim for a later retry.
type CompletionHandler interface {
	Complete(ctx context.Context, record *PaymentRecord) error
}

// Dispatcher runs the purpose-specific side effect for a successful payment
// exactly once, guarded by an atomic claim on completion_applied.
type Dispatcher struct {
	repo     Repository
	handlers map[Purpose]CompletionHandler
	metrics  *Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Every known purpose must have a
// handler; a missing registration is a wiring bug surfaced at startup.
func NewDispatcher(repo Repository, handlers map[Purpose]CompletionHandler, metrics *Metrics, logger *slog.Logger) (*Dispatcher, error) {
	for _, purpose := range []Purpose{PurposeSellerRegistration, PurposePackageUpgrade, PurposeServiceBooking} {
		if handlers[purpose] == nil {
			return nil, fmt.Errorf("no completion handler registered for purpose %q", purpose)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:     repo,
		handlers: handlers,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Dispatch applies the completion side effect for a successful record.
// Safe to call repeatedly and concurrently for the same record: the atomic
// claim makes exactly one caller perform the effect; the rest no-op.
//
// If the business write fails the claim is released so a replay (sweep or
// operational tool) can re-attempt; the handlers' idempotent writes make
// the retry safe.
func (d *Dispatcher) Dispatch(ctx context.Context, record *PaymentRecord) error {
	if record.Status != StatusSuccess {
		return fmt.Errorf("cannot dispatch completion for status %q", record.Status)
	}

	claimed, err := d.repo.ClaimCompletion(ctx, record.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("claim completion: %w", err)
	}
	if !claimed {
		d.logger.InfoContext(ctx, "completion already applied, skipping",
			"checkout_request_id", record.CheckoutRequestID,
			"purpose", record.Purpose)
		return nil
	}

	handler := d.handlers[record.Purpose]
	if err := handler.Complete(ctx, record); err != nil {
		if releaseErr := d.repo.ReleaseCompletion(ctx, record.CheckoutRequestID); releaseErr != nil {
			d.logger.ErrorContext(ctx, "failed to release completion claim",
				"checkout_request_id", record.CheckoutRequestID,
				"error", releaseErr)
		}
		d.metrics.IncCompletion(record.Purpose, "failed")
		// Collected money without delivered value: alert for replay.
		d.logger.ErrorContext(ctx, "completion failed for paid record, operational replay required",
			"checkout_request_id", record.CheckoutRequestID,
			"purpose", record.Purpose,
			"error", err)
		return fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	d.metrics.IncCompletion(record.Purpose, "applied")
	d.logger.InfoContext(ctx, "completion applied",
		"checkout_request_id", record.CheckoutRequestID,
		"purpose", record.Purpose)
	return nil
}
