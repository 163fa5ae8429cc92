package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/huduma-collective/hudumahub/internal/mpesa"
)

// Reconciler applies terminal outcomes to pending payment records. Both the
// asynchronous callback path and the query-driven fallback path (poller,
// sweep) funnel through the same conditional transition, so a race between
// them resolves to exactly one winner.
type Reconciler struct {
	repo       Repository
	gateway    mpesa.Client
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo Repository, gateway mpesa.Client, dispatcher *Dispatcher, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:       repo,
		gateway:    gateway,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// ApplyCallback processes a parsed gateway callback. It never returns an
// error for conditions the gateway could retry into a storm: unknown
// correlation ids and duplicate deliveries are logged and swallowed.
// Completion failures are returned so the HTTP layer can log them; the
// gateway still receives its acknowledgment.
func (r *Reconciler) ApplyCallback(ctx context.Context, cb *mpesa.CallbackResult) error {
	outcome := Outcome{
		Status:     StatusFailed,
		ResultDesc: cb.ResultDesc,
	}
	if cb.Succeeded() {
		outcome = Outcome{
			Status:          StatusSuccess,
			ResultDesc:      cb.ResultDesc,
			Receipt:         cb.ReceiptNumber,
			SettledAmount:   cb.Amount,
			TransactionTime: cb.TransactionTime,
		}
	}

	record, won, err := r.repo.FinalizeIfPending(ctx, cb.CheckoutRequestID, outcome)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Gateways retry callbacks and expect a 200; an id we never
			// issued is logged for manual review, not failed.
			r.metrics.IncCallback("unknown_id")
			r.logger.WarnContext(ctx, "callback for unknown correlation id",
				"checkout_request_id", cb.CheckoutRequestID,
				"result_code", cb.ResultCode)
			return nil
		}
		r.metrics.IncCallback("store_error")
		return fmt.Errorf("finalize payment: %w", err)
	}

	if !won {
		// Duplicate delivery or a lost race against the query fallback.
		r.metrics.IncCallback("already_terminal")
		r.logger.InfoContext(ctx, "payment already terminal, callback ignored",
			"checkout_request_id", cb.CheckoutRequestID,
			"status", record.Status)
		return nil
	}

	r.metrics.IncCallback(outcome.Status)
	r.logger.InfoContext(ctx, "payment reconciled from callback",
		"checkout_request_id", cb.CheckoutRequestID,
		"status", record.Status,
		"result_code", cb.ResultCode)

	if record.Status == StatusSuccess {
		return r.dispatcher.Dispatch(ctx, record)
	}
	return nil
}

// ReconcileViaQuery resolves a pending record by actively querying the
// gateway. This is the fallback for callback loss, used by the status
// poller and the pending-payment sweep. Gateway unavailability leaves the
// record pending; only a definitive gateway answer finalizes it.
func (r *Reconciler) ReconcileViaQuery(ctx context.Context, checkoutRequestID string) (*PaymentRecord, error) {
	record, err := r.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if record.Terminal() {
		return record, nil
	}

	result, err := r.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		// An unresolved push commonly surfaces as a gateway-side error
		// ("transaction is being processed"); the record stays pending.
		r.logger.DebugContext(ctx, "status query did not resolve payment",
			"checkout_request_id", checkoutRequestID,
			"error", err)
		return record, nil
	}

	outcome := Outcome{Status: StatusFailed, ResultDesc: result.ResultDesc}
	if result.Succeeded() {
		// The query response carries no receipt metadata; a later
		// duplicate callback cannot overwrite the terminal status but
		// richer data arrives only via the callback path.
		outcome = Outcome{Status: StatusSuccess, ResultDesc: result.ResultDesc}
	}

	record, won, err := r.repo.FinalizeIfPending(ctx, checkoutRequestID, outcome)
	if err != nil {
		return nil, fmt.Errorf("finalize payment from query: %w", err)
	}
	if !won {
		r.metrics.IncReconcileConflict()
		return record, nil
	}

	r.metrics.IncCallback("query_" + outcome.Status)
	r.logger.InfoContext(ctx, "payment reconciled from status query",
		"checkout_request_id", checkoutRequestID,
		"status", record.Status,
		"result_code", result.ResultCode)

	if record.Status == StatusSuccess {
		if err := r.dispatcher.Dispatch(ctx, record); err != nil {
			return record, err
		}
	}
	return record, nil
}
