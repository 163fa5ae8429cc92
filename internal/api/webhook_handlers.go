package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/huduma-collective/hudumahub/internal/mpesa"
	"github.com/huduma-collective/hudumahub/internal/payment"
)

// maxCallbackBodyBytes bounds the callback payload we are willing to read.
const maxCallbackBodyBytes = 64 * 1024

// WebhookHandlers holds dependencies for gateway callback handlers.
type WebhookHandlers struct {
	reconciler *payment.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(reconciler *payment.Reconciler, logger *slog.Logger) *WebhookHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandlers{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleMpesaCallback processes the Daraja STK push result callback.
// POST /payments/mpesa/callback
//
// The gateway treats any non-200 as undelivered and retries, so the handler
// acknowledges every delivery: malformed payloads, unknown correlation ids
// and duplicates are logged and acked rather than rejected. Rejecting a
// duplicate would only make the gateway resend it.
func (h *WebhookHandlers) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		// Not a gateway delivery; no ack owed.
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read callback body", "error", err)
		h.ack(w)
		return
	}

	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		h.logger.WarnContext(ctx, "malformed mpesa callback", "error", err)
		h.ack(w)
		return
	}

	if err := h.reconciler.ApplyCallback(ctx, cb); err != nil {
		// The payment transition already happened or was logged; a
		// completion failure is replayed by the sweeper. Either way the
		// gateway gets its ack.
		h.logger.ErrorContext(ctx, "callback completion failed, sweep will replay",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err)
	}

	h.ack(w)
}

// ack writes the acknowledgement body the gateway expects.
func (h *WebhookHandlers) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(mpesa.AckBody())
}
