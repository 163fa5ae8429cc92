package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/huduma-collective/hudumahub/internal/payment"
)

// ErrInvalidSubject is returned when a booking payment's subject reference
// does not identify a usable appointment.
var ErrInvalidSubject = errors.New("invalid booking payment subject")

// Validator rejects booking initiations for missing or already-paid
// appointments, and amounts that do not match the appointment. Implements
// payment.PurposeValidator.
type Validator struct {
	repo Repository
}

// NewValidator creates a Validator.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo}
}

// ValidateInitiation checks the appointment before any gateway traffic.
func (v *Validator) ValidateInitiation(ctx context.Context, req payment.InitiateRequest) error {
	appointment, err := v.repo.GetAppointment(ctx, req.SubjectRef)
	if err != nil {
		return err
	}
	if appointment.PaymentStatus == PaymentPaid {
		return fmt.Errorf("%w: appointment %s is already paid", ErrInvalidSubject, appointment.ID)
	}
	if appointment.Status == AppointmentCancelled {
		return fmt.Errorf("%w: appointment %s is cancelled", ErrInvalidSubject, appointment.ID)
	}
	if !req.Amount.Equal(appointment.Amount) {
		return fmt.Errorf("%w: amount %s does not match appointment amount %s",
			ErrInvalidSubject, req.Amount, appointment.Amount)
	}
	return nil
}

// CompletionHandler confirms the appointment and writes the revenue ledger
// row when a booking payment succeeds. Implements
// payment.CompletionHandler.
type CompletionHandler struct {
	repo   Repository
	logger *slog.Logger
}

// NewCompletionHandler creates a CompletionHandler.
func NewCompletionHandler(repo Repository, logger *slog.Logger) *CompletionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionHandler{repo: repo, logger: logger}
}

// Complete marks the appointment confirmed and paid and records exactly one
// ledger row attributing the revenue to the service owner. Both writes are
// idempotent, so a completion replay converges on the same state.
func (h *CompletionHandler) Complete(ctx context.Context, record *payment.PaymentRecord) error {
	if record.SubjectRef == nil || *record.SubjectRef == "" {
		return fmt.Errorf("%w: payment %s has no appointment id", ErrInvalidSubject, record.CheckoutRequestID)
	}
	appointmentID := *record.SubjectRef

	appointment, err := h.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	if err := h.repo.MarkPaid(ctx, appointmentID); err != nil {
		return fmt.Errorf("mark appointment paid: %w", err)
	}

	entry := &LedgerEntry{
		PaymentID:     record.ID,
		AppointmentID: appointment.ID,
		SellerID:      appointment.SellerID,
		Amount:        record.Amount,
	}
	if record.GatewayReceipt != nil {
		entry.Receipt = *record.GatewayReceipt
	}

	inserted, err := h.repo.RecordLedgerEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}

	h.logger.InfoContext(ctx, "booking payment completed",
		"checkout_request_id", record.CheckoutRequestID,
		"appointment_id", appointment.ID,
		"seller_id", appointment.SellerID,
		"ledger_inserted", inserted)
	return nil
}
