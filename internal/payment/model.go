// Package payment implements the mobile-money payment orchestration core:
// initiation of gateway pushes, reconciliation of asynchronous callbacks,
// status polling, and exactly-once dispatch of purpose-specific completion
// side effects.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purpose identifies the business transition a payment gates. The set is
// closed: adding a purpose requires registering a completion handler, which
// the dispatcher checks at construction time.
type Purpose string

const (
	PurposeSellerRegistration Purpose = "seller_registration"
	PurposePackageUpgrade     Purpose = "package_upgrade"
	PurposeServiceBooking     Purpose = "service_booking"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeSellerRegistration, PurposePackageUpgrade, PurposeServiceBooking:
		return true
	}
	return false
}

// Payment status values. A record leaves StatusPending exactly once and
// never transitions out of a terminal state.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PaymentRecord is the single source of truth for one payment attempt,
// keyed by the gateway-issued CheckoutRequestID.
type PaymentRecord struct {
	ID                string          `json:"id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	Purpose           Purpose         `json:"purpose"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	PayerPhone        string          `json:"payer_phone"`

	// SubjectRef identifies the business entity this payment gates: a
	// seller account id for upgrades, an appointment id for bookings, or
	// an opaque serialized registration bundle for seller registration
	// (no user row exists until the payment succeeds).
	SubjectRef *string `json:"subject_ref,omitempty"`

	// ResultDesc is the gateway's human-readable outcome description,
	// populated on terminal transition.
	ResultDesc string `json:"result_desc,omitempty"`

	// Populated only on success.
	GatewayReceipt         *string          `json:"gateway_receipt,omitempty"`
	GatewayTransactionTime *time.Time       `json:"gateway_transaction_time,omitempty"`
	SettledAmount          *decimal.Decimal `json:"settled_amount,omitempty"`

	// CompletionApplied guards the completion dispatcher: the business
	// side effect runs at most once per record even when the record is
	// re-observed by a duplicate callback or an operational replay.
	CompletionApplied bool       `json:"completion_applied"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Terminal reports whether the record has reached a final status.
func (r *PaymentRecord) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Outcome is a terminal result to be applied to a pending record.
type Outcome struct {
	Status     string
	ResultDesc string

	// Success metadata; zero values for failures.
	Receipt         string
	SettledAmount   decimal.Decimal
	TransactionTime time.Time
}
