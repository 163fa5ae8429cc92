// Package booking provides appointments, the immutable booking revenue
// ledger, and the service-booking payment completion handler.
package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Common errors for booking operations.
var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Appointment statuses.
const (
	AppointmentPending   = "pending"
	AppointmentConfirmed = "confirmed"
	AppointmentCancelled = "cancelled"
)

// Payment statuses on an appointment.
const (
	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
)

// Appointment is a customer's request for a seller's service.
type Appointment struct {
	ID            string          `json:"id"`
	ServiceID     string          `json:"service_id"`
	SellerID      string          `json:"seller_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	Amount        decimal.Decimal `json:"amount"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LedgerEntry is an immutable revenue attribution row, written exactly once
// per successful booking payment and keyed by the payment record id.
type LedgerEntry struct {
	ID            string          `json:"id"`
	PaymentID     string          `json:"payment_id"`
	AppointmentID string          `json:"appointment_id"`
	SellerID      string          `json:"seller_id"`
	Amount        decimal.Decimal `json:"amount"`
	Receipt       string          `json:"receipt,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Repository defines persistence for appointments and the booking ledger.
type Repository interface {
	// CreateAppointment stores a new pending appointment.
	CreateAppointment(ctx context.Context, appointment *Appointment) error

	// GetAppointment retrieves an appointment by id.
	GetAppointment(ctx context.Context, id string) (*Appointment, error)

	// MarkPaid sets the appointment confirmed and paid. Idempotent: an
	// already-paid appointment is left unchanged.
	MarkPaid(ctx context.Context, id string) error

	// RecordLedgerEntry inserts a ledger row keyed by payment id. A
	// duplicate payment id is a no-op, returning false.
	RecordLedgerEntry(ctx context.Context, entry *LedgerEntry) (bool, error)

	// LedgerEntryByPaymentID retrieves the ledger row for a payment, or
	// nil when none exists.
	LedgerEntryByPaymentID(ctx context.Context, paymentID string) (*LedgerEntry, error)
}

// InMemoryRepository is an in-memory Repository for tests and development.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu           sync.RWMutex
	appointments map[string]*Appointment
	ledger       map[string]*LedgerEntry // keyed by payment id
}

// NewInMemoryRepository creates a new in-memory booking repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		appointments: make(map[string]*Appointment),
		ledger:       make(map[string]*LedgerEntry),
	}
}

// CreateAppointment stores a new pending appointment.
func (r *InMemoryRepository) CreateAppointment(ctx context.Context, appointment *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if appointment.ID == "" {
		appointment.ID = uuid.New().String()
	}
	if appointment.Status == "" {
		appointment.Status = AppointmentPending
	}
	if appointment.PaymentStatus == "" {
		appointment.PaymentStatus = PaymentUnpaid
	}
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	copied := *appointment
	r.appointments[appointment.ID] = &copied
	return nil
}

// GetAppointment retrieves an appointment by id.
func (r *InMemoryRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	appointment, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *appointment
	return &copied, nil
}

// MarkPaid sets the appointment confirmed and paid.
func (r *InMemoryRepository) MarkPaid(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	appointment, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if appointment.PaymentStatus == PaymentPaid {
		return nil
	}

	appointment.Status = AppointmentConfirmed
	appointment.PaymentStatus = PaymentPaid
	appointment.UpdatedAt = time.Now()
	return nil
}

// RecordLedgerEntry inserts a ledger row keyed by payment id.
func (r *InMemoryRepository) RecordLedgerEntry(ctx context.Context, entry *LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledger[entry.PaymentID]; exists {
		return false, nil
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()

	copied := *entry
	r.ledger[entry.PaymentID] = &copied
	return true, nil
}

// LedgerEntryByPaymentID retrieves the ledger row for a payment.
func (r *InMemoryRepository) LedgerEntryByPaymentID(ctx context.Context, paymentID string) (*LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.ledger[paymentID]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}
