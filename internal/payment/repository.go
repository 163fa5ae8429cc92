package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned when no payment record matches the given
// checkout request id.
var ErrRecordNotFound = errors.New("payment record not found")

// Repository defines persistence for payment records. Records are never
// deleted; they are retained as an audit trail.
type Repository interface {
	// Insert stores a new pending record. The CheckoutRequestID must be
	// unique; at most one row exists per gateway correlation id.
	Insert(ctx context.Context, record *PaymentRecord) error

	// GetByCheckoutRequestID retrieves a record by its correlation id.
	// Returns ErrRecordNotFound when no record exists.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*PaymentRecord, error)

	// FinalizeIfPending atomically applies a terminal outcome, guarded by
	// "only if currently pending". Returns the updated record and true
	// when this call performed the transition; the current record and
	// false when the record was already terminal (the racer lost).
	// Returns ErrRecordNotFound for unknown correlation ids.
	FinalizeIfPending(ctx context.Context, checkoutRequestID string, outcome Outcome) (*PaymentRecord, bool, error)

	// ClaimCompletion atomically sets completion_applied on a successful
	// record. Returns true when this caller won the claim, false when the
	// completion was already applied (or the record is not a success).
	ClaimCompletion(ctx context.Context, checkoutRequestID string) (bool, error)

	// ReleaseCompletion clears a claim after a failed business-side
	// write so an operational replay can re-attempt the side effect.
	ReleaseCompletion(ctx context.Context, checkoutRequestID string) error

	// ListStalePending returns pending records requested before the
	// cutoff, oldest first, for sweep reconciliation.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentRecord, error)
}

// InMemoryRepository implements Repository with in-memory storage, for
// tests and development.
type InMemoryRepository struct {
	mu      sync.Mutex
	records map[string]*PaymentRecord // keyed by CheckoutRequestID
}

// NewInMemoryRepository creates a new in-memory payment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*PaymentRecord),
	}
}

// Insert stores a new pending record.
func (r *InMemoryRepository) Insert(ctx context.Context, record *PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.CheckoutRequestID]; exists {
		return errors.New("duplicate checkout request id")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.RequestedAt.IsZero() {
		record.RequestedAt = time.Now()
	}

	copied := *record
	r.records[record.CheckoutRequestID] = &copied
	return nil
}

// GetByCheckoutRequestID retrieves a record by its correlation id.
func (r *InMemoryRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[checkoutRequestID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

// FinalizeIfPending atomically applies a terminal outcome.
func (r *InMemoryRepository) FinalizeIfPending(ctx context.Context, checkoutRequestID string, outcome Outcome) (*PaymentRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[checkoutRequestID]
	if !ok {
		return nil, false, ErrRecordNotFound
	}

	if record.Status != StatusPending {
		copied := *record
		return &copied, false, nil
	}

	now := time.Now()
	record.Status = outcome.Status
	record.ResultDesc = outcome.ResultDesc
	record.UpdatedAt = &now
	if outcome.Status == StatusSuccess {
		if outcome.Receipt != "" {
			receipt := outcome.Receipt
			record.GatewayReceipt = &receipt
		}
		if !outcome.SettledAmount.IsZero() {
			settled := outcome.SettledAmount
			record.SettledAmount = &settled
		}
		if !outcome.TransactionTime.IsZero() {
			ts := outcome.TransactionTime
			record.GatewayTransactionTime = &ts
		}
	}

	copied := *record
	return &copied, true, nil
}

// ClaimCompletion atomically sets completion_applied on a success record.
func (r *InMemoryRepository) ClaimCompletion(ctx context.Context, checkoutRequestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[checkoutRequestID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if record.Status != StatusSuccess || record.CompletionApplied {
		return false, nil
	}

	now := time.Now()
	record.CompletionApplied = true
	record.CompletedAt = &now
	record.UpdatedAt = &now
	return true, nil
}

// ReleaseCompletion clears a completion claim.
func (r *InMemoryRepository) ReleaseCompletion(ctx context.Context, checkoutRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[checkoutRequestID]
	if !ok {
		return ErrRecordNotFound
	}

	now := time.Now()
	record.CompletionApplied = false
	record.CompletedAt = nil
	record.UpdatedAt = &now
	return nil
}

// ListStalePending returns pending records requested before the cutoff.
func (r *InMemoryRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*PaymentRecord
	for _, record := range r.records {
		if record.Status == StatusPending && record.RequestedAt.Before(cutoff) {
			copied := *record
			stale = append(stale, &copied)
		}
	}

	// Oldest first so the sweep drains the backlog in order.
	for i := 0; i < len(stale); i++ {
		for j := i + 1; j < len(stale); j++ {
			if stale[j].RequestedAt.Before(stale[i].RequestedAt) {
				stale[i], stale[j] = stale[j], stale[i]
			}
		}
	}
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
