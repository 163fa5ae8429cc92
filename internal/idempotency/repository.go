package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage. Keys are
// short-lived; the durable duplicate guard is the unique index on
// payment_records.checkout_request_id, so losing keys on restart only widens
// the double-submit window rather than breaking correctness.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

// Get retrieves a record by its key value.
// Returns ErrKeyNotFound if the key doesn't exist.
func (r *InMemoryRepository) Get(key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external mutation
	return copyRecord(record), nil
}

// Store saves a new record.
// Returns ErrKeyExists if the key already exists.
func (r *InMemoryRepository) Store(record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Key]; exists {
		return ErrKeyExists
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	// Store a copy to prevent external mutation
	r.records[record.Key] = copyRecord(record)

	return nil
}

// DeleteOlderThan removes records older than the specified duration.
// Returns the number of records deleted.
func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-duration)
	deleted := int64(0)

	for key, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, key)
			deleted++
		}
	}

	return deleted, nil
}

func copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}

	copied := &Record{
		Key:                record.Key,
		Method:             record.Method,
		Route:              record.Route,
		CreatedAt:          record.CreatedAt,
		ResponseHash:       record.ResponseHash,
		Status:             record.Status,
		ResponseBody:       record.ResponseBody,
		ResponseStatusCode: record.ResponseStatusCode,
	}

	if record.CheckoutRequestID != nil {
		id := *record.CheckoutRequestID
		copied.CheckoutRequestID = &id
	}

	return copied
}
