package seller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for seller account operations.
var (
	ErrAccountNotFound = errors.New("seller account not found")
)

// Account is a materialized seller. No row exists while a registration
// payment is still pending; the registration completion handler creates it.
type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`

	// Active package entitlements, denormalized from the catalog at
	// activation time so later catalog changes do not retroactively
	// alter paid-for limits.
	PackageID     string    `json:"package_id"`
	MaxPhotos     int       `json:"max_photos"`
	MaxVideos     int       `json:"max_videos"`
	PackageExpiry time.Time `json:"package_expiry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertResult reports whether an upsert inserted a new account.
type UpsertResult struct {
	Inserted bool
	ID       string
}

// Repository defines persistence for seller accounts.
type Repository interface {
	// UpsertByEmail inserts a new account or refreshes the package fields
	// of an existing one with the same email. Email comparison is
	// case-insensitive. This is the idempotency anchor for registration
	// completion replays.
	UpsertByEmail(ctx context.Context, account *Account) (*UpsertResult, error)

	// GetByID retrieves an account by its id.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByEmail retrieves an account by email, case-insensitive.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// ApplyPackage updates an existing account's package entitlements.
	ApplyPackage(ctx context.Context, id string, pkg Package, expiry time.Time) error
}

// InMemoryRepository is an in-memory Repository for tests and development.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*Account // id -> account
	emails   map[string]string   // lowercased email -> id
}

// NewInMemoryRepository creates a new in-memory seller repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts: make(map[string]*Account),
		emails:   make(map[string]string),
	}
}

// UpsertByEmail inserts or refreshes an account keyed by email.
func (r *InMemoryRepository) UpsertByEmail(ctx context.Context, account *Account) (*UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := strings.ToLower(account.Email)

	if id, exists := r.emails[key]; exists {
		existing := r.accounts[id]
		existing.PackageID = account.PackageID
		existing.MaxPhotos = account.MaxPhotos
		existing.MaxVideos = account.MaxVideos
		existing.PackageExpiry = account.PackageExpiry
		existing.UpdatedAt = now
		return &UpsertResult{Inserted: false, ID: id}, nil
	}

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	copied := *account
	r.accounts[account.ID] = &copied
	r.emails[key] = account.ID
	return &UpsertResult{Inserted: true, ID: account.ID}, nil
}

// GetByID retrieves an account by id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// GetByEmail retrieves an account by email, case-insensitive.
func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *r.accounts[id]
	return &copied, nil
}

// ApplyPackage updates package entitlements on an existing account.
func (r *InMemoryRepository) ApplyPackage(ctx context.Context, id string, pkg Package, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	account.PackageID = pkg.ID
	account.MaxPhotos = pkg.MaxPhotos
	account.MaxVideos = pkg.MaxVideos
	account.PackageExpiry = expiry
	account.UpdatedAt = time.Now()
	return nil
}
