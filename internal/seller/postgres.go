package seller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL. The unique
// index on lower(email) backs the upsert, so registration completion
// replays converge on a single row.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, username, email, phone, password_hash, package_id,
	max_photos, max_videos, package_expiry, created_at, updated_at`

// UpsertByEmail inserts or refreshes an account keyed by email.
func (r *PostgresRepository) UpsertByEmail(ctx context.Context, account *Account) (*UpsertResult, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	query := `
		INSERT INTO seller_accounts
			(id, username, email, phone, password_hash, package_id, max_photos, max_videos, package_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lower(email)) DO UPDATE SET
			package_id = EXCLUDED.package_id,
			max_photos = EXCLUDED.max_photos,
			max_videos = EXCLUDED.max_videos,
			package_expiry = EXCLUDED.package_expiry,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`
	var result UpsertResult
	err := r.db.QueryRowContext(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.Phone,
		account.PasswordHash,
		account.PackageID,
		account.MaxPhotos,
		account.MaxVideos,
		account.PackageExpiry,
	).Scan(&result.ID, &result.Inserted)
	if err != nil {
		return nil, fmt.Errorf("upsert seller account: %w", err)
	}
	return &result, nil
}

// GetByID retrieves an account by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM seller_accounts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves an account by email, case-insensitive.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM seller_accounts WHERE lower(email) = lower($1)`
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	var account Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.Phone,
		&account.PasswordHash,
		&account.PackageID,
		&account.MaxPhotos,
		&account.MaxVideos,
		&account.PackageExpiry,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get seller account: %w", err)
	}
	return &account, nil
}

// ApplyPackage updates package entitlements on an existing account.
func (r *PostgresRepository) ApplyPackage(ctx context.Context, id string, pkg Package, expiry time.Time) error {
	query := `
		UPDATE seller_accounts
		SET package_id = $2, max_photos = $3, max_videos = $4, package_expiry = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, pkg.ID, pkg.MaxPhotos, pkg.MaxVideos, expiry)
	if err != nil {
		return fmt.Errorf("apply seller package: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply seller package: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}
