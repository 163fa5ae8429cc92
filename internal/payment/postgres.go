package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL. Status and
// completion transitions rely on conditional UPDATEs so that racing
// reconcilers resolve to exactly one winner without explicit locking.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const paymentColumns = `id, checkout_request_id, purpose, status, amount, payer_phone,
	subject_ref, result_desc, gateway_receipt, gateway_transaction_time,
	settled_amount, completion_applied, completed_at, requested_at, updated_at`

// Insert stores a new pending record.
func (r *PostgresRepository) Insert(ctx context.Context, record *PaymentRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.RequestedAt.IsZero() {
		record.RequestedAt = time.Now()
	}

	query := `
		INSERT INTO payment_records
			(id, checkout_request_id, purpose, status, amount, payer_phone, subject_ref, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.CheckoutRequestID,
		string(record.Purpose),
		record.Status,
		record.Amount,
		record.PayerPhone,
		record.SubjectRef,
		record.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

// GetByCheckoutRequestID retrieves a record by correlation id.
func (r *PostgresRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE checkout_request_id = $1`
	record, err := scanRecord(r.db.QueryRowContext(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get payment record: %w", err)
	}
	return record, nil
}

// FinalizeIfPending applies a terminal outcome guarded by status='pending'.
func (r *PostgresRepository) FinalizeIfPending(ctx context.Context, checkoutRequestID string, outcome Outcome) (*PaymentRecord, bool, error) {
	query := `
		UPDATE payment_records
		SET status = $2,
		    result_desc = $3,
		    gateway_receipt = NULLIF($4, ''),
		    gateway_transaction_time = $5,
		    settled_amount = $6,
		    updated_at = now()
		WHERE checkout_request_id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns

	var transactionTime *time.Time
	if !outcome.TransactionTime.IsZero() {
		transactionTime = &outcome.TransactionTime
	}
	var settled any
	if !outcome.SettledAmount.IsZero() {
		settled = outcome.SettledAmount
	}

	record, err := scanRecord(r.db.QueryRowContext(ctx, query,
		checkoutRequestID,
		outcome.Status,
		outcome.ResultDesc,
		outcome.Receipt,
		transactionTime,
		settled,
	))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("finalize payment record: %w", err)
	}

	// No pending row matched: either the record does not exist or a
	// concurrent reconciler already finalized it.
	current, err := r.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ClaimCompletion atomically flips completion_applied on a success record.
func (r *PostgresRepository) ClaimCompletion(ctx context.Context, checkoutRequestID string) (bool, error) {
	query := `
		UPDATE payment_records
		SET completion_applied = TRUE, completed_at = now(), updated_at = now()
		WHERE checkout_request_id = $1
		  AND status = 'success'
		  AND completion_applied = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, checkoutRequestID)
	if err != nil {
		return false, fmt.Errorf("claim completion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim completion: %w", err)
	}
	if affected == 0 {
		// Distinguish "already claimed" from "no such record".
		if _, err := r.GetByCheckoutRequestID(ctx, checkoutRequestID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ReleaseCompletion clears a completion claim after a failed business write.
func (r *PostgresRepository) ReleaseCompletion(ctx context.Context, checkoutRequestID string) error {
	query := `
		UPDATE payment_records
		SET completion_applied = FALSE, completed_at = NULL, updated_at = now()
		WHERE checkout_request_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, checkoutRequestID)
	if err != nil {
		return fmt.Errorf("release completion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release completion: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListStalePending returns pending records requested before the cutoff.
func (r *PostgresRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status = 'pending' AND requested_at < $1
		ORDER BY requested_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var records []*PaymentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return records, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*PaymentRecord, error) {
	var (
		record     PaymentRecord
		purpose    string
		resultDesc sql.NullString
	)
	err := row.Scan(
		&record.ID,
		&record.CheckoutRequestID,
		&purpose,
		&record.Status,
		&record.Amount,
		&record.PayerPhone,
		&record.SubjectRef,
		&resultDesc,
		&record.GatewayReceipt,
		&record.GatewayTransactionTime,
		&record.SettledAmount,
		&record.CompletionApplied,
		&record.CompletedAt,
		&record.RequestedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Purpose = Purpose(purpose)
	record.ResultDesc = resultDesc.String
	return &record, nil
}
