package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL. The primary
// key on booking_ledger.payment_id makes the ledger write naturally
// idempotent under completion replays.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAppointment stores a new pending appointment.
func (r *PostgresRepository) CreateAppointment(ctx context.Context, appointment *Appointment) error {
	if appointment.ID == "" {
		appointment.ID = uuid.New().String()
	}
	if appointment.Status == "" {
		appointment.Status = AppointmentPending
	}
	if appointment.PaymentStatus == "" {
		appointment.PaymentStatus = PaymentUnpaid
	}

	query := `
		INSERT INTO appointments
			(id, service_id, seller_id, customer_name, customer_phone, status, payment_status, amount, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.ServiceID,
		appointment.SellerID,
		appointment.CustomerName,
		appointment.CustomerPhone,
		appointment.Status,
		appointment.PaymentStatus,
		appointment.Amount,
		appointment.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// GetAppointment retrieves an appointment by id.
func (r *PostgresRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	query := `
		SELECT id, service_id, seller_id, customer_name, customer_phone,
			status, payment_status, amount, scheduled_at, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var appointment Appointment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&appointment.ID,
		&appointment.ServiceID,
		&appointment.SellerID,
		&appointment.CustomerName,
		&appointment.CustomerPhone,
		&appointment.Status,
		&appointment.PaymentStatus,
		&appointment.Amount,
		&appointment.ScheduledAt,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return &appointment, nil
}

// MarkPaid sets the appointment confirmed and paid. The payment_status
// guard makes replays no-ops.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id string) error {
	query := `
		UPDATE appointments
		SET status = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status <> $3
	`
	result, err := r.db.ExecContext(ctx, query, id, AppointmentConfirmed, PaymentPaid)
	if err != nil {
		return fmt.Errorf("mark appointment paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark appointment paid: %w", err)
	}
	if rows == 0 {
		// Either already paid (fine) or missing (not fine).
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("mark appointment paid: %w", err)
		}
		if !exists {
			return ErrAppointmentNotFound
		}
	}
	return nil
}

// RecordLedgerEntry inserts a ledger row keyed by payment id.
func (r *PostgresRepository) RecordLedgerEntry(ctx context.Context, entry *LedgerEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO booking_ledger (id, payment_id, appointment_id, seller_id, amount, receipt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.PaymentID,
		entry.AppointmentID,
		entry.SellerID,
		entry.Amount,
		entry.Receipt,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return rows == 1, nil
}

// LedgerEntryByPaymentID retrieves the ledger row for a payment.
func (r *PostgresRepository) LedgerEntryByPaymentID(ctx context.Context, paymentID string) (*LedgerEntry, error) {
	query := `
		SELECT id, payment_id, appointment_id, seller_id, amount, receipt, created_at
		FROM booking_ledger
		WHERE payment_id = $1
	`
	var entry LedgerEntry
	err := r.db.QueryRowContext(ctx, query, paymentID).Scan(
		&entry.ID,
		&entry.PaymentID,
		&entry.AppointmentID,
		&entry.SellerID,
		&entry.Amount,
		&entry.Receipt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return &entry, nil
}
