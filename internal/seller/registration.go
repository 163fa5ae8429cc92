package seller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/huduma-collective/hudumahub/internal/payment"
)

// ErrInvalidBundle is returned when a payment's subject reference cannot be
// decoded into the expected registration or upgrade payload.
var ErrInvalidBundle = errors.New("invalid payment subject payload")

// RegistrationBundle is the pending-registration payload serialized into a
// payment record's subject reference at initiation. No seller row exists
// until the payment succeeds, so everything needed to materialize the
// account travels with the payment.
type RegistrationBundle struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"password_hash"`
	PackageID    string `json:"package_id"`
}

// EncodeRegistrationBundle serializes a bundle for storage on the payment
// record.
func EncodeRegistrationBundle(bundle RegistrationBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("encode registration bundle: %w", err)
	}
	return string(data), nil
}

// RegistrationHandler materializes a seller account when a registration
// payment succeeds. Implements payment.CompletionHandler.
type RegistrationHandler struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(repo Repository, logger *slog.Logger) *RegistrationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationHandler{repo: repo, logger: logger, now: time.Now}
}

// Complete creates the seller account from the bundle carried by the
// payment record. Upsert-by-email makes replays converge on one account.
func (h *RegistrationHandler) Complete(ctx context.Context, record *payment.PaymentRecord) error {
	if record.SubjectRef == nil {
		return fmt.Errorf("%w: registration payment %s has no subject", ErrInvalidBundle, record.CheckoutRequestID)
	}

	var bundle RegistrationBundle
	if err := json.Unmarshal([]byte(*record.SubjectRef), &bundle); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if bundle.Email == "" || bundle.Username == "" {
		return fmt.Errorf("%w: registration bundle missing identity fields", ErrInvalidBundle)
	}

	pkg, err := PackageByID(bundle.PackageID)
	if err != nil {
		return err
	}

	account := &Account{
		Username:      bundle.Username,
		Email:         bundle.Email,
		Phone:         bundle.Phone,
		PasswordHash:  bundle.PasswordHash,
		PackageID:     pkg.ID,
		MaxPhotos:     pkg.MaxPhotos,
		MaxVideos:     pkg.MaxVideos,
		PackageExpiry: h.now().Add(time.Duration(pkg.DurationDays) * 24 * time.Hour),
	}

	result, err := h.repo.UpsertByEmail(ctx, account)
	if err != nil {
		return fmt.Errorf("materialize seller account: %w", err)
	}

	h.logger.InfoContext(ctx, "seller registration completed",
		"checkout_request_id", record.CheckoutRequestID,
		"seller_id", result.ID,
		"package_id", pkg.ID,
		"inserted", result.Inserted)
	return nil
}
