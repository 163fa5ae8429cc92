package seller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/huduma-collective/hudumahub/internal/payment"
)

// UpgradeBundle is the upgrade payload serialized into a payment record's
// subject reference at initiation.
type UpgradeBundle struct {
	SellerID  string `json:"seller_id"`
	PackageID string `json:"package_id"`
}

// EncodeUpgradeBundle serializes a bundle for storage on the payment record.
func EncodeUpgradeBundle(bundle UpgradeBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("encode upgrade bundle: %w", err)
	}
	return string(data), nil
}

// UpgradeValidator rejects upgrade initiations that do not move to a
// strictly higher tier or whose amount does not match the catalog price.
// Implements payment.PurposeValidator.
type UpgradeValidator struct {
	repo Repository
}

// NewUpgradeValidator creates an UpgradeValidator.
func NewUpgradeValidator(repo Repository) *UpgradeValidator {
	return &UpgradeValidator{repo: repo}
}

// ValidateInitiation checks the target tier against the seller's current
// package before any gateway traffic.
func (v *UpgradeValidator) ValidateInitiation(ctx context.Context, req payment.InitiateRequest) error {
	var bundle UpgradeBundle
	if err := json.Unmarshal([]byte(req.SubjectRef), &bundle); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	pkg, err := PackageByID(bundle.PackageID)
	if err != nil {
		return err
	}
	if !req.Amount.Equal(pkg.Price) {
		return fmt.Errorf("%w: amount %s does not match %s package price %s",
			ErrInvalidBundle, req.Amount, pkg.ID, pkg.Price)
	}

	account, err := v.repo.GetByID(ctx, bundle.SellerID)
	if err != nil {
		return err
	}
	if !StrictlyHigher(pkg.ID, account.PackageID) {
		return fmt.Errorf("%w: %q is not a higher tier than current %q",
			ErrInvalidBundle, pkg.ID, account.PackageID)
	}
	return nil
}

// UpgradeHandler applies a paid package upgrade. Implements
// payment.CompletionHandler.
type UpgradeHandler struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewUpgradeHandler creates an UpgradeHandler.
func NewUpgradeHandler(repo Repository, logger *slog.Logger) *UpgradeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpgradeHandler{repo: repo, logger: logger, now: time.Now}
}

// Complete applies the upgrade. The strictly-higher-tier rule is re-checked
// here: the account may have changed between initiation and payment (for
// example a concurrent upgrade that settled first). A stale upgrade is
// logged and skipped, not failed — the money outcome is recorded on the
// payment record either way and support resolves the mismatch.
func (h *UpgradeHandler) Complete(ctx context.Context, record *payment.PaymentRecord) error {
	if record.SubjectRef == nil {
		return fmt.Errorf("%w: upgrade payment %s has no subject", ErrInvalidBundle, record.CheckoutRequestID)
	}

	var bundle UpgradeBundle
	if err := json.Unmarshal([]byte(*record.SubjectRef), &bundle); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	pkg, err := PackageByID(bundle.PackageID)
	if err != nil {
		return err
	}

	account, err := h.repo.GetByID(ctx, bundle.SellerID)
	if err != nil {
		return fmt.Errorf("load seller for upgrade: %w", err)
	}

	if !StrictlyHigher(pkg.ID, account.PackageID) {
		h.logger.WarnContext(ctx, "stale package upgrade skipped",
			"checkout_request_id", record.CheckoutRequestID,
			"seller_id", account.ID,
			"current_package", account.PackageID,
			"target_package", pkg.ID)
		return nil
	}

	expiry := h.now().Add(time.Duration(pkg.DurationDays) * 24 * time.Hour)
	if err := h.repo.ApplyPackage(ctx, account.ID, pkg, expiry); err != nil {
		return fmt.Errorf("apply package upgrade: %w", err)
	}

	h.logger.InfoContext(ctx, "package upgrade applied",
		"checkout_request_id", record.CheckoutRequestID,
		"seller_id", account.ID,
		"package_id", pkg.ID)
	return nil
}
