package seller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/payment"
)

func seedAccount(t *testing.T, repo Repository, packageID string) *Account {
	t.Helper()
	pkg, err := PackageByID(packageID)
	if err != nil {
		t.Fatalf("PackageByID failed: %v", err)
	}
	result, err := repo.UpsertByEmail(context.Background(), &Account{
		Username:      "otieno",
		Email:         "otieno@example.com",
		Phone:         "254722000111",
		PackageID:     pkg.ID,
		MaxPhotos:     pkg.MaxPhotos,
		MaxVideos:     pkg.MaxVideos,
		PackageExpiry: time.Now().Add(10 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertByEmail failed: %v", err)
	}
	account, err := repo.GetByID(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	return account
}

func upgradeRecord(t *testing.T, sellerID, packageID string) *payment.PaymentRecord {
	t.Helper()
	subject, err := EncodeUpgradeBundle(UpgradeBundle{SellerID: sellerID, PackageID: packageID})
	if err != nil {
		t.Fatalf("EncodeUpgradeBundle failed: %v", err)
	}
	return &payment.PaymentRecord{
		CheckoutRequestID: "ws_CO_upg_1",
		Purpose:           payment.PurposePackageUpgrade,
		Status:            payment.StatusSuccess,
		Amount:            decimal.NewFromInt(2500),
		SubjectRef:        &subject,
	}
}

func TestUpgradeValidator(t *testing.T) {
	repo := NewInMemoryRepository()
	account := seedAccount(t, repo, PackageStandard)
	validator := NewUpgradeValidator(repo)
	ctx := context.Background()

	request := func(packageID string, amount int64) payment.InitiateRequest {
		subject, err := EncodeUpgradeBundle(UpgradeBundle{SellerID: account.ID, PackageID: packageID})
		if err != nil {
			t.Fatalf("EncodeUpgradeBundle failed: %v", err)
		}
		return payment.InitiateRequest{
			Purpose:    payment.PurposePackageUpgrade,
			Amount:     decimal.NewFromInt(amount),
			PayerPhone: "254722000111",
			SubjectRef: subject,
		}
	}

	if err := validator.ValidateInitiation(ctx, request(PackagePremium, 2500)); err != nil {
		t.Errorf("valid upgrade rejected: %v", err)
	}
	if err := validator.ValidateInitiation(ctx, request(PackageStandard, 1500)); err == nil {
		t.Error("same-tier upgrade accepted")
	}
	if err := validator.ValidateInitiation(ctx, request(PackageBasic, 1000)); err == nil {
		t.Error("downgrade accepted")
	}
	if err := validator.ValidateInitiation(ctx, request(PackagePremium, 1000)); err == nil {
		t.Error("price mismatch accepted")
	}

	// Unknown seller.
	subject, _ := EncodeUpgradeBundle(UpgradeBundle{SellerID: "missing", PackageID: PackagePremium})
	err := validator.ValidateInitiation(ctx, payment.InitiateRequest{
		Amount:     decimal.NewFromInt(2500),
		SubjectRef: subject,
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpgradeComplete_AppliesPackage(t *testing.T) {
	repo := NewInMemoryRepository()
	account := seedAccount(t, repo, PackageStandard)
	handler := NewUpgradeHandler(repo, testLogger())
	fixed := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return fixed }

	record := upgradeRecord(t, account.ID, PackagePremium)
	if err := handler.Complete(context.Background(), record); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	updated, err := repo.GetByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.PackageID != PackagePremium {
		t.Errorf("package = %q, want premium", updated.PackageID)
	}
	if updated.MaxPhotos != 3 || updated.MaxVideos != 1 {
		t.Errorf("limits = (%d,%d), want (3,1)", updated.MaxPhotos, updated.MaxVideos)
	}
	if want := fixed.Add(30 * 24 * time.Hour); !updated.PackageExpiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", updated.PackageExpiry, want)
	}
}

func TestUpgradeComplete_StaleUpgradeSkipped(t *testing.T) {
	repo := NewInMemoryRepository()
	// The account reached premium between initiation and settlement.
	account := seedAccount(t, repo, PackagePremium)
	handler := NewUpgradeHandler(repo, testLogger())

	record := upgradeRecord(t, account.ID, PackageStandard)
	if err := handler.Complete(context.Background(), record); err != nil {
		t.Fatalf("stale upgrade should be skipped, not failed: %v", err)
	}

	unchanged, err := repo.GetByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if unchanged.PackageID != PackagePremium {
		t.Errorf("stale upgrade downgraded the account to %q", unchanged.PackageID)
	}
}

func TestUpgradeComplete_UnknownSellerFails(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := NewUpgradeHandler(repo, testLogger())

	record := upgradeRecord(t, "missing", PackagePremium)
	if err := handler.Complete(context.Background(), record); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
