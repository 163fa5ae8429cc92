package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/auth"
	"github.com/huduma-collective/hudumahub/internal/booking"
	"github.com/huduma-collective/hudumahub/internal/middleware"
	"github.com/huduma-collective/hudumahub/internal/payment"
	"github.com/huduma-collective/hudumahub/internal/seller"
)

func newCompletionHandlers(f *paymentFixture, jwtService *auth.JWTService, statusQueryEnabled bool) *CompletionHandlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCompletionHandlers(
		f.repo, f.reconciler, f.dispatcher, f.sellerRepo, f.bookingRepo,
		jwtService, statusQueryEnabled, logger,
	)
}

// seedRegistrationPayment stores a successful, not-yet-dispatched
// registration payment carrying the given credentials.
func seedRegistrationPayment(t *testing.T, f *paymentFixture, checkoutRequestID, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	bundle, err := seller.EncodeRegistrationBundle(seller.RegistrationBundle{
		Username:     "mama-njeri-salon",
		Email:        email,
		Phone:        "254712345678",
		PasswordHash: hash,
		PackageID:    seller.PackageBasic,
	})
	if err != nil {
		t.Fatalf("failed to encode bundle: %v", err)
	}
	record := &payment.PaymentRecord{
		CheckoutRequestID: checkoutRequestID,
		Purpose:           payment.PurposeSellerRegistration,
		Status:            payment.StatusPending,
		Amount:            decimal.NewFromInt(1000),
		PayerPhone:        "254712345678",
		SubjectRef:        &bundle,
		RequestedAt:       time.Now(),
	}
	if err := f.repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}
	if _, _, err := f.repo.FinalizeIfPending(context.Background(), checkoutRequestID, payment.Outcome{
		Status:     payment.StatusSuccess,
		ResultDesc: "The service request is processed successfully.",
		Receipt:    "NLJ7RT61SV",
	}); err != nil {
		t.Fatalf("failed to finalize payment: %v", err)
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, ctxUserID string) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if ctxUserID != "" {
		req = req.WithContext(middleware.SetUserID(req.Context(), ctxUserID))
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestCompleteSellerRegistration_Success(t *testing.T) {
	f := newPaymentFixture(t)
	seedRegistrationPayment(t, f, "ws_CO_reg1", "njeri@example.co.ke", "correct-horse-battery")
	jwtService := auth.NewJWTService("test-secret-askjdhakjh")
	h := newCompletionHandlers(f, jwtService, false)

	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_reg1",
		Email:             "njeri@example.co.ke",
		Password:          "correct-horse-battery",
	}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response CompleteRegistrationResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Account.Email != "njeri@example.co.ke" {
		t.Errorf("expected account email, got %s", response.Account.Email)
	}
	if response.Account.PackageID != seller.PackageBasic {
		t.Errorf("expected basic package, got %s", response.Account.PackageID)
	}
	if response.AccessToken == "" || response.RefreshToken == "" {
		t.Error("expected both tokens to be issued")
	}

	claims, err := jwtService.ValidateToken(response.AccessToken)
	if err != nil {
		t.Fatalf("issued access token does not validate: %v", err)
	}
	if claims.Subject != response.Account.ID {
		t.Errorf("expected token subject %s, got %s", response.Account.ID, claims.Subject)
	}

	// The account materialized and the payment is marked dispatched.
	record, err := f.repo.GetByCheckoutRequestID(context.Background(), "ws_CO_reg1")
	if err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if !record.CompletionApplied {
		t.Error("expected completion to be applied")
	}
}

// Completing twice is harmless: the account is created once and the second
// call just signs in again.
func TestCompleteSellerRegistration_Replay(t *testing.T) {
	f := newPaymentFixture(t)
	seedRegistrationPayment(t, f, "ws_CO_reg2", "njeri@example.co.ke", "correct-horse-battery")
	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	body := CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_reg2",
		Email:             "njeri@example.co.ke",
		Password:          "correct-horse-battery",
	}

	var first CompleteRegistrationResponse
	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("first completion failed: %d: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}

	var second CompleteRegistrationResponse
	w = postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("second completion failed: %d: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatalf("failed to decode second response: %v", err)
	}

	if first.Account.ID != second.Account.ID {
		t.Errorf("replay produced a different account: %s vs %s", first.Account.ID, second.Account.ID)
	}
}

func TestCompleteSellerRegistration_WrongPassword(t *testing.T) {
	f := newPaymentFixture(t)
	seedRegistrationPayment(t, f, "ws_CO_reg3", "njeri@example.co.ke", "correct-horse-battery")
	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_reg3",
		Email:             "njeri@example.co.ke",
		Password:          "wrong-password",
	}, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", w.Code, w.Body.String())
	}
	if code := decodeErrorCode(t, w); code != ErrCodeAuthFailed {
		t.Errorf("expected error code %s, got %s", ErrCodeAuthFailed, code)
	}
}

func TestCompleteSellerRegistration_PaymentStillPending(t *testing.T) {
	f := newPaymentFixture(t)

	hash, _ := auth.HashPassword("pw-123456")
	bundle, _ := seller.EncodeRegistrationBundle(seller.RegistrationBundle{
		Username: "u", Email: "pending@example.co.ke", Phone: "254712345678",
		PasswordHash: hash, PackageID: seller.PackageBasic,
	})
	record := &payment.PaymentRecord{
		CheckoutRequestID: "ws_CO_reg4",
		Purpose:           payment.PurposeSellerRegistration,
		Status:            payment.StatusPending,
		Amount:            decimal.NewFromInt(1000),
		PayerPhone:        "254712345678",
		SubjectRef:        &bundle,
	}
	if err := f.repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_reg4",
		Email:             "pending@example.co.ke",
		Password:          "pw-123456",
	}, "")

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := decodeErrorCode(t, w); code != ErrCodePaymentNotCompleted {
		t.Errorf("expected error code %s, got %s", ErrCodePaymentNotCompleted, code)
	}
}

func TestCompleteSellerRegistration_UnknownPayment(t *testing.T) {
	f := newPaymentFixture(t)
	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_missing",
		Email:             "x@example.co.ke",
		Password:          "pw-123456",
	}, "")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func seedUpgradePayment(t *testing.T, f *paymentFixture, checkoutRequestID, sellerID, packageID string) {
	t.Helper()
	bundle, err := seller.EncodeUpgradeBundle(seller.UpgradeBundle{SellerID: sellerID, PackageID: packageID})
	if err != nil {
		t.Fatalf("failed to encode bundle: %v", err)
	}
	record := &payment.PaymentRecord{
		CheckoutRequestID: checkoutRequestID,
		Purpose:           payment.PurposePackageUpgrade,
		Status:            payment.StatusPending,
		Amount:            decimal.NewFromInt(2500),
		PayerPhone:        "254722000111",
		SubjectRef:        &bundle,
	}
	if err := f.repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}
	if _, _, err := f.repo.FinalizeIfPending(context.Background(), checkoutRequestID, payment.Outcome{
		Status: payment.StatusSuccess, ResultDesc: "ok", Receipt: "NLJ7RT62AB",
	}); err != nil {
		t.Fatalf("failed to finalize payment: %v", err)
	}
}

func TestCompleteSellerUpgrade_Success(t *testing.T) {
	f := newPaymentFixture(t)

	result, err := f.sellerRepo.UpsertByEmail(context.Background(), &seller.Account{
		Username: "fundi-collective", Email: "fundi@example.co.ke", Phone: "254722000111",
		PasswordHash: "x", PackageID: seller.PackageBasic,
		PackageExpiry: time.Now().Add(20 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	seedUpgradePayment(t, f, "ws_CO_up1", result.ID, seller.PackagePremium)

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerUpgrade, "/auth/complete-seller-upgrade", CompleteUpgradeRequest{
		CheckoutRequestID: "ws_CO_up1",
	}, result.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response SellerAccountResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.PackageID != seller.PackagePremium {
		t.Errorf("expected premium package, got %s", response.PackageID)
	}
	if response.MaxPhotos != 3 || response.MaxVideos != 1 {
		t.Errorf("expected premium entitlements, got %d photos %d videos", response.MaxPhotos, response.MaxVideos)
	}
}

func TestCompleteSellerUpgrade_Unauthenticated(t *testing.T) {
	f := newPaymentFixture(t)
	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerUpgrade, "/auth/complete-seller-upgrade", CompleteUpgradeRequest{
		CheckoutRequestID: "ws_CO_up1",
	}, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestCompleteSellerUpgrade_WrongSeller(t *testing.T) {
	f := newPaymentFixture(t)

	result, err := f.sellerRepo.UpsertByEmail(context.Background(), &seller.Account{
		Username: "fundi-collective", Email: "fundi@example.co.ke", Phone: "254722000111",
		PasswordHash: "x", PackageID: seller.PackageBasic,
		PackageExpiry: time.Now().Add(20 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	seedUpgradePayment(t, f, "ws_CO_up2", result.ID, seller.PackagePremium)

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerUpgrade, "/auth/complete-seller-upgrade", CompleteUpgradeRequest{
		CheckoutRequestID: "ws_CO_up2",
	}, "someone-else")

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestCompleteAppointmentPayment_Success(t *testing.T) {
	f := newPaymentFixture(t)
	appointment := f.seedAppointment(t, 800)
	seedPendingPayment(t, f, "ws_CO_apt1", 800, appointment.ID)
	if _, _, err := f.repo.FinalizeIfPending(context.Background(), "ws_CO_apt1", payment.Outcome{
		Status: payment.StatusSuccess, ResultDesc: "ok", Receipt: "NLJ7RT63CD",
	}); err != nil {
		t.Fatalf("failed to finalize payment: %v", err)
	}

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteAppointmentPayment, "/appointments/complete-payment", CompleteAppointmentRequest{
		CheckoutRequestID: "ws_CO_apt1",
		AppointmentID:     appointment.ID,
	}, "customer-1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response CompleteAppointmentResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Appointment == nil {
		t.Fatal("expected appointment in response")
	}
	if response.Appointment.PaymentStatus != booking.PaymentPaid {
		t.Errorf("expected appointment paid, got %s", response.Appointment.PaymentStatus)
	}
	if response.Appointment.Status != booking.AppointmentConfirmed {
		t.Errorf("expected appointment confirmed, got %s", response.Appointment.Status)
	}
	if response.Ledger == nil {
		t.Fatal("expected ledger entry in response")
	}
	if response.Ledger.SellerID != appointment.SellerID {
		t.Errorf("expected ledger seller %s, got %s", appointment.SellerID, response.Ledger.SellerID)
	}
}

func TestCompleteAppointmentPayment_WrongAppointment(t *testing.T) {
	f := newPaymentFixture(t)
	appointment := f.seedAppointment(t, 800)
	seedPendingPayment(t, f, "ws_CO_apt2", 800, appointment.ID)
	if _, _, err := f.repo.FinalizeIfPending(context.Background(), "ws_CO_apt2", payment.Outcome{
		Status: payment.StatusSuccess, ResultDesc: "ok",
	}); err != nil {
		t.Fatalf("failed to finalize payment: %v", err)
	}

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteAppointmentPayment, "/appointments/complete-payment", CompleteAppointmentRequest{
		CheckoutRequestID: "ws_CO_apt2",
		AppointmentID:     "a-different-appointment",
	}, "customer-1")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

// A correlation id minted for one purpose cannot complete another.
func TestCompletion_PurposeMismatch(t *testing.T) {
	f := newPaymentFixture(t)
	appointment := f.seedAppointment(t, 800)
	seedPendingPayment(t, f, "ws_CO_mix1", 800, appointment.ID)
	if _, _, err := f.repo.FinalizeIfPending(context.Background(), "ws_CO_mix1", payment.Outcome{
		Status: payment.StatusSuccess, ResultDesc: "ok",
	}); err != nil {
		t.Fatalf("failed to finalize payment: %v", err)
	}

	h := newCompletionHandlers(f, auth.NewJWTService("test-secret-askjdhakjh"), false)

	w := postJSON(t, h.CompleteSellerRegistration, "/auth/complete-seller-registration", CompleteRegistrationRequest{
		CheckoutRequestID: "ws_CO_mix1",
		Email:             "x@example.co.ke",
		Password:          "pw-123456",
	}, "")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
