package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/huduma-collective/hudumahub/internal/auth"
	"github.com/huduma-collective/hudumahub/internal/booking"
	"github.com/huduma-collective/hudumahub/internal/middleware"
	"github.com/huduma-collective/hudumahub/internal/payment"
	"github.com/huduma-collective/hudumahub/internal/seller"
)

// CompletionHandlers serves the client-facing completion endpoints. They do
// not perform the business effect themselves; the completion dispatcher owns
// that. These endpoints reconcile the payment if it is still pending, make
// sure the effect has been applied, and hand the client its result (an
// account, a session, a paid appointment).
type CompletionHandlers struct {
	repo               payment.Repository
	reconciler         *payment.Reconciler
	dispatcher         *payment.Dispatcher
	sellerRepo         seller.Repository
	bookingRepo        booking.Repository
	jwtService         *auth.JWTService
	statusQueryEnabled bool
	logger             *slog.Logger
}

// NewCompletionHandlers creates a CompletionHandlers instance.
func NewCompletionHandlers(
	repo payment.Repository,
	reconciler *payment.Reconciler,
	dispatcher *payment.Dispatcher,
	sellerRepo seller.Repository,
	bookingRepo booking.Repository,
	jwtService *auth.JWTService,
	statusQueryEnabled bool,
	logger *slog.Logger,
) *CompletionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionHandlers{
		repo:               repo,
		reconciler:         reconciler,
		dispatcher:         dispatcher,
		sellerRepo:         sellerRepo,
		bookingRepo:        bookingRepo,
		jwtService:         jwtService,
		statusQueryEnabled: statusQueryEnabled,
		logger:             logger,
	}
}

// resolveCompleted loads the payment for the given correlation id and
// purpose and ensures it is successful with its completion applied,
// reconciling via gateway query and replaying the dispatch if needed.
// On failure it writes the error response and returns nil.
func (h *CompletionHandlers) resolveCompleted(w http.ResponseWriter, ctx context.Context, checkoutRequestID string, purpose payment.Purpose) *payment.PaymentRecord {
	if checkoutRequestID == "" {
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, "checkout_request_id is required")
		return nil
	}

	record, err := h.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound) {
			c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return nil
		}
		h.logger.ErrorContext(ctx, "failed to load payment record", "checkout_request_id", checkoutRequestID, "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to load payment")
		return nil
	}

	if record.Purpose != purpose {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "payment was made for a different purpose")
		return nil
	}

	// A client completing right after the STK prompt may beat the
	// callback; ask the gateway directly rather than telling them to
	// come back later.
	if !record.Terminal() && h.statusQueryEnabled {
		reconciled, err := h.reconciler.ReconcileViaQuery(ctx, checkoutRequestID)
		if err != nil {
			h.logger.WarnContext(ctx, "completion reconciliation error",
				"checkout_request_id", checkoutRequestID, "error", err)
		}
		if reconciled != nil {
			record = reconciled
		}
	}

	if record.Status != payment.StatusSuccess {
		c := middleware.SetErrorCode(ctx, ErrCodePaymentNotCompleted)
		WriteError(w, c, http.StatusConflict, ErrCodePaymentNotCompleted, "payment has not completed successfully")
		return nil
	}

	// Normally the callback path has already dispatched; replay here if a
	// previous attempt failed.
	if !record.CompletionApplied {
		if err := h.dispatcher.Dispatch(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "completion dispatch failed",
				"checkout_request_id", checkoutRequestID, "error", err)
			c := middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "payment received but completion failed, retry shortly")
			return nil
		}
		refreshed, err := h.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
		if err == nil {
			record = refreshed
		}
	}

	return record
}

// SellerAccountResponse is the client-facing view of a seller account.
type SellerAccountResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	PackageID     string `json:"package_id"`
	MaxPhotos     int    `json:"max_photos"`
	MaxVideos     int    `json:"max_videos"`
	PackageExpiry string `json:"package_expiry"`
}

func sellerAccountResponse(account *seller.Account) SellerAccountResponse {
	return SellerAccountResponse{
		ID:            account.ID,
		Username:      account.Username,
		Email:         account.Email,
		Phone:         account.Phone,
		PackageID:     account.PackageID,
		MaxPhotos:     account.MaxPhotos,
		MaxVideos:     account.MaxVideos,
		PackageExpiry: account.PackageExpiry.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CompleteRegistrationRequest is the request body for finishing a paid
// seller registration.
type CompleteRegistrationRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Email             string `json:"email"`
	Password          string `json:"password"`
}

// CompleteRegistrationResponse returns the materialized account and a
// session for it.
type CompleteRegistrationResponse struct {
	Account      SellerAccountResponse `json:"account"`
	AccessToken  string                `json:"access_token"`
	RefreshToken string                `json:"refresh_token"`
}

// CompleteSellerRegistration verifies a successful registration payment,
// makes sure the account has been materialized, checks the credentials the
// client registered with, and signs them in.
// POST /auth/complete-seller-registration
func (h *CompletionHandlers) CompleteSellerRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req CompleteRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}

	record := h.resolveCompleted(w, ctx, req.CheckoutRequestID, payment.PurposeSellerRegistration)
	if record == nil {
		return
	}

	account, err := h.sellerRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, seller.ErrAccountNotFound) {
			c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "no account for this email")
			return
		}
		h.logger.ErrorContext(ctx, "failed to load seller account", "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to load account")
		return
	}

	if err := auth.CheckPassword(account.PasswordHash, req.Password); err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, c, http.StatusUnauthorized, ErrCodeAuthFailed, "invalid credentials")
		return
	}

	accessToken, err := h.jwtService.GenerateAccessToken(account.ID, account.Email)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to create session")
		return
	}
	refreshToken, err := h.jwtService.GenerateRefreshToken(account.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate refresh token", "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to create session")
		return
	}

	response := CompleteRegistrationResponse{
		Account:      sellerAccountResponse(account),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// CompleteUpgradeRequest is the request body for finishing a paid package
// upgrade.
type CompleteUpgradeRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

// CompleteSellerUpgrade verifies a successful upgrade payment for the
// authenticated seller and returns the account with its new entitlements.
// POST /auth/complete-seller-upgrade (requires auth)
func (h *CompletionHandlers) CompleteSellerUpgrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		c := middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, c, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CompleteUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	record := h.resolveCompleted(w, ctx, req.CheckoutRequestID, payment.PurposePackageUpgrade)
	if record == nil {
		return
	}

	// The upgrade must belong to the caller.
	var bundle seller.UpgradeBundle
	if record.SubjectRef == nil || json.Unmarshal([]byte(*record.SubjectRef), &bundle) != nil || bundle.SellerID != userID {
		c := middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, c, http.StatusForbidden, ErrCodeForbidden, "payment belongs to a different seller")
		return
	}

	account, err := h.sellerRepo.GetByID(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load seller account", "seller_id", userID, "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to load account")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(sellerAccountResponse(account)); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// CompleteAppointmentRequest is the request body for finishing a paid
// service booking.
type CompleteAppointmentRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	AppointmentID     string `json:"appointment_id"`
}

// CompleteAppointmentResponse returns the paid appointment and its ledger
// attribution.
type CompleteAppointmentResponse struct {
	Appointment *booking.Appointment `json:"appointment"`
	Ledger      *booking.LedgerEntry `json:"ledger,omitempty"`
}

// CompleteAppointmentPayment verifies a successful booking payment and
// returns the confirmed appointment.
// POST /appointments/complete-payment (requires auth)
func (h *CompletionHandlers) CompleteAppointmentPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	if middleware.GetUserID(ctx) == "" {
		c := middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, c, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CompleteAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.AppointmentID == "" {
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, "appointment_id is required")
		return
	}

	record := h.resolveCompleted(w, ctx, req.CheckoutRequestID, payment.PurposeServiceBooking)
	if record == nil {
		return
	}

	if record.SubjectRef == nil || *record.SubjectRef != req.AppointmentID {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "payment was made for a different appointment")
		return
	}

	appointment, err := h.bookingRepo.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, booking.ErrAppointmentNotFound) {
			c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "appointment not found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to load appointment", "appointment_id", req.AppointmentID, "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to load appointment")
		return
	}

	ledger, err := h.bookingRepo.LedgerEntryByPaymentID(ctx, record.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to load ledger entry", "payment_id", record.ID, "error", err)
	}

	response := CompleteAppointmentResponse{
		Appointment: appointment,
		Ledger:      ledger,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
