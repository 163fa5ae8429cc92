// Package api provides HTTP handlers for the HudumaHub payments API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/auth"
	"github.com/huduma-collective/hudumahub/internal/booking"
	"github.com/huduma-collective/hudumahub/internal/middleware"
	"github.com/huduma-collective/hudumahub/internal/mpesa"
	"github.com/huduma-collective/hudumahub/internal/payment"
	"github.com/huduma-collective/hudumahub/internal/phone"
	"github.com/huduma-collective/hudumahub/internal/seller"
	"github.com/huduma-collective/hudumahub/internal/validate"
)

// StatusPathPrefix is the route prefix for the payment status endpoint.
const StatusPathPrefix = "/payments/status/"

// PaymentHandlers holds dependencies for payment-related HTTP handlers.
type PaymentHandlers struct {
	initiator          *payment.Initiator
	reconciler         *payment.Reconciler
	repo               payment.Repository
	statusQueryEnabled bool
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
// statusQueryEnabled controls whether a pending status poll may trigger an
// active gateway query.
func NewPaymentHandlers(
	initiator *payment.Initiator,
	reconciler *payment.Reconciler,
	repo payment.Repository,
	statusQueryEnabled bool,
) *PaymentHandlers {
	return &PaymentHandlers{
		initiator:          initiator,
		reconciler:         reconciler,
		repo:               repo,
		statusQueryEnabled: statusQueryEnabled,
	}
}

// RegistrationData carries the pending-registration fields for a
// seller_registration payment. No account row is created until the payment
// succeeds; the data rides on the payment record.
type RegistrationData struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PackageID string `json:"package_id"`
}

// UpgradeData identifies the seller and target package for a
// package_upgrade payment.
type UpgradeData struct {
	SellerID  string `json:"seller_id"`
	PackageID string `json:"package_id"`
}

// InitiatePaymentRequest represents the request body for starting a payment.
// Exactly one of the purpose-specific blocks must be set, matching purpose.
type InitiatePaymentRequest struct {
	Purpose    string          `json:"purpose"`
	Amount     decimal.Decimal `json:"amount"`
	PayerPhone string          `json:"payer_phone"`

	Registration  *RegistrationData `json:"registration,omitempty"`
	Upgrade       *UpgradeData      `json:"upgrade,omitempty"`
	AppointmentID string            `json:"appointment_id,omitempty"`
}

// InitiatePaymentResponse represents the response for an accepted initiation.
type InitiatePaymentResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	Purpose           string `json:"purpose"`
}

// InitiatePayment starts an STK push for one of the supported payment
// purposes and records the pending payment.
// POST /payments/initiate
func (h *PaymentHandlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	purpose := payment.Purpose(req.Purpose)
	if !purpose.Valid() {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "unknown payment purpose")
		return
	}

	initReq, err := h.buildInitiateRequest(purpose, &req)
	if err != nil {
		h.writePaymentError(w, ctx, err)
		return
	}

	record, err := h.initiator.Initiate(ctx, initReq)
	if err != nil {
		h.writePaymentError(w, ctx, err)
		return
	}

	response := InitiatePaymentResponse{
		CheckoutRequestID: record.CheckoutRequestID,
		Status:            record.Status,
		Amount:            record.Amount.String(),
		Purpose:           string(record.Purpose),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// buildInitiateRequest assembles the purpose-specific initiation request.
// Registration credentials are hashed here; only the hash travels on the
// payment record.
func (h *PaymentHandlers) buildInitiateRequest(purpose payment.Purpose, req *InitiatePaymentRequest) (payment.InitiateRequest, error) {
	base := payment.InitiateRequest{
		Purpose:    purpose,
		Amount:     req.Amount,
		PayerPhone: req.PayerPhone,
	}

	switch purpose {
	case payment.PurposeSellerRegistration:
		reg := req.Registration
		if reg == nil {
			return base, errValidation("registration data is required for seller_registration")
		}
		if reg.Username == "" || reg.Email == "" || reg.Password == "" {
			return base, errValidation("username, email and password are required")
		}
		username, err := validate.Username(reg.Username)
		if err != nil {
			return base, errValidation("invalid username: " + err.Error())
		}
		email, err := validate.Email(reg.Email)
		if err != nil {
			return base, errValidation("invalid email: " + err.Error())
		}
		pkg, err := seller.PackageByID(reg.PackageID)
		if err != nil {
			return base, errValidation("unknown package " + reg.PackageID)
		}
		if !req.Amount.Equal(pkg.Price) {
			return base, errValidation("amount does not match package price " + pkg.Price.String())
		}
		canonical, err := phone.Normalize(req.PayerPhone)
		if err != nil {
			return base, err
		}
		hash, err := auth.HashPassword(reg.Password)
		if err != nil {
			return base, err
		}
		bundle, err := seller.EncodeRegistrationBundle(seller.RegistrationBundle{
			Username:     username,
			Email:        email,
			Phone:        canonical,
			PasswordHash: hash,
			PackageID:    pkg.ID,
		})
		if err != nil {
			return base, err
		}
		base.SubjectRef = bundle
		base.Reference = "REG-" + pkg.ID
		base.Description = "HudumaHub seller registration"

	case payment.PurposePackageUpgrade:
		up := req.Upgrade
		if up == nil {
			return base, errValidation("upgrade data is required for package_upgrade")
		}
		if up.SellerID == "" {
			return base, errValidation("seller_id is required")
		}
		bundle, err := seller.EncodeUpgradeBundle(seller.UpgradeBundle{
			SellerID:  up.SellerID,
			PackageID: up.PackageID,
		})
		if err != nil {
			return base, err
		}
		base.SubjectRef = bundle
		base.Reference = "PKG-" + up.PackageID
		base.Description = "HudumaHub package upgrade"

	case payment.PurposeServiceBooking:
		if req.AppointmentID == "" {
			return base, errValidation("appointment_id is required for service_booking")
		}
		base.SubjectRef = req.AppointmentID
		base.Reference = "APT-" + req.AppointmentID
		base.Description = "HudumaHub service booking"
	}

	return base, nil
}

// PaymentStatusResponse represents the response for a status poll.
type PaymentStatusResponse struct {
	CheckoutRequestID string  `json:"checkout_request_id"`
	Status            string  `json:"status"`
	Purpose           string  `json:"purpose"`
	Amount            string  `json:"amount"`
	ResultDesc        string  `json:"result_desc,omitempty"`
	Receipt           *string `json:"receipt,omitempty"`
	RequestedAt       string  `json:"requested_at"`
}

// PaymentStatus reports the current state of a payment.
// When the record is still pending and active querying is enabled, the
// gateway is asked for the authoritative state before responding.
// GET /payments/status/{checkoutRequestID}
func (h *PaymentHandlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	checkoutRequestID := strings.TrimPrefix(r.URL.Path, StatusPathPrefix)
	if checkoutRequestID == "" || strings.Contains(checkoutRequestID, "/") {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "checkout request id is required")
		return
	}

	record, err := h.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to load payment record", "checkout_request_id", checkoutRequestID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load payment")
		return
	}

	if !record.Terminal() && h.statusQueryEnabled {
		reconciled, err := h.reconciler.ReconcileViaQuery(ctx, checkoutRequestID)
		if err != nil {
			// The payment state itself is known; completion failures are
			// logged by the dispatcher and replayed by the sweeper.
			slog.WarnContext(ctx, "status poll reconciliation error",
				"checkout_request_id", checkoutRequestID, "error", err)
		}
		if reconciled != nil {
			record = reconciled
		}
	}

	response := PaymentStatusResponse{
		CheckoutRequestID: record.CheckoutRequestID,
		Status:            record.Status,
		Purpose:           string(record.Purpose),
		Amount:            record.Amount.String(),
		ResultDesc:        record.ResultDesc,
		Receipt:           record.GatewayReceipt,
		RequestedAt:       record.RequestedAt.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// validationError pairs a user-facing message with ErrInvalidInput so the
// shared error writer maps it to a 400.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return payment.ErrInvalidInput }

func errValidation(msg string) error {
	return &validationError{msg: msg}
}

// writePaymentError maps domain errors onto the API error envelope.
func (h *PaymentHandlers) writePaymentError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, phone.ErrInvalidPhone):
		c := middleware.SetErrorCode(ctx, ErrCodeInvalidPhone)
		WriteError(w, c, http.StatusBadRequest, ErrCodeInvalidPhone, "payer phone must be a Kenyan Safaricom number")
	case errors.Is(err, booking.ErrAppointmentNotFound):
		c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "appointment not found")
	case errors.Is(err, seller.ErrAccountNotFound):
		c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "seller account not found")
	case errors.Is(err, payment.ErrInvalidInput),
		errors.Is(err, seller.ErrUnknownPackage),
		errors.Is(err, booking.ErrInvalidSubject):
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, mpesa.ErrGatewayRejected):
		c := middleware.SetErrorCode(ctx, ErrCodeGatewayRejected)
		WriteError(w, c, http.StatusBadGateway, ErrCodeGatewayRejected, "payment gateway rejected the request")
	case errors.Is(err, mpesa.ErrGatewayUnavailable):
		c := middleware.SetErrorCode(ctx, ErrCodeGatewayUnavailable)
		WriteError(w, c, http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, "payment gateway is unavailable, try again shortly")
	default:
		slog.ErrorContext(ctx, "payment initiation failed", "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to initiate payment")
	}
}
