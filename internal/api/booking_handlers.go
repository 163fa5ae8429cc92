package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/booking"
	"github.com/huduma-collective/hudumahub/internal/middleware"
	"github.com/huduma-collective/hudumahub/internal/phone"
	"github.com/huduma-collective/hudumahub/internal/validate"
)

// AppointmentsPathPrefix is the route prefix for appointment lookups.
const AppointmentsPathPrefix = "/appointments/"

// BookingHandlers serves appointment booking endpoints. Appointments are
// created unpaid; payment happens through the payment initiation flow.
type BookingHandlers struct {
	repo   booking.Repository
	logger *slog.Logger
}

// NewBookingHandlers creates a BookingHandlers instance.
func NewBookingHandlers(repo booking.Repository, logger *slog.Logger) *BookingHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandlers{repo: repo, logger: logger}
}

// CreateAppointmentRequest is the request body for booking an appointment.
type CreateAppointmentRequest struct {
	ServiceID     string          `json:"service_id"`
	SellerID      string          `json:"seller_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Amount        decimal.Decimal `json:"amount"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
}

// CreateAppointment books a new appointment in the pending, unpaid state.
// POST /appointments
func (h *BookingHandlers) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if msg := validateAppointment(req); msg != "" {
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	customerName, err := validate.CustomerName(req.CustomerName)
	if err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, c, http.StatusBadRequest, ErrCodeValidation, "invalid customer_name: "+err.Error())
		return
	}

	canonical, err := phone.Normalize(req.CustomerPhone)
	if err != nil {
		c := middleware.SetErrorCode(ctx, ErrCodeInvalidPhone)
		WriteError(w, c, http.StatusBadRequest, ErrCodeInvalidPhone, "customer_phone is not a valid Kenyan mobile number")
		return
	}

	appointment := &booking.Appointment{
		ServiceID:     req.ServiceID,
		SellerID:      req.SellerID,
		CustomerName:  customerName,
		CustomerPhone: canonical,
		Amount:        req.Amount,
		ScheduledAt:   req.ScheduledAt,
	}

	if err := h.repo.CreateAppointment(ctx, appointment); err != nil {
		h.logger.ErrorContext(ctx, "failed to create appointment", "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to create appointment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(appointment); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func validateAppointment(req CreateAppointmentRequest) string {
	switch {
	case req.ServiceID == "":
		return "service_id is required"
	case req.SellerID == "":
		return "seller_id is required"
	case req.CustomerName == "":
		return "customer_name is required"
	case req.CustomerPhone == "":
		return "customer_phone is required"
	case !req.Amount.IsPositive():
		return "amount must be positive"
	case req.ScheduledAt.IsZero():
		return "scheduled_at is required"
	}
	return ""
}

// GetAppointment returns an appointment by id.
// GET /appointments/{id}
func (h *BookingHandlers) GetAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		c := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, c, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, AppointmentsPathPrefix)
	if id == "" || strings.Contains(id, "/") {
		c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "appointment not found")
		return
	}

	appointment, err := h.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, booking.ErrAppointmentNotFound) {
			c := middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, c, http.StatusNotFound, ErrCodeNotFound, "appointment not found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to load appointment", "appointment_id", id, "error", err)
		c := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, c, http.StatusInternalServerError, ErrCodeInternal, "failed to load appointment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(appointment); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
