package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/mpesa"
	"github.com/huduma-collective/hudumahub/internal/phone"
)

// ErrInvalidInput is returned for user-correctable validation failures
// (bad amount, unknown purpose, missing subject data).
var ErrInvalidInput = errors.New("invalid payment input")

// InitiateRequest describes a payment to be started.
type InitiateRequest struct {
	Purpose     Purpose
	Amount      decimal.Decimal
	PayerPhone  string
	Reference   string // gateway account reference, e.g. PKG-standard or SVC-42
	Description string

	// SubjectRef is the business entity the payment gates; for seller
	// registration it carries the serialized registration bundle.
	SubjectRef string
}

// PurposeValidator performs purpose-specific business validation before any
// gateway call, e.g. the strictly-higher-tier rule for package upgrades.
type PurposeValidator interface {
	ValidateInitiation(ctx context.Context, req InitiateRequest) error
}

// Initiator validates payment requests, drives the gateway push, and
// persists the pending record keyed by the returned correlation id.
type Initiator struct {
	repo       Repository
	gateway    mpesa.Client
	validators map[Purpose]PurposeValidator
	metrics    *Metrics
	logger     *slog.Logger
}

// NewInitiator creates an Initiator. validators may be nil for purposes
// with no extra initiation rules.
func NewInitiator(repo Repository, gateway mpesa.Client, validators map[Purpose]PurposeValidator, metrics *Metrics, logger *slog.Logger) *Initiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initiator{
		repo:       repo,
		gateway:    gateway,
		validators: validators,
		metrics:    metrics,
		logger:     logger,
	}
}

// Initiate validates the request, asks the gateway to prompt the payer and
// persists a pending record. On gateway failure nothing is persisted: no
// orphan pending rows exist for pushes that never left the building.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*PaymentRecord, error) {
	if !req.Purpose.Valid() {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, req.Purpose)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !req.Amount.IsInteger() {
		return nil, fmt.Errorf("%w: amount must be whole currency units", ErrInvalidInput)
	}
	if req.SubjectRef == "" {
		return nil, fmt.Errorf("%w: missing subject data", ErrInvalidInput)
	}

	// Normalize before any gateway traffic; a malformed number must not
	// consume a gateway call.
	msisdn, err := phone.Normalize(req.PayerPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if validator, ok := i.validators[req.Purpose]; ok && validator != nil {
		if err := validator.ValidateInitiation(ctx, req); err != nil {
			return nil, err
		}
	}

	push, err := i.gateway.InitiatePush(ctx, msisdn, req.Amount, req.Reference, req.Description)
	if err != nil {
		i.metrics.IncInitiation(req.Purpose, "gateway_error")
		return nil, err
	}

	subjectRef := req.SubjectRef
	record := &PaymentRecord{
		CheckoutRequestID: push.CheckoutRequestID,
		Purpose:           req.Purpose,
		Status:            StatusPending,
		Amount:            req.Amount,
		PayerPhone:        msisdn,
		SubjectRef:        &subjectRef,
		RequestedAt:       time.Now(),
	}
	if err := i.repo.Insert(ctx, record); err != nil {
		// The prompt is already on the payer's phone; losing the record
		// means the callback will reference an unknown correlation id.
		i.logger.ErrorContext(ctx, "failed to persist pending payment after push",
			"checkout_request_id", push.CheckoutRequestID,
			"purpose", req.Purpose,
			"error", err)
		i.metrics.IncInitiation(req.Purpose, "store_error")
		return nil, fmt.Errorf("persist pending payment: %w", err)
	}

	i.metrics.IncInitiation(req.Purpose, "initiated")
	i.logger.InfoContext(ctx, "payment initiated",
		"checkout_request_id", push.CheckoutRequestID,
		"purpose", req.Purpose,
		"amount", req.Amount.String())

	return record, nil
}
