package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huduma-collective/hudumahub/internal/mpesa"
)

func newTestReconciler(t *testing.T, repo Repository, gateway mpesa.Client, handler CompletionHandler) *Reconciler {
	t.Helper()
	if handler == nil {
		handler = &mockHandler{}
	}
	metrics := NewMetrics()
	dispatcher, err := NewDispatcher(repo, handlersForAll(handler), metrics, testLogger())
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return NewReconciler(repo, gateway, dispatcher, metrics, testLogger())
}

func successCallback(checkoutRequestID string) *mpesa.CallbackResult {
	return &mpesa.CallbackResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        mpesa.ResultCodeSuccess,
		ResultDesc:        "The service request is processed successfully.",
		ReceiptNumber:     "SAK6TY2LDN",
		Amount:            decimal.NewFromInt(1500),
		TransactionTime:   time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
		PhoneNumber:       "254712345678",
	}
}

func TestApplyCallback_Success(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	reconciler := newTestReconciler(t, repo, &mockGateway{}, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_7001")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := reconciler.ApplyCallback(ctx, successCallback("ws_CO_7001")); err != nil {
		t.Fatalf("ApplyCallback failed: %v", err)
	}

	record, err := repo.GetByCheckoutRequestID(ctx, "ws_CO_7001")
	if err != nil {
		t.Fatalf("GetByCheckoutRequestID failed: %v", err)
	}
	if record.Status != StatusSuccess {
		t.Errorf("expected success status, got %q", record.Status)
	}
	if record.GatewayReceipt == nil || *record.GatewayReceipt != "SAK6TY2LDN" {
		t.Errorf("receipt not recorded: %v", record.GatewayReceipt)
	}
	if !record.CompletionApplied {
		t.Error("completion was not applied")
	}
	if handler.calls.Load() != 1 {
		t.Errorf("expected 1 completion, got %d", handler.calls.Load())
	}
}

func TestApplyCallback_FailureNoCompletion(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	reconciler := newTestReconciler(t, repo, &mockGateway{}, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_7002")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	cb := &mpesa.CallbackResult{
		CheckoutRequestID: "ws_CO_7002",
		ResultCode:        mpesa.ResultCodeCancelled,
		ResultDesc:        "Request cancelled by user",
	}
	if err := reconciler.ApplyCallback(ctx, cb); err != nil {
		t.Fatalf("ApplyCallback failed: %v", err)
	}

	record, err := repo.GetByCheckoutRequestID(ctx, "ws_CO_7002")
	if err != nil {
		t.Fatalf("GetByCheckoutRequestID failed: %v", err)
	}
	if record.Status != StatusFailed {
		t.Errorf("expected failed status, got %q", record.Status)
	}
	if record.ResultDesc != "Request cancelled by user" {
		t.Errorf("result description not recorded: %q", record.ResultDesc)
	}
	if handler.calls.Load() != 0 {
		t.Error("completion ran for a failed payment")
	}
}

func TestApplyCallback_UnknownIDAcknowledged(t *testing.T) {
	reconciler := newTestReconciler(t, NewInMemoryRepository(), &mockGateway{}, nil)

	// Unknown correlation ids are logged, not errored; the gateway must
	// still get its acknowledgment.
	if err := reconciler.ApplyCallback(context.Background(), successCallback("ws_CO_unknown")); err != nil {
		t.Errorf("expected nil error for unknown id, got %v", err)
	}
}

func TestApplyCallback_DuplicateDelivery(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	reconciler := newTestReconciler(t, repo, &mockGateway{}, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_7003")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := reconciler.ApplyCallback(ctx, successCallback("ws_CO_7003")); err != nil {
			t.Fatalf("ApplyCallback delivery %d failed: %v", i+1, err)
		}
	}

	if handler.calls.Load() != 1 {
		t.Errorf("expected 1 completion across duplicate deliveries, got %d", handler.calls.Load())
	}
}

func TestApplyCallback_ConcurrentDuplicates(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	reconciler := newTestReconciler(t, repo, &mockGateway{}, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_7004")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const deliveries = 10
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reconciler.ApplyCallback(ctx, successCallback("ws_CO_7004")); err != nil {
				t.Errorf("ApplyCallback failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if handler.calls.Load() != 1 {
		t.Errorf("expected exactly 1 completion under concurrent duplicates, got %d", handler.calls.Load())
	}
}

func TestReconcileViaQuery_TerminalShortCircuits(t *testing.T) {
	repo := NewInMemoryRepository()
	gateway := &mockGateway{}
	reconciler := newTestReconciler(t, repo, gateway, nil)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_8001")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, _, err := repo.FinalizeIfPending(ctx, "ws_CO_8001", Outcome{Status: StatusFailed}); err != nil {
		t.Fatalf("FinalizeIfPending failed: %v", err)
	}

	record, err := reconciler.ReconcileViaQuery(ctx, "ws_CO_8001")
	if err != nil {
		t.Fatalf("ReconcileViaQuery failed: %v", err)
	}
	if record.Status != StatusFailed {
		t.Errorf("unexpected status %q", record.Status)
	}
	if gateway.queryCalls != 0 {
		t.Errorf("gateway queried %d times for a terminal record", gateway.queryCalls)
	}
}

func TestReconcileViaQuery_GatewayUnavailableLeavesPending(t *testing.T) {
	repo := NewInMemoryRepository()
	gateway := &mockGateway{
		queryStatusFunc: func(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error) {
			return mpesa.QueryResult{}, mpesa.ErrGatewayUnavailable
		},
	}
	reconciler := newTestReconciler(t, repo, gateway, nil)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_8002")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	record, err := reconciler.ReconcileViaQuery(ctx, "ws_CO_8002")
	if err != nil {
		t.Fatalf("ReconcileViaQuery failed: %v", err)
	}
	if record.Status != StatusPending {
		t.Errorf("expected record to stay pending, got %q", record.Status)
	}
}

func TestReconcileViaQuery_ResolvesAndDispatches(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	gateway := &mockGateway{
		queryStatusFunc: func(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error) {
			return mpesa.QueryResult{ResultCode: mpesa.ResultCodeSuccess, ResultDesc: "The service request is processed successfully."}, nil
		},
	}
	reconciler := newTestReconciler(t, repo, gateway, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_8003")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	record, err := reconciler.ReconcileViaQuery(ctx, "ws_CO_8003")
	if err != nil {
		t.Fatalf("ReconcileViaQuery failed: %v", err)
	}
	if record.Status != StatusSuccess {
		t.Errorf("expected success, got %q", record.Status)
	}
	if handler.calls.Load() != 1 {
		t.Errorf("expected completion to run once, got %d", handler.calls.Load())
	}
}

func TestReconcileViaQuery_FailureOutcome(t *testing.T) {
	repo := NewInMemoryRepository()
	handler := &mockHandler{}
	gateway := &mockGateway{
		queryStatusFunc: func(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error) {
			return mpesa.QueryResult{ResultCode: mpesa.ResultCodeCancelled, ResultDesc: "Request cancelled by user"}, nil
		},
	}
	reconciler := newTestReconciler(t, repo, gateway, handler)
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_8004")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	record, err := reconciler.ReconcileViaQuery(ctx, "ws_CO_8004")
	if err != nil {
		t.Fatalf("ReconcileViaQuery failed: %v", err)
	}
	if record.Status != StatusFailed {
		t.Errorf("expected failed, got %q", record.Status)
	}
	if handler.calls.Load() != 0 {
		t.Error("completion ran for a failed payment")
	}
}
