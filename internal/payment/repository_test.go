package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newPendingRecord(checkoutRequestID string) *PaymentRecord {
	subject := "appt-77"
	return &PaymentRecord{
		CheckoutRequestID: checkoutRequestID,
		Purpose:           PurposeServiceBooking,
		Status:            StatusPending,
		Amount:            decimal.NewFromInt(1500),
		PayerPhone:        "254712345678",
		SubjectRef:        &subject,
		RequestedAt:       time.Now(),
	}
}

func TestInMemoryRepository_InsertAndGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	record := newPendingRecord("ws_CO_1001")
	if err := repo.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if record.ID == "" {
		t.Error("expected Insert to assign an id")
	}

	got, err := repo.GetByCheckoutRequestID(ctx, "ws_CO_1001")
	if err != nil {
		t.Fatalf("GetByCheckoutRequestID failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected status %q, got %q", StatusPending, got.Status)
	}
	if got.SubjectRef == nil || *got.SubjectRef != "appt-77" {
		t.Errorf("unexpected subject ref: %v", got.SubjectRef)
	}

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_1001")); err == nil {
		t.Error("expected duplicate checkout request id to be rejected")
	}
}

func TestInMemoryRepository_GetNotFound(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := repo.GetByCheckoutRequestID(context.Background(), "ws_CO_missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestInMemoryRepository_FinalizeIfPending(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_2001")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	outcome := Outcome{
		Status:          StatusSuccess,
		ResultDesc:      "The service request is processed successfully.",
		Receipt:         "SAK6TY2LDN",
		SettledAmount:   decimal.NewFromInt(1500),
		TransactionTime: time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
	}

	record, won, err := repo.FinalizeIfPending(ctx, "ws_CO_2001", outcome)
	if err != nil {
		t.Fatalf("FinalizeIfPending failed: %v", err)
	}
	if !won {
		t.Fatal("expected first finalize to win")
	}
	if record.Status != StatusSuccess {
		t.Errorf("expected status success, got %q", record.Status)
	}
	if record.GatewayReceipt == nil || *record.GatewayReceipt != "SAK6TY2LDN" {
		t.Errorf("unexpected receipt: %v", record.GatewayReceipt)
	}

	// Second finalize with a conflicting outcome must lose and leave the
	// record untouched.
	record, won, err = repo.FinalizeIfPending(ctx, "ws_CO_2001", Outcome{Status: StatusFailed, ResultDesc: "Request cancelled by user"})
	if err != nil {
		t.Fatalf("second FinalizeIfPending failed: %v", err)
	}
	if won {
		t.Error("expected second finalize to lose")
	}
	if record.Status != StatusSuccess {
		t.Errorf("terminal status was overwritten: %q", record.Status)
	}

	_, _, err = repo.FinalizeIfPending(ctx, "ws_CO_unknown", outcome)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestInMemoryRepository_FinalizeConcurrent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_3001")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		status := StatusSuccess
		if i%2 == 1 {
			status = StatusFailed
		}
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			_, won, err := repo.FinalizeIfPending(ctx, "ws_CO_3001", Outcome{Status: status})
			if err != nil {
				t.Errorf("FinalizeIfPending failed: %v", err)
				return
			}
			if won {
				wins <- status
			}
		}(status)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for status := range wins {
		winners = append(winners, status)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}

	record, err := repo.GetByCheckoutRequestID(ctx, "ws_CO_3001")
	if err != nil {
		t.Fatalf("GetByCheckoutRequestID failed: %v", err)
	}
	if record.Status != winners[0] {
		t.Errorf("stored status %q does not match winning outcome %q", record.Status, winners[0])
	}
}

func TestInMemoryRepository_ClaimAndReleaseCompletion(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.Insert(ctx, newPendingRecord("ws_CO_4001")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Pending records cannot be claimed.
	claimed, err := repo.ClaimCompletion(ctx, "ws_CO_4001")
	if err != nil {
		t.Fatalf("ClaimCompletion failed: %v", err)
	}
	if claimed {
		t.Error("claimed completion for a pending record")
	}

	if _, _, err := repo.FinalizeIfPending(ctx, "ws_CO_4001", Outcome{Status: StatusSuccess}); err != nil {
		t.Fatalf("FinalizeIfPending failed: %v", err)
	}

	claimed, err = repo.ClaimCompletion(ctx, "ws_CO_4001")
	if err != nil {
		t.Fatalf("ClaimCompletion failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = repo.ClaimCompletion(ctx, "ws_CO_4001")
	if err != nil {
		t.Fatalf("second ClaimCompletion failed: %v", err)
	}
	if claimed {
		t.Error("expected second claim to fail")
	}

	if err := repo.ReleaseCompletion(ctx, "ws_CO_4001"); err != nil {
		t.Fatalf("ReleaseCompletion failed: %v", err)
	}
	claimed, err = repo.ClaimCompletion(ctx, "ws_CO_4001")
	if err != nil {
		t.Fatalf("ClaimCompletion after release failed: %v", err)
	}
	if !claimed {
		t.Error("expected claim to succeed after release")
	}
}

func TestInMemoryRepository_ListStalePending(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{10 * time.Minute, 5 * time.Minute, 30 * time.Second} {
		record := newPendingRecord("ws_CO_500" + string(rune('0'+i)))
		record.RequestedAt = now.Add(-age)
		if err := repo.Insert(ctx, record); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	// A terminal record must never be swept.
	finalized := newPendingRecord("ws_CO_5009")
	finalized.RequestedAt = now.Add(-time.Hour)
	if err := repo.Insert(ctx, finalized); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, _, err := repo.FinalizeIfPending(ctx, "ws_CO_5009", Outcome{Status: StatusFailed}); err != nil {
		t.Fatalf("FinalizeIfPending failed: %v", err)
	}

	stale, err := repo.ListStalePending(ctx, now.Add(-2*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale records, got %d", len(stale))
	}
	if !stale[0].RequestedAt.Before(stale[1].RequestedAt) {
		t.Error("expected oldest-first ordering")
	}

	limited, err := repo.ListStalePending(ctx, now.Add(-2*time.Minute), 1)
	if err != nil {
		t.Fatalf("ListStalePending with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results, got %d", len(limited))
	}
	if limited[0].CheckoutRequestID != "ws_CO_5000" {
		t.Errorf("expected oldest record first, got %s", limited[0].CheckoutRequestID)
	}
}
