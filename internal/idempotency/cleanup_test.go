package idempotency

import (
	"testing"
	"time"
)

func TestCleanupOldKeys(t *testing.T) {
	repo := NewInMemoryRepository()

	oldRecord := initiateRecord("expired-retry")
	oldRecord.CreatedAt = time.Now().Add(-25 * time.Hour)

	recentRecord := initiateRecord("active-retry")
	recentRecord.CreatedAt = time.Now().Add(-1 * time.Hour)

	if err := repo.Store(oldRecord); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := repo.Store(recentRecord); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	deleted, err := CleanupOldKeys(repo, DefaultExpiry)
	if err != nil {
		t.Fatalf("CleanupOldKeys() error = %v", err)
	}

	if deleted != 1 {
		t.Errorf("CleanupOldKeys() deleted = %d, want 1", deleted)
	}

	_, err = repo.Get("expired-retry")
	if err != ErrKeyNotFound {
		t.Errorf("Get() expired record error = %v, want %v", err, ErrKeyNotFound)
	}

	_, err = repo.Get("active-retry")
	if err != nil {
		t.Errorf("Get() active record error = %v, want nil", err)
	}
}

func TestCleanupOldKeys_NoKeys(t *testing.T) {
	repo := NewInMemoryRepository()

	deleted, err := CleanupOldKeys(repo, DefaultExpiry)
	if err != nil {
		t.Fatalf("CleanupOldKeys() error = %v", err)
	}

	if deleted != 0 {
		t.Errorf("CleanupOldKeys() deleted = %d, want 0", deleted)
	}
}

func TestRunPeriodicCleanup_Stop(t *testing.T) {
	repo := NewInMemoryRepository()

	oldRecord := initiateRecord("expired-retry")
	oldRecord.CreatedAt = time.Now().Add(-25 * time.Hour)

	if err := repo.Store(oldRecord); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	stopChan := make(chan struct{})

	done := make(chan struct{})
	go func() {
		RunPeriodicCleanup(repo, 100*time.Millisecond, DefaultExpiry, stopChan)
		close(done)
	}()

	// The initial sweep runs before the first tick
	time.Sleep(150 * time.Millisecond)

	_, err := repo.Get("expired-retry")
	if err != ErrKeyNotFound {
		t.Errorf("Get() expired record error = %v, want %v", err, ErrKeyNotFound)
	}

	close(stopChan)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("RunPeriodicCleanup() did not stop within timeout")
	}
}
