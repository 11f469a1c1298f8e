package points

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/gateway"
)

func TestTimerSweep_ResolvesStalePending(t *testing.T) {
	svc, store, gw := newTestService()
	handle, err := svc.InitiatePurchase(context.Background(), "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}

	gw.mu.Lock()
	gw.status = gateway.StatusSettlement
	gw.mu.Unlock()

	tm := NewTimer(svc, testLogger())
	tm.maxAge = -time.Minute // everything counts as stale
	tm.sweep(context.Background())

	txn, err := store.FindByReference(context.Background(), handle.Reference)
	if err != nil {
		t.Fatalf("FindByReference failed: %v", err)
	}
	if txn.Status != StatusCompleted {
		t.Fatalf("expected completed after sweep, got %s", txn.Status)
	}
	bal, err := store.Balance(context.Background(), "com_1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal.Points != 100 {
		t.Fatalf("expected 100 points credited, got %d", bal.Points)
	}
}

func TestTimerSweep_SkipsRecentPending(t *testing.T) {
	svc, store, gw := newTestService()
	handle, err := svc.InitiatePurchase(context.Background(), "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}

	gw.mu.Lock()
	gw.status = gateway.StatusSettlement
	gw.mu.Unlock()

	tm := NewTimer(svc, testLogger())
	tm.sweep(context.Background()) // default 1h cutoff, purchase is fresh

	txn, err := store.FindByReference(context.Background(), handle.Reference)
	if err != nil {
		t.Fatalf("FindByReference failed: %v", err)
	}
	if txn.Status != StatusPending {
		t.Fatalf("fresh purchase should stay pending, got %s", txn.Status)
	}
}

func TestTimerSweep_GatewayErrorLeavesPending(t *testing.T) {
	svc, store, gw := newTestService()
	handle, err := svc.InitiatePurchase(context.Background(), "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}

	gw.mu.Lock()
	gw.statusErr = errors.New("gateway down")
	gw.mu.Unlock()

	tm := NewTimer(svc, testLogger())
	tm.maxAge = -time.Minute
	tm.sweep(context.Background())

	txn, err := store.FindByReference(context.Background(), handle.Reference)
	if err != nil {
		t.Fatalf("FindByReference failed: %v", err)
	}
	if txn.Status != StatusPending {
		t.Fatalf("expected pending after failed sync, got %s", txn.Status)
	}
}

func TestTimerStop_UnblocksStart(t *testing.T) {
	svc, _, _ := newTestService()
	tm := NewTimer(svc, testLogger(), WithSweepInterval(time.Hour))

	done := make(chan struct{})
	go func() {
		tm.Start(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
