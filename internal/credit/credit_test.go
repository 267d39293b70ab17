package credit

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.RegisterTenant("t-1")
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestTopupAndCharge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Topup(ctx, "t-1", 100, "initial", "")
	if err != nil {
		t.Fatalf("topup: %v", err)
	}
	if entry.Balance != 100 || entry.Kind != KindTopup {
		t.Fatalf("unexpected entry %+v", entry)
	}

	entry, err = svc.Charge(ctx, "t-1", 30, "campaign send", "")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if entry.Balance != 70 {
		t.Fatalf("balance = %d, want 70", entry.Balance)
	}

	balance, err := svc.Balance(ctx, "t-1")
	if err != nil || balance != 70 {
		t.Fatalf("balance = %d, %v", balance, err)
	}
}

func TestChargeCannotOverdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Topup(ctx, "t-1", 10, "", ""); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := svc.Charge(ctx, "t-1", 11, "", ""); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("got %v, want ErrInsufficientCredit", err)
	}
	// The failed charge left the balance untouched.
	balance, err := svc.Balance(ctx, "t-1")
	if err != nil || balance != 10 {
		t.Fatalf("balance = %d, %v", balance, err)
	}
}

func TestIdempotentReplay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Topup(ctx, "t-1", 50, "invoice-9", "key-1")
	if err != nil {
		t.Fatalf("topup: %v", err)
	}
	replay, err := svc.Topup(ctx, "t-1", 50, "invoice-9", "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID || replay.Balance != first.Balance {
		t.Fatalf("replay must return the original entry: %+v vs %+v", replay, first)
	}
	balance, _ := svc.Balance(ctx, "t-1")
	if balance != 50 {
		t.Fatalf("balance = %d, replay must not double-apply", balance)
	}
}

func TestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Topup(ctx, "t-1", 0, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := svc.Charge(ctx, "t-1", -5, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := svc.Topup(ctx, "t-404", 10, "", ""); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("unknown tenant: got %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, amount := range []int64{10, 20, 30} {
		if _, err := svc.Topup(ctx, "t-1", amount, "", ""); err != nil {
			t.Fatalf("topup: %v", err)
		}
	}
	entries, err := svc.History(ctx, "t-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Amount != 30 || entries[1].Amount != 20 {
		t.Fatalf("wrong order: %+v", entries)
	}
}
