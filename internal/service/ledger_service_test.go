package service

import (
	"context"
	"errors"
	"testing"

	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/testsupport"
)

func TestLedgerAdjust(t *testing.T) {
	tests := []struct {
		name    string
		balance int
		delta   int
		want    int
		wantErr error
	}{
		{name: "grant", balance: 10, delta: 100, want: 110},
		{name: "spend", balance: 20, delta: -15, want: 5},
		{name: "spend exact balance", balance: 15, delta: -15, want: 0},
		{name: "overspend", balance: 10, delta: -100, want: 10, wantErr: ErrInsufficientCredits},
		{name: "zero delta", balance: 10, delta: 0, want: 10, wantErr: ErrInvalidDelta},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := testsupport.OpenDB(t)
			user := testsupport.MustCreateUser(t, db, tc.balance)
			ledger := NewLedgerService(db, repository.NewUserRepository(db))

			err := ledger.Adjust(context.Background(), user.ID, tc.delta)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Adjust error = %v, want %v", err, tc.wantErr)
			}
			if got := testsupport.MustBalance(t, db, user.ID); got != tc.want {
				t.Fatalf("balance = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLedgerUnknownUser(t *testing.T) {
	db := testsupport.OpenDB(t)
	ledger := NewLedgerService(db, repository.NewUserRepository(db))
	ctx := context.Background()

	if err := ledger.Adjust(ctx, "missing", 5); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("grant to missing user: %v", err)
	}
	if err := ledger.Adjust(ctx, "missing", -5); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("spend from missing user: %v", err)
	}
	if _, err := ledger.Balance(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("balance of missing user: %v", err)
	}
}

func TestLedgerRefundKeepsLifetimeTotal(t *testing.T) {
	db := testsupport.OpenDB(t)
	users := repository.NewUserRepository(db)
	user := testsupport.MustCreateUser(t, db, 20)
	ledger := NewLedgerService(db, users)
	ctx := context.Background()

	if err := ledger.Spend(ctx, user.ID, 15); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := ledger.Refund(ctx, user.ID, 15); err != nil {
		t.Fatalf("refund: %v", err)
	}
	got, err := users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if got.AvailableCredit != 20 || got.TotalCredit != 20 {
		t.Fatalf("available=%d total=%d, want 20/20", got.AvailableCredit, got.TotalCredit)
	}
}
