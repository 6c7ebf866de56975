package service

import (
	"context"
	"errors"
	"testing"

	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/testsupport"
)

func TestPromoRedeem(t *testing.T) {
	db := testsupport.OpenDB(t)
	users := repository.NewUserRepository(db)
	svc := NewPromoService(db, repository.NewPromoRepository(db), users, 50)
	ctx := context.Background()

	if _, err := svc.Create(ctx, PromoInput{Code: " launch ", MaxUses: 1}); err != nil {
		t.Fatalf("create promo: %v", err)
	}
	first := testsupport.MustCreateUser(t, db, 10)
	second := testsupport.MustCreateUser(t, db, 10)

	bonus, err := svc.Redeem(ctx, first.ID, "LAUNCH")
	if err != nil || bonus != 50 {
		t.Fatalf("redeem: bonus=%d err=%v", bonus, err)
	}
	got, err := users.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if got.AvailableCredit != 60 || got.TotalCredit != 60 {
		t.Fatalf("available=%d total=%d, want 60/60", got.AvailableCredit, got.TotalCredit)
	}

	if _, err := svc.Redeem(ctx, second.ID, "launch"); !errors.Is(err, ErrPromoExhausted) {
		t.Fatalf("expected ErrPromoExhausted, got %v", err)
	}
	if _, err := svc.Redeem(ctx, second.ID, "unknown"); !errors.Is(err, ErrPromoInvalid) {
		t.Fatalf("expected ErrPromoInvalid, got %v", err)
	}
	if got := testsupport.MustBalance(t, db, second.ID); got != 10 {
		t.Fatalf("second balance = %d, want 10", got)
	}
}

func TestPromoRedeemOncePerUser(t *testing.T) {
	db := testsupport.OpenDB(t)
	promos := repository.NewPromoRepository(db)
	svc := NewPromoService(db, promos, repository.NewUserRepository(db), 50)
	ctx := context.Background()

	promo, err := svc.Create(ctx, PromoInput{Code: "TWICE", MaxUses: 5})
	if err != nil {
		t.Fatalf("create promo: %v", err)
	}
	user := testsupport.MustCreateUser(t, db, 0)

	if _, err := svc.Redeem(ctx, user.ID, "TWICE"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := svc.Redeem(ctx, user.ID, "TWICE"); !errors.Is(err, ErrPromoAlreadyRedeemed) {
		t.Fatalf("expected ErrPromoAlreadyRedeemed, got %v", err)
	}
	if got := testsupport.MustBalance(t, db, user.ID); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}
	// The rolled back attempt must not consume a use.
	reloaded, err := promos.GetByID(ctx, promo.ID)
	if err != nil {
		t.Fatalf("reload promo: %v", err)
	}
	if reloaded.Uses != 1 {
		t.Fatalf("uses = %d, want 1", reloaded.Uses)
	}
}

func TestPromoAdminCRUD(t *testing.T) {
	db := testsupport.OpenDB(t)
	svc := NewPromoService(db, repository.NewPromoRepository(db), repository.NewUserRepository(db), 50)
	ctx := context.Background()

	if _, err := svc.Create(ctx, PromoInput{Code: "X", MaxUses: 0}); !errors.Is(err, ErrPromoInvalid) {
		t.Fatalf("expected ErrPromoInvalid, got %v", err)
	}
	promo, err := svc.Create(ctx, PromoInput{Code: "spring", MaxUses: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, PromoInput{Code: "SPRING", MaxUses: 3}); !errors.Is(err, ErrPromoInvalid) {
		t.Fatalf("expected duplicate code rejection, got %v", err)
	}
	updated, err := svc.Update(ctx, promo.ID, PromoInput{MaxUses: 10})
	if err != nil || updated.MaxUses != 10 || updated.Code != "SPRING" {
		t.Fatalf("update: %+v err=%v", updated, err)
	}
	if err := svc.Delete(ctx, promo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, promo.ID); !errors.Is(err, ErrPromoNotFound) {
		t.Fatalf("expected ErrPromoNotFound, got %v", err)
	}
}
