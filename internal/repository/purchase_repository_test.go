package repository_test

import (
	"context"
	"testing"

	"github.com/digkill/msai-studio/internal/database"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/testsupport"
)

func TestPurchaseSessionIDIsUnique(t *testing.T) {
	db := testsupport.OpenDB(t)
	repo := repository.NewPurchaseRepository(db)
	user := testsupport.MustCreateUser(t, db, 0)
	ctx := context.Background()

	first := &models.Purchase{SessionID: "sess_abc", UserID: user.ID, Amount: 900, Currency: "usd", Credits: 100, Status: models.PurchaseStatusPaid}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected purchase id to be assigned")
	}

	second := &models.Purchase{SessionID: "sess_abc", UserID: user.ID, Amount: 900, Currency: "usd", Credits: 100, Status: models.PurchaseStatusPaid}
	err := repo.Create(ctx, second)
	if err == nil {
		t.Fatal("expected duplicate session insert to fail")
	}
	if !database.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	list, err := repo.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 purchase, got %d", len(list))
	}
	if list[0].PlanID != nil {
		t.Fatalf("expected nil plan id, got %v", *list[0].PlanID)
	}
}
