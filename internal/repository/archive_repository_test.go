package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/testsupport"
)

func TestArchiveJobLifecycle(t *testing.T) {
	db := testsupport.OpenDB(t)
	repo := repository.NewArchiveRepository(db)
	user := testsupport.MustCreateUser(t, db, 0)
	ctx := context.Background()

	job := &models.ArchiveJob{UserID: user.ID, GenerationID: 7, SourceURL: "https://cdn.example.com/out.png"}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claimed, err := repo.Claim(ctx, job.ID)
	if err != nil || !claimed {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}
	again, err := repo.Claim(ctx, job.ID)
	if err != nil || again {
		t.Fatalf("second Claim = %v, %v; want false", again, err)
	}
	running, err := repo.GetByID(ctx, job.ID)
	if err != nil || running == nil || running.Status != models.ArchiveRunning {
		t.Fatalf("claimed job = %+v, %v; want running", running, err)
	}

	status, err := repo.MarkAttemptFailed(ctx, job.ID, "boom", 2)
	if err != nil {
		t.Fatalf("MarkAttemptFailed: %v", err)
	}
	if status != models.ArchivePending {
		t.Fatalf("status after first failure = %s, want pending", status)
	}

	if _, err := repo.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	status, err = repo.MarkAttemptFailed(ctx, job.ID, "boom", 2)
	if err != nil {
		t.Fatalf("MarkAttemptFailed: %v", err)
	}
	if status != models.ArchiveFailed {
		t.Fatalf("status after max attempts = %s, want failed", status)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID = %v, %v", got, err)
	}
	if got.Attempts != 2 || got.LastError != "boom" {
		t.Fatalf("unexpected job state %#v", got)
	}
}

func TestArchiveReleaseStale(t *testing.T) {
	db := testsupport.OpenDB(t)
	repo := repository.NewArchiveRepository(db)
	user := testsupport.MustCreateUser(t, db, 0)
	ctx := context.Background()

	job := &models.ArchiveJob{UserID: user.ID, GenerationID: 1, SourceURL: "https://cdn.example.com/a.png"}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	released, err := repo.ReleaseStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStale: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	pending, err := repo.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("unexpected pending jobs %#v", pending)
	}
}
