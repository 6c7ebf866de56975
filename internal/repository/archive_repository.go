package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/msai-studio/internal/models"
)

const archiveColumns = `id, user_id, generation_id, source_url, stored_url, status, attempts, last_error, created_at, updated_at`

type ArchiveRepository struct {
	db *sql.DB
}

func NewArchiveRepository(db *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

func (r *ArchiveRepository) Create(ctx context.Context, job *models.ArchiveJob) error {
	const query = `
INSERT INTO archive_jobs (user_id, generation_id, source_url, status)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, job.UserID, job.GenerationID, job.SourceURL, string(models.ArchivePending))
	if err != nil {
		return fmt.Errorf("insert archive job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("archive job last insert id: %w", err)
	}
	job.ID = id
	job.Status = models.ArchivePending
	return nil
}

func scanArchiveJob(row rowScanner) (*models.ArchiveJob, error) {
	var j models.ArchiveJob
	var status string
	if err := row.Scan(&j.ID, &j.UserID, &j.GenerationID, &j.SourceURL, &j.StoredURL, &status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.ArchiveStatus(status)
	return &j, nil
}

func (r *ArchiveRepository) query(ctx context.Context, query string, args ...any) ([]models.ArchiveJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archive jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ArchiveJob
	for rows.Next() {
		j, err := scanArchiveJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *ArchiveRepository) ListPending(ctx context.Context, limit int) ([]models.ArchiveJob, error) {
	return r.query(ctx, `SELECT `+archiveColumns+` FROM archive_jobs WHERE status = ? ORDER BY id ASC LIMIT ?`, string(models.ArchivePending), limit)
}

func (r *ArchiveRepository) ListByUser(ctx context.Context, userID string) ([]models.ArchiveJob, error) {
	return r.query(ctx, `SELECT `+archiveColumns+` FROM archive_jobs WHERE user_id = ? ORDER BY id DESC`, userID)
}

func (r *ArchiveRepository) GetByID(ctx context.Context, id int64) (*models.ArchiveJob, error) {
	jobs, err := r.query(ctx, `SELECT `+archiveColumns+` FROM archive_jobs WHERE id = ?`, id)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

// Claim moves a pending job to running. False means another worker owns it.
func (r *ArchiveRepository) Claim(ctx context.Context, id int64) (bool, error) {
	const query = `UPDATE archive_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, string(models.ArchiveRunning), id, string(models.ArchivePending))
	if err != nil {
		return false, fmt.Errorf("claim archive job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ArchiveRepository) MarkDone(ctx context.Context, id int64, storedURL string) error {
	const query = `
UPDATE archive_jobs SET status = ?, stored_url = ?, attempts = attempts + 1, last_error = '', updated_at = CURRENT_TIMESTAMP
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.ArchiveDone), storedURL, id); err != nil {
		return fmt.Errorf("mark archive job done: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed attempt and returns the job to the
// queue, or marks it failed once maxAttempts is reached. status is assigned
// before attempts because MySQL evaluates SET clauses left to right.
func (r *ArchiveRepository) MarkAttemptFailed(ctx context.Context, id int64, reason string, maxAttempts int) (models.ArchiveStatus, error) {
	const query = `
UPDATE archive_jobs
SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END,
    attempts = attempts + 1,
    last_error = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, maxAttempts, string(models.ArchiveFailed), string(models.ArchivePending), truncate(reason, 1024), id); err != nil {
		return "", fmt.Errorf("mark archive attempt failed: %w", err)
	}
	var status string
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM archive_jobs WHERE id = ?`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("read archive status: %w", err)
	}
	return models.ArchiveStatus(status), nil
}

// ReleaseStale returns running jobs not touched since cutoff to the queue.
func (r *ArchiveRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE archive_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ? AND updated_at < ?`
	res, err := r.db.ExecContext(ctx, query, string(models.ArchivePending), string(models.ArchiveRunning), cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("release stale archive jobs: %w", err)
	}
	return res.RowsAffected()
}
