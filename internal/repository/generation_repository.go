package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/digkill/msai-studio/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, entry *models.GenerationLog) error {
	const query = `
INSERT INTO generation_logs (user_id, workflow, cost, status, request_id, error)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Workflow, entry.Cost, string(entry.Status), entry.RequestID, truncate(entry.Error, 1024))
	if err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("generation log last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.GenerationLog, error) {
	const query = `
SELECT id, user_id, workflow, cost, status, request_id, error, created_at
FROM generation_logs WHERE user_id = ?
ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var logs []models.GenerationLog
	for rows.Next() {
		var l models.GenerationLog
		var status string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Workflow, &l.Cost, &status, &l.RequestID, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		l.Status = models.GenerationStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}
