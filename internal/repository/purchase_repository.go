package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/msai-studio/internal/models"
)

const purchaseColumns = `id, session_id, user_id, plan_id, amount, currency, credits, status, COALESCE(raw_payload, ''), created_at, updated_at`

type PurchaseRepository struct {
	db DBTX
}

func NewPurchaseRepository(db *sql.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) WithTx(tx *sql.Tx) *PurchaseRepository {
	return &PurchaseRepository{db: tx}
}

// Create inserts a purchase. A second insert with the same session id fails
// with a duplicate key error (see database.IsDuplicateKey).
func (r *PurchaseRepository) Create(ctx context.Context, p *models.Purchase) error {
	const query = `
INSERT INTO purchases (session_id, user_id, plan_id, amount, currency, credits, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, p.SessionID, p.UserID, p.PlanID, p.Amount, p.Currency, p.Credits, p.Status, p.RawPayload)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	return nil
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	var planID sql.NullInt64
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &planID, &p.Amount, &p.Currency, &p.Credits, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if planID.Valid {
		p.PlanID = &planID.Int64
	}
	return &p, nil
}

func (r *PurchaseRepository) FindBySession(ctx context.Context, sessionID string) (*models.Purchase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE session_id = ?`, sessionID)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	return p, nil
}

func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string) ([]models.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase list: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}
