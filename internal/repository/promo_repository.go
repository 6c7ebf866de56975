package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/msai-studio/internal/models"
)

const promoColumns = `id, code, max_uses, uses, created_at`

// PromoRepository stores bonus codes and who redeemed them.
type PromoRepository struct {
	db DBTX
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) WithTx(tx *sql.Tx) *PromoRepository {
	return &PromoRepository{db: tx}
}

func scanPromo(row rowScanner) (*models.PromoCode, error) {
	var p models.PromoCode
	if err := row.Scan(&p.ID, &p.Code, &p.MaxUses, &p.Uses, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PromoRepository) getOne(ctx context.Context, where string, arg any) (*models.PromoCode, error) {
	p, err := scanPromo(r.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	return p, nil
}

// GetByCode expects code already normalized to upper case.
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return r.getOne(ctx, `code = ?`, code)
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	return r.getOne(ctx, `id = ?`, id)
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list promo codes: %w", err)
	}
	defer rows.Close()

	var out []models.PromoCode
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo code: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Create inserts a fresh code with no uses. A taken code surfaces as a
// duplicate key error.
func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO promo_codes (code, max_uses) VALUES (?, ?)`, promo.Code, promo.MaxUses)
	if err != nil {
		return nil, fmt.Errorf("insert promo code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo code id: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Update renames the code or changes its cap. The use counter is only
// moved by IncrementUsage.
func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	if _, err := r.db.ExecContext(ctx, `UPDATE promo_codes SET code = ?, max_uses = ? WHERE id = ?`, promo.Code, promo.MaxUses, promo.ID); err != nil {
		return nil, fmt.Errorf("update promo code %d: %w", promo.ID, err)
	}
	return r.GetByID(ctx, promo.ID)
}

// Delete removes the code; its redemptions cascade.
func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete promo code %d: %w", id, err)
	}
	return nil
}

// IncrementUsage claims one use of the code; false means it is exhausted.
func (r *PromoRepository) IncrementUsage(ctx context.Context, promoID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ? AND uses < max_uses`, promoID)
	if err != nil {
		return false, fmt.Errorf("claim promo use: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim promo use: %w", err)
	}
	return n == 1, nil
}

// RecordRedemption fails with a duplicate key error when the user already
// redeemed the code.
func (r *PromoRepository) RecordRedemption(ctx context.Context, userID string, promoID int64) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO promo_redemptions (user_id, promo_code_id) VALUES (?, ?)`, userID, promoID); err != nil {
		return fmt.Errorf("record promo redemption: %w", err)
	}
	return nil
}
