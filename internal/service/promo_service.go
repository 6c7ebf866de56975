package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/msai-studio/internal/database"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
)

var (
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
	ErrPromoNotFound        = errors.New("promo code not found")
)

type PromoService struct {
	db     *sql.DB
	promos *repository.PromoRepository
	users  *repository.UserRepository
	bonus  int
}

type PromoInput struct {
	Code    string `json:"code"`
	MaxUses int    `json:"max_uses"`
}

func NewPromoService(db *sql.DB, promos *repository.PromoRepository, users *repository.UserRepository, bonus int) *PromoService {
	return &PromoService{db: db, promos: promos, users: users, bonus: bonus}
}

// Redeem grants the promo bonus to userID once per code. The usage claim,
// redemption record and grant commit together or not at all.
func (s *PromoService) Redeem(ctx context.Context, userID, code string) (int, error) {
	code = normalizeCode(code)
	if code == "" {
		return 0, ErrPromoInvalid
	}
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	promos := s.promos.WithTx(tx)
	claimed, err := promos.IncrementUsage(ctx, promo.ID)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrPromoExhausted
	}
	if err := promos.RecordRedemption(ctx, userID, promo.ID); err != nil {
		if database.IsDuplicateKey(err) {
			return 0, ErrPromoAlreadyRedeemed
		}
		return 0, err
	}
	if err := grantWith(ctx, s.users.WithTx(tx), userID, s.bonus); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit promo tx: %w", err)
	}
	return s.bonus, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, in PromoInput) (*models.PromoCode, error) {
	code := normalizeCode(in.Code)
	if code == "" || in.MaxUses <= 0 {
		return nil, ErrPromoInvalid
	}
	promo, err := s.promos.Create(ctx, &models.PromoCode{Code: code, MaxUses: in.MaxUses})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, fmt.Errorf("%w: code %s exists", ErrPromoInvalid, code)
		}
		return nil, err
	}
	return promo, nil
}

func (s *PromoService) Update(ctx context.Context, id int64, in PromoInput) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPromoNotFound
	}
	if code := normalizeCode(in.Code); code != "" {
		existing.Code = code
	}
	if in.MaxUses > 0 {
		existing.MaxUses = in.MaxUses
	}
	return s.promos.Update(ctx, existing)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPromoNotFound
	}
	return s.promos.Delete(ctx, id)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
