package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/msai-studio/internal/repository"
)

var (
	ErrInvalidDelta        = errors.New("credit delta must be nonzero")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// LedgerService owns every change to a user's available credit.
type LedgerService struct {
	db    *sql.DB
	users *repository.UserRepository
}

func NewLedgerService(db *sql.DB, users *repository.UserRepository) *LedgerService {
	return &LedgerService{db: db, users: users}
}

// Adjust applies a signed delta: positive grants, negative spends.
func (s *LedgerService) Adjust(ctx context.Context, userID string, delta int) error {
	switch {
	case delta == 0:
		return ErrInvalidDelta
	case delta > 0:
		return s.Grant(ctx, userID, delta)
	default:
		return s.Spend(ctx, userID, -delta)
	}
}

// Grant adds purchased or bonus credit; it counts toward total_credit.
func (s *LedgerService) Grant(ctx context.Context, userID string, amount int) error {
	return grantWith(ctx, s.users, userID, amount)
}

// Refund returns a reserved amount without touching total_credit.
func (s *LedgerService) Refund(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidDelta
	}
	ok, err := s.users.AddCredits(ctx, userID, amount, false)
	if err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// Spend removes amount only when the balance covers it.
func (s *LedgerService) Spend(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidDelta
	}
	ok, err := s.users.SpendCredits(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("spend credits: %w", err)
	}
	if ok {
		return nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	return ErrInsufficientCredits
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (int, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.AvailableCredit, nil
}

// grantWith lets transactional callers reuse the grant rules on a tx-bound repository.
func grantWith(ctx context.Context, users *repository.UserRepository, userID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidDelta
	}
	ok, err := users.AddCredits(ctx, userID, amount, true)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}
