package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/msai-studio/internal/models"
)

const userColumns = `id, email, password_hash, name, phone, profile_image, available_credit, total_credit, role, created_at, updated_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Phone, &u.ProfileImage, &u.AvailableCredit, &u.TotalCredit, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user by email: %w", err)
	}
	return u, nil
}

// Create inserts user; the starting balance also counts toward total_credit.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `
INSERT INTO users (id, email, password_hash, name, phone, profile_image, available_credit, total_credit, role)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.Name, user.Phone, user.ProfileImage, user.AvailableCredit, user.AvailableCredit, string(user.Role))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.TotalCredit = user.AvailableCredit
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, phone, profileImage string) error {
	const query = `
UPDATE users SET name = ?, phone = ?, profile_image = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, name, phone, profileImage, id); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (r *UserRepository) SetRoleByEmail(ctx context.Context, email string, role models.Role) (bool, error) {
	const query = `UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE email = ?`
	res, err := r.db.ExecContext(ctx, query, string(role), email)
	if err != nil {
		return false, fmt.Errorf("set role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("role rows affected: %w", err)
	}
	return affected > 0, nil
}

// AddCredits increments the balance. When lifetime is true the amount also
// counts toward total_credit; refunds pass false.
func (r *UserRepository) AddCredits(ctx context.Context, id string, amount int, lifetime bool) (bool, error) {
	total := 0
	if lifetime {
		total = amount
	}
	const query = `
UPDATE users SET available_credit = available_credit + ?, total_credit = total_credit + ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, total, id)
	if err != nil {
		return false, fmt.Errorf("add credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add credits rows affected: %w", err)
	}
	return affected > 0, nil
}

// SpendCredits decrements the balance only when it covers amount. A false
// result means the user is missing or the balance is too low.
func (r *UserRepository) SpendCredits(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE users SET available_credit = available_credit - ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND available_credit >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("spend credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend credits rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
