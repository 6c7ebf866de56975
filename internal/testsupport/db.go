package testsupport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/digkill/msai-studio/internal/database"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
)

// OpenDB returns a migrated SQLite database in a per-test temp directory.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "studio.db")
	db, err := database.Connect(database.DriverSQLite, path)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// MustCreateUser inserts a user holding balance credits.
func MustCreateUser(t testing.TB, db *sql.DB, balance int) *models.User {
	t.Helper()

	id := uuid.NewString()
	user := &models.User{
		ID:              id,
		Email:           id + "@example.com",
		PasswordHash:    "x",
		Name:            "Test User",
		AvailableCredit: balance,
	}
	if err := repository.NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

// MustBalance reads a user's available credit.
func MustBalance(t testing.TB, db *sql.DB, userID string) int {
	t.Helper()

	user, err := repository.NewUserRepository(db).FindByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if user == nil {
		t.Fatalf("user %s not found", userID)
	}
	return user.AvailableCredit
}
