package service

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/testsupport"
)

func newTestUserService(t *testing.T) *UserService {
	t.Helper()
	db := testsupport.OpenDB(t)
	svc := NewUserService(repository.NewUserRepository(db), 10)
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestSignupAndLogin(t *testing.T) {
	svc := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, SignupInput{Email: "Ada@Example.com", Password: "correct horse", Name: " Ada "})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "ada@example.com" || user.Name != "Ada" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.AvailableCredit != 10 || user.TotalCredit != 10 || user.Role != models.RoleUser {
		t.Fatalf("unexpected starting state: %+v", user)
	}

	if _, err := svc.Login(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "ada@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := newTestUserService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   SignupInput
		want error
	}{
		{name: "bad email", in: SignupInput{Email: "not-an-email", Password: "longenough"}, want: ErrInvalidEmail},
		{name: "display name", in: SignupInput{Email: "Bob <bob@example.com>", Password: "longenough"}, want: ErrInvalidEmail},
		{name: "short password", in: SignupInput{Email: "bob@example.com", Password: "short"}, want: ErrWeakPassword},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Signup(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("Signup error = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := svc.Signup(ctx, SignupInput{Email: "dup@example.com", Password: "longenough"}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := svc.Signup(ctx, SignupInput{Email: "DUP@example.com", Password: "longenough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUpdateProfileAndPromote(t *testing.T) {
	svc := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, SignupInput{Email: "eve@example.com", Password: "longenough", Phone: "123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	name := "Eve"
	updated, err := svc.UpdateProfile(ctx, user.ID, ProfileInput{Name: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Name != "Eve" || updated.Phone != "123" {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	if err := svc.Promote(ctx, "eve@example.com"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	got, err := svc.Get(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != models.RoleAdmin {
		t.Fatalf("role = %q, want admin", got.Role)
	}
	if err := svc.Promote(ctx, "ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
