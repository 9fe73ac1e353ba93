package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type stubEmailGate struct {
	blocked map[string]time.Time
}

func (g *stubEmailGate) IsEmailBlocked(_ context.Context, email string) (bool, error) {
	_, ok := g.blocked[email]
	return ok, nil
}

func (g *stubEmailGate) BlockEmail(_ context.Context, email string, birthdate time.Time) (bool, error) {
	if _, ok := g.blocked[email]; ok {
		return true, nil
	}
	g.blocked[email] = birthdate
	return false, nil
}

type stubProfileRegistrar struct {
	registered []RegisteredAccount
	err        error
}

func (r *stubProfileRegistrar) RegisterProfile(_ context.Context, account RegisteredAccount) error {
	if r.err != nil {
		return r.err
	}
	r.registered = append(r.registered, account)
	return nil
}

func newCredentialFixture(t *testing.T, now time.Time) (*CredentialService, *gorm.DB, *stubEmailGate, *stubProfileRegistrar) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate accounts: %v", err)
	}
	gate := &stubEmailGate{blocked: map[string]time.Time{}}
	registrar := &stubProfileRegistrar{}
	service, err := NewCredentialService(CredentialServiceConfig{
		Database:   db,
		EmailGate:  gate,
		Profiles:   registrar,
		Clock:      func() time.Time { return now },
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct credential service: %v", err)
	}
	return service, db, gate, registrar
}

func TestSignUpThenSignIn(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	service, _, _, registrar := newCredentialFixture(t, now)

	account, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "  Worker@Example.com ",
		Password:    "correct-horse",
		DisplayName: "Worker One",
		Username:    "worker1",
		AccountType: "worker",
		Birthdate:   time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	if account.Email != "worker@example.com" {
		t.Fatalf("expected normalized email, got %q", account.Email)
	}
	if len(registrar.registered) != 1 || registrar.registered[0].UserID != account.ID {
		t.Fatalf("expected profile registration for %s, got %+v", account.ID, registrar.registered)
	}

	signedIn, err := service.SignIn(context.Background(), "worker@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if signedIn.ID != account.ID {
		t.Fatalf("expected same account, got %s", signedIn.ID)
	}

	_, err = service.SignIn(context.Background(), "worker@example.com", "wrong-password")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
}

func TestSignUpBlocksUnderageEmail(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	service, _, gate, registrar := newCredentialFixture(t, now)

	birthdate := time.Date(2010, 6, 15, 0, 0, 0, 0, time.UTC)
	_, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "teen@example.com",
		Password:    "password123",
		DisplayName: "Teen",
		Username:    "teen",
		Birthdate:   birthdate,
	})
	if !errors.Is(err, apperr.ErrForbidden) || apperr.CodeOf(err) != "auth.sign_up.underage" {
		t.Fatalf("expected underage rejection, got %v", err)
	}
	if _, ok := gate.blocked["teen@example.com"]; !ok {
		t.Fatalf("expected underage email to be blocked")
	}
	if len(registrar.registered) != 0 {
		t.Fatalf("did not expect a profile for an underage sign up")
	}

	_, err = service.SignUp(context.Background(), SignUpRequest{
		Email:       "teen@example.com",
		Password:    "password123",
		DisplayName: "Teen",
		Username:    "teen",
		Birthdate:   time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if apperr.CodeOf(err) != "auth.sign_up.email_blocked" {
		t.Fatalf("expected blocked email rejection, got %v", err)
	}
}

func TestSignUpRejectsDuplicateEmailAndRollsBackOnProfileFailure(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	service, db, _, registrar := newCredentialFixture(t, now)
	request := SignUpRequest{
		Email:       "boss@example.com",
		Password:    "password123",
		DisplayName: "Boss",
		Username:    "boss",
		AccountType: AccountTypeEmployer,
		Birthdate:   time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := service.SignUp(context.Background(), request); err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	if _, err := service.SignUp(context.Background(), request); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	registrar.err = apperr.New("users.register_profile", "username_taken", apperr.KindConflict, nil)
	request.Email = "other@example.com"
	if _, err := service.SignUp(context.Background(), request); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected registrar conflict, got %v", err)
	}
	var count int64
	if err := db.Model(&Account{}).Where("email = ?", "other@example.com").Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected account rollback after profile failure")
	}
}

func TestIsAdultBoundary(t *testing.T) {
	birthdate := time.Date(2008, 10, 16, 0, 0, 0, 0, time.UTC)
	if IsAdult(birthdate, time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected not adult the day before the eighteenth birthday")
	}
	if !IsAdult(birthdate, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected adult on the eighteenth birthday")
	}
}
