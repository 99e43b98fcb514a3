package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

const testSecret = "test-secret-key-with-at-least-32-chars"

func newTestAuth(t *testing.T, users map[string]domain.UserAccount) (*AuthManager, *userStoreStub) {
	t.Helper()
	stub := &userStoreStub{users: users}
	manager, err := NewAuthManager(context.Background(), testSecret, time.Hour, stub)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	return manager, stub
}

func TestAuthManagerRequiresSecret(t *testing.T) {
	if _, err := NewAuthManager(context.Background(), "   ", time.Hour, nil); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	manager, stub := newTestAuth(t, map[string]domain.UserAccount{
		"admin": {
			Username:  "admin",
			Password:  "admin123",
			Role:      domain.RoleAdmin,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	})

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	users, err := stub.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if stub.updates == 0 {
		t.Fatalf("expected upgraded hash to be written back")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("staff123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	manager, _ := newTestAuth(t, map[string]domain.UserAccount{
		"nopparat": {Username: "nopparat", Password: hash, Role: domain.RoleStaff, Active: false},
	})

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "nopparat", Password: "staff123"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "nopparat", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	manager, stub := newTestAuth(t, nil)

	user, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{
		Username: "  Pumper01 ",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if user.Username != "pumper01" || user.Role != domain.RoleStaff {
		t.Fatalf("unexpected user %+v", user)
	}

	saved, ok := stub.users["pumper01"]
	if !ok {
		t.Fatalf("expected staff to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "pumper01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with new staff failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "pumper01" || actor.Role != domain.RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}

	staff, err := manager.ListStaff(context.Background())
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(staff) != 1 || staff[0].Username != "pumper01" {
		t.Fatalf("unexpected staff list %+v", staff)
	}
}

func TestCreateStaffRejectsBadInput(t *testing.T) {
	manager, _ := newTestAuth(t, nil)

	cases := []domain.StaffCreateRequest{
		{Username: "abc", Password: "pass1234"},
		{Username: "two words", Password: "pass1234"},
		{Username: "pumper02", Password: "12345"},
	}
	for _, req := range cases {
		if _, err := manager.CreateStaff(context.Background(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}

	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "pumper02", Password: "pass1234"}); err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "PUMPER02", Password: "pass1234"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate username conflict, got %v", err)
	}
}

func TestEnsureAdminCreatesOnlyOnce(t *testing.T) {
	manager, stub := newTestAuth(t, nil)

	created, err := manager.EnsureAdmin(context.Background(), "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got created=%v err=%v", created, err)
	}
	if stub.users["admin"].Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", stub.users["admin"].Role)
	}

	created, err = manager.EnsureAdmin(context.Background(), "another-pass")
	if err != nil || created {
		t.Fatalf("expected existing admin to be kept, got created=%v err=%v", created, err)
	}
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	manager, _ := newTestAuth(t, nil)

	sign := func(secret string, issuer string, role string) string {
		claims := stationClaims{
			RegisteredClaims: jwtlib.RegisteredClaims{
				Subject:   "somchai",
				Issuer:    issuer,
				ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Role: role,
		}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}

	if _, err := manager.ParseToken(sign(testSecret, tokenIssuer, domain.RoleStaff)); err != nil {
		t.Fatalf("expected own token to parse, got %v", err)
	}
	if _, err := manager.ParseToken(sign("some-other-secret-of-enough-length!!", tokenIssuer, domain.RoleStaff)); err == nil {
		t.Fatalf("expected token with wrong secret to fail")
	}
	if _, err := manager.ParseToken(sign(testSecret, "elsewhere", domain.RoleStaff)); err == nil {
		t.Fatalf("expected token from another issuer to fail")
	}
	if _, err := manager.ParseToken(sign(testSecret, tokenIssuer, "cashier")); err == nil {
		t.Fatalf("expected unknown role to fail")
	}

	expired := stationClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "somchai",
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: domain.RoleStaff,
	}
	token, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, expired).SignedString([]byte(testSecret))
	if _, err := manager.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
