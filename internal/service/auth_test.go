package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/miguelitojb9/InstaShare/internal/auth"
	"github.com/miguelitojb9/InstaShare/internal/repository/repotest"
)

func newTestAuthService(t *testing.T) (*AuthService, *repotest.Users) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := auth.NewKeySet(key, "test")
	if err != nil {
		t.Fatal(err)
	}
	issuer := auth.NewIssuer(keys, auth.IssuerConfig{
		Issuer:     "instashare",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	})
	users := repotest.NewUsers()
	svc := NewAuthService(users, issuer, testLogger())
	svc.bcryptCost = bcrypt.MinCost
	return svc, users
}

func TestAuthService_Register(t *testing.T) {
	svc, users := newTestAuthService(t)

	u, err := svc.Register(context.Background(), RegisterParams{
		Username: " alice ",
		Email:    "alice@example.com",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if u.Username != "alice" || u.ID == "" {
		t.Errorf("неожиданный пользователь: %+v", u)
	}

	stored, err := users.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == "s3cret-pass" {
		t.Error("пароль не должен храниться в открытом виде")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret-pass")); err != nil {
		t.Errorf("хэш не соответствует паролю: %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterParams{Username: "alice", Password: "another-pass"})
	assertServiceError(t, err, http.StatusConflict, "CONFLICT")
}

func TestAuthService_Register_Validation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	tests := []struct {
		name   string
		params RegisterParams
	}{
		{"пустое имя", RegisterParams{Username: "", Password: "password1"}},
		{"пробел в имени", RegisterParams{Username: "a b", Password: "password1"}},
		{"длинное имя", RegisterParams{Username: strings.Repeat("a", 151), Password: "password1"}},
		{"некорректный email", RegisterParams{Username: "bob", Email: "not-an-email", Password: "password1"}},
		{"короткий пароль", RegisterParams{Username: "bob", Password: "short"}},
		{"длинный пароль", RegisterParams{Username: "bob", Password: strings.Repeat("p", 73)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.params)
			assertServiceError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}
}

func TestAuthService_Register_UnicodeUsername(t *testing.T) {
	svc, _ := newTestAuthService(t)
	if _, err := svc.Register(context.Background(), RegisterParams{Username: "мария.ivanova+1@x", Password: "password1"}); err != nil {
		t.Errorf("допустимое имя отклонено: %v", err)
	}
}

func TestAuthService_LoginRefreshVerify(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterParams{Username: "bob", Password: "password1"}); err != nil {
		t.Fatal(err)
	}

	pair, err := svc.Login(ctx, "bob", "password1")
	if err != nil {
		t.Fatalf("ошибка входа: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatalf("неполная пара токенов: %+v", pair)
	}

	if err := svc.Verify(ctx, pair.Access); err != nil {
		t.Errorf("access токен не прошёл проверку: %v", err)
	}
	if err := svc.Verify(ctx, pair.Refresh); err != nil {
		t.Errorf("refresh токен не прошёл проверку: %v", err)
	}
	assertServiceError(t, svc.Verify(ctx, "garbage"), http.StatusUnauthorized, "UNAUTHORIZED")

	access, err := svc.Refresh(ctx, pair.Refresh)
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if err := svc.Verify(ctx, access); err != nil {
		t.Errorf("новый access токен не прошёл проверку: %v", err)
	}

	// access токен не подходит для обновления
	_, err = svc.Refresh(ctx, pair.Access)
	assertServiceError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestAuthService_Login_BadCredentials(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterParams{Username: "bob", Password: "password1"}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Login(ctx, "bob", "wrong-password")
	assertServiceError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	_, err = svc.Login(ctx, "nobody", "password1")
	assertServiceError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestAuthService_Refresh_DeletedUser(t *testing.T) {
	svc, users := newTestAuthService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterParams{Username: "bob", Password: "password1"})
	if err != nil {
		t.Fatal(err)
	}
	pair, err := svc.Login(ctx, "bob", "password1")
	if err != nil {
		t.Fatal(err)
	}

	users.DeleteUser(u.ID)
	_, err = svc.Refresh(ctx, pair.Refresh)
	assertServiceError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}
