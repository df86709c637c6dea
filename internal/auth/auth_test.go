package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testKeyID = "test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := NewKeySet(key, testKeyID)
	if err != nil {
		t.Fatalf("ошибка создания KeySet: %v", err)
	}
	return NewIssuer(keys, IssuerConfig{
		Issuer:     "instashare",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
		Leeway:     5 * time.Second,
	})
}

func TestIssueAndParse(t *testing.T) {
	iss := newTestIssuer(t)
	ctx := context.Background()

	pair, err := iss.IssuePair("user-1", "alice")
	if err != nil {
		t.Fatalf("ошибка выпуска токенов: %v", err)
	}

	claims, err := iss.Parse(ctx, pair.Access, TokenAccess)
	if err != nil {
		t.Fatalf("access токен не прошёл проверку: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "instashare" {
		t.Errorf("issuer = %q", claims.Issuer)
	}

	if _, err := iss.Parse(ctx, pair.Refresh, TokenRefresh); err != nil {
		t.Errorf("refresh токен не прошёл проверку: %v", err)
	}
	// Без проверки типа подходит любой
	if _, err := iss.Parse(ctx, pair.Refresh, ""); err != nil {
		t.Errorf("Parse без типа: %v", err)
	}
}

func TestParse_WrongType(t *testing.T) {
	iss := newTestIssuer(t)

	pair, err := iss.IssuePair("user-1", "alice")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := iss.Parse(context.Background(), pair.Refresh, TokenAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("ожидался ErrWrongTokenType, получено %v", err)
	}
	if _, err := iss.Parse(context.Background(), pair.Access, TokenRefresh); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("ожидался ErrWrongTokenType, получено %v", err)
	}
}

func TestParse_Expired(t *testing.T) {
	iss := newTestIssuer(t)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := iss.IssueAccess("user-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Parse(context.Background(), token, TokenAccess); err == nil {
		t.Error("просроченный токен должен быть отклонён")
	}
}

func TestParse_ForeignKeyAndIssuer(t *testing.T) {
	iss := newTestIssuer(t)
	other := newTestIssuer(t)
	ctx := context.Background()

	// Тот же kid, но другой ключ
	token, err := other.IssueAccess("user-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Parse(ctx, token, TokenAccess); err == nil {
		t.Error("токен, подписанный чужим ключом, должен быть отклонён")
	}

	foreign := NewIssuer(iss.Keys(), IssuerConfig{Issuer: "someone-else", AccessTTL: time.Minute})
	token, err = foreign.IssueAccess("user-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Parse(ctx, token, TokenAccess); err == nil {
		t.Error("токен с чужим issuer должен быть отклонён")
	}

	if _, err := iss.Parse(ctx, "not-a-jwt", TokenAccess); err == nil {
		t.Error("мусор вместо токена должен быть отклонён")
	}
}

func TestJWKS_PublicOnly(t *testing.T) {
	iss := newTestIssuer(t)

	raw, err := iss.Keys().JWKS(context.Background())
	if err != nil {
		t.Fatalf("ошибка получения JWKS: %v", err)
	}

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("ожидался 1 ключ, получено %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k["kid"] != testKeyID || k["alg"] != "RS256" || k["kty"] != "RSA" {
		t.Errorf("ключ = %v", k)
	}
	if _, ok := k["d"]; ok {
		t.Error("JWKS не должен содержать приватную часть ключа")
	}
}

func TestParsePrivateKeyPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if got, err := ParsePrivateKeyPEM(pkcs1); err != nil || !got.Equal(key) {
		t.Errorf("PKCS#1: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if got, err := ParsePrivateKeyPEM(pkcs8); err != nil || !got.Equal(key) {
		t.Errorf("PKCS#8: %v", err)
	}

	if _, err := ParsePrivateKeyPEM([]byte("garbage")); err == nil {
		t.Error("ожидалась ошибка для мусора")
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})
	if _, err := ParsePrivateKeyPEM(cert); err == nil {
		t.Error("ожидалась ошибка для неподдерживаемого типа блока")
	}
}

func TestLoadOrGenerate(t *testing.T) {
	logger := testLogger()

	generated, err := LoadOrGenerate("", "gen", logger)
	if err != nil {
		t.Fatalf("генерация: %v", err)
	}
	if generated.KeyID() != "gen" {
		t.Errorf("kid = %q", generated.KeyID())
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadOrGenerate(path, "file", logger)
	if err != nil {
		t.Fatalf("загрузка: %v", err)
	}
	if !loaded.private.Equal(key) {
		t.Error("загружен не тот ключ")
	}

	if _, err := LoadOrGenerate(filepath.Join(t.TempDir(), "missing.pem"), "x", logger); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}
}
