package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Типы токенов (claim token_type).
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// ErrWrongTokenType — токен валиден, но другого типа (refresh вместо access и наоборот).
var ErrWrongTokenType = errors.New("неверный тип токена")

// Claims — JWT claims InstaShare. sub — id пользователя.
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	TokenType string `json:"token_type"`
}

// TokenPair — пара токенов, выдаваемая при входе.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// IssuerConfig — параметры выпуска токенов.
type IssuerConfig struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Issuer подписывает и проверяет токены.
type Issuer struct {
	keys *KeySet
	cfg  IssuerConfig
	now  func() time.Time
}

// NewIssuer создаёт Issuer.
func NewIssuer(keys *KeySet, cfg IssuerConfig) *Issuer {
	return &Issuer{keys: keys, cfg: cfg, now: time.Now}
}

// Keys возвращает набор ключей.
func (i *Issuer) Keys() *KeySet {
	return i.keys
}

// IssuePair выпускает access и refresh токены пользователя.
func (i *Issuer) IssuePair(userID, username string) (*TokenPair, error) {
	access, err := i.sign(userID, username, TokenAccess, i.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(userID, username, TokenRefresh, i.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// IssueAccess выпускает только access токен (обновление по refresh).
func (i *Issuer) IssueAccess(userID, username string) (string, error) {
	return i.sign(userID, username, TokenAccess, i.cfg.AccessTTL)
}

func (i *Issuer) sign(userID, username, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:  username,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.keys.KeyID()

	signed, err := token.SignedString(i.keys.private)
	if err != nil {
		return "", fmt.Errorf("подпись JWT: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись, срок действия, issuer и тип токена.
// Пустой wantType — тип не проверяется.
func (i *Issuer) Parse(ctx context.Context, tokenString, wantType string) (*Claims, error) {
	return ParseToken(ctx, i.keys.Keyfunc(), tokenString, wantType, i.cfg.Issuer, i.cfg.Leeway)
}

// ParseToken — проверка токена по произвольной keyfunc.
// Используется и Issuer, и JWT middleware.
func ParseToken(ctx context.Context, kf keyfunc.Keyfunc, tokenString, wantType, issuer string, leeway time.Duration) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, kf.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("невалидный токен")
	}
	if claims.Subject == "" {
		return nil, errors.New("отсутствует sub в токене")
	}
	if wantType != "" && claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: ожидался %s, получен %q", ErrWrongTokenType, wantType, claims.TokenType)
	}
	return claims, nil
}
