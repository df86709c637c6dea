// Пакет auth — RSA ключи, JWKS и выпуск JWT (RS256).
// Приложение само является issuer: подписывает токены приватным ключом
// и публикует публичный ключ в формате JWKS.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
)

// generatedKeySize — размер RSA ключа, генерируемого при старте без IS_JWT_PRIVATE_KEY_PATH.
const generatedKeySize = 2048

// KeySet — приватный ключ подписи и JWKS с его публичной частью.
type KeySet struct {
	kid     string
	private *rsa.PrivateKey
	storage jwkset.Storage
	kf      keyfunc.Keyfunc
}

// LoadOrGenerate загружает RSA ключ из PEM файла (PKCS#1 или PKCS#8).
// Пустой путь — генерация эфемерного ключа: токены не переживут перезапуск.
func LoadOrGenerate(path, kid string, logger *slog.Logger) (*KeySet, error) {
	if path == "" {
		logger.Warn("IS_JWT_PRIVATE_KEY_PATH не задан, генерируется эфемерный RSA ключ",
			slog.Int("key_size", generatedKeySize),
		)
		key, err := rsa.GenerateKey(rand.Reader, generatedKeySize)
		if err != nil {
			return nil, fmt.Errorf("генерация RSA ключа: %w", err)
		}
		return NewKeySet(key, kid)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение приватного ключа %s: %w", path, err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("разбор приватного ключа %s: %w", path, err)
	}
	logger.Info("RSA ключ загружен", slog.String("path", path), slog.String("kid", kid))
	return NewKeySet(key, kid)
}

// ParsePrivateKeyPEM разбирает RSA ключ в PEM (PKCS#1 или PKCS#8).
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("PEM блок не найден")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("ожидался RSA ключ, получен %T", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип PEM блока %q", block.Type)
	}
}

// NewKeySet регистрирует публичную часть ключа в in-memory JWKS
// и строит keyfunc для проверки подписи.
func NewKeySet(key *rsa.PrivateKey, kid string) (*KeySet, error) {
	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: kid,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWK: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(context.Background(), jwk); err != nil {
		return nil, fmt.Errorf("запись JWK в хранилище: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &KeySet{kid: kid, private: key, storage: storage, kf: kf}, nil
}

// KeyID — идентификатор ключа (kid в заголовке JWT).
func (k *KeySet) KeyID() string {
	return k.kid
}

// Keyfunc — функция выбора ключа для jwt.Parse.
func (k *KeySet) Keyfunc() keyfunc.Keyfunc {
	return k.kf
}

// JWKS возвращает публичный JWK Set в JSON.
func (k *KeySet) JWKS(ctx context.Context) (json.RawMessage, error) {
	return k.storage.JSONPublic(ctx)
}
