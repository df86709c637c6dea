// auth.go — регистрация пользователей и выпуск токенов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/auth"
	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository"
)

const (
	minPasswordLength = 8
	// bcrypt обрабатывает не более 72 байт пароля
	maxPasswordBytes = 72
)

// usernamePattern — буквы, цифры и @.+-_, от 1 до 150 символов.
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]{1,150}$`)

// RegisterParams — данные регистрации.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// AuthService — пользователи и токены.
type AuthService struct {
	users      repository.UserRepository
	issuer     *auth.Issuer
	bcryptCost int
	logger     *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(users repository.UserRepository, issuer *auth.Issuer, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:      users,
		issuer:     issuer,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger.With(slog.String("component", "auth_service")),
	}
}

// Register создаёт пользователя. Занятое имя — 409.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*model.User, error) {
	username := strings.TrimSpace(params.Username)
	email := strings.TrimSpace(params.Email)

	if !usernamePattern.MatchString(username) {
		return nil, errValidation("username: от 1 до 150 символов, допустимы буквы, цифры и @.+-_")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errValidation("email: некорректный адрес")
		}
	}
	if len([]rune(params.Password)) < minPasswordLength {
		return nil, errValidation(fmt.Sprintf("password: не менее %d символов", minPasswordLength))
	}
	if len(params.Password) > maxPasswordBytes {
		return nil, errValidation(fmt.Sprintf("password: не более %d байт", maxPasswordBytes))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.bcryptCost)
	if err != nil {
		return nil, errInternal("Ошибка обработки пароля")
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, newError(http.StatusConflict, apierrors.CodeConflict, "Пользователь с таким именем уже существует")
		}
		return nil, err
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return u, nil
}

// Login проверяет пароль и выпускает пару токенов.
func (s *AuthService) Login(ctx context.Context, username, password string) (*auth.TokenPair, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errBadCredentials()
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("Неверный пароль", slog.String("username", u.Username))
		return nil, errBadCredentials()
	}

	pair, err := s.issuer.IssuePair(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func errBadCredentials() *Error {
	return newError(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Неверное имя пользователя или пароль")
}

// Refresh выпускает новый access токен по refresh токену.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.issuer.Parse(ctx, refreshToken, auth.TokenRefresh)
	if err != nil {
		return "", newError(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Невалидный или просроченный refresh токен")
	}

	// Удалённый пользователь не получает новых токенов
	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", newError(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Пользователь не найден")
		}
		return "", err
	}
	return s.issuer.IssueAccess(u.ID, u.Username)
}

// Verify проверяет подпись и срок действия токена любого типа.
func (s *AuthService) Verify(ctx context.Context, token string) error {
	if _, err := s.issuer.Parse(ctx, token, ""); err != nil {
		return newError(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Невалидный или просроченный токен")
	}
	return nil
}
