// Пакет service — бизнес-логика InstaShare.
// errors.go — ошибки сервисного слоя с HTTP-кодом.
package service

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/repository"
)

// Error — ошибка бизнес-логики, пригодная для ответа клиенту.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(statusCode int, code, message string) *Error {
	return &Error{StatusCode: statusCode, Code: code, Message: message}
}

func errValidation(message string) *Error {
	return newError(http.StatusBadRequest, apierrors.CodeValidationError, message)
}

func errNotFound(message string) *Error {
	return newError(http.StatusNotFound, apierrors.CodeNotFound, message)
}

func errInternal(message string) *Error {
	return newError(http.StatusInternalServerError, apierrors.CodeInternalError, message)
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// ErrNoCompressedFile — у записи нет архива.
var ErrNoCompressedFile = errors.New("архив ещё не создан")

// fileLookupError переводит ошибку репозитория в ответ клиенту.
// Чужая запись неотличима от несуществующей.
func fileLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errNotFound("Файл не найден")
	}
	return err
}
