// handler.go — основной обработчик API InstaShare.
// Объединяет health, auth, files и обработку; маршруты регистрируются в Register.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/api/middleware"
	"github.com/miguelitojb9/InstaShare/internal/api/openapi"
	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/service"
)

// maxJSONBody — ограничение тела JSON-запросов.
const maxJSONBody = 1 << 20

// JWKSProvider отдаёт публичные ключи проверки токенов.
type JWKSProvider interface {
	JWKS(ctx context.Context) (json.RawMessage, error)
}

// Deps — зависимости APIHandler.
type Deps struct {
	Files   *service.FileService
	Auth    *service.AuthService
	Trigger service.BatchTrigger
	Keys    JWKSProvider
	Docs    *openapi.Document
	Health  *HealthHandler
	// AuthRateLimit — middleware для /api/auth (nil — без ограничения)
	AuthRateLimit func(http.Handler) http.Handler
	// MaxUploadSize — лимит тела multipart-загрузки
	MaxUploadSize int64
}

// APIHandler — обработчик HTTP API InstaShare.
type APIHandler struct {
	files         *service.FileService
	auth          *service.AuthService
	trigger       service.BatchTrigger
	keys          JWKSProvider
	docs          *openapi.Document
	health        *HealthHandler
	authRateLimit func(http.Handler) http.Handler
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		files:         deps.Files,
		auth:          deps.Auth,
		trigger:       deps.Trigger,
		keys:          deps.Keys,
		docs:          deps.Docs,
		health:        deps.Health,
		authRateLimit: deps.AuthRateLimit,
		maxUploadSize: deps.MaxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// PublicPrefixes — пути, доступные без access токена.
var PublicPrefixes = []string{"/api/auth/", "/api/docs/", "/health/", "/metrics"}

// Register регистрирует все маршруты API.
func (h *APIHandler) Register(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
	r.Get("/api/docs/openapi.json", h.OpenAPIDocument)

	r.Route("/api/auth", func(r chi.Router) {
		if h.authRateLimit != nil {
			r.Use(h.authRateLimit)
		}
		r.Post("/register", h.RegisterUser)
		r.Post("/token", h.ObtainToken)
		r.Post("/token/refresh", h.RefreshToken)
		r.Post("/token/verify", h.VerifyToken)
		r.Post("/verify", h.VerifyToken)
		r.Get("/jwks.json", h.JWKS)
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.UploadFile)
		r.Route("/{file_id}", func(r chi.Router) {
			r.Get("/", h.GetFile)
			r.Patch("/", h.UpdateFile)
			r.Put("/", h.UpdateFile)
			r.Post("/process_file", h.ProcessFile)
			r.Post("/retry", h.RetryFile)
			r.Get("/download_original", h.DownloadOriginalLink)
			r.Get("/download_compressed", h.DownloadCompressedLink)
			r.Get("/original", h.OriginalContent)
		})
	})

	r.Post("/process-files", h.ProcessFiles)
	r.Get("/stats", h.Stats)
	r.Get("/download/{file_id}", h.DownloadCompressed)
}

// OpenAPIDocument — описание API в формате JSON.
func (h *APIHandler) OpenAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.docs.JSON())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 без деталей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr, ok := service.AsError(err); ok {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	h.logger.Error("Внутренняя ошибка",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, "Внутренняя ошибка сервера")
}

// decodeJSON читает тело запроса в dst. Ошибка уже записана в ответ при false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeValidationError, "Тело запроса слишком большое")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	return true
}

// bindFileID разбирает {file_id} как UUID. Некорректный идентификатор
// неотличим от несуществующего — 404.
func bindFileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "file_id", chi.URLParam(r, "file_id"), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		apierrors.NotFound(w, "Файл не найден")
		return "", false
	}
	return id.String(), true
}

// currentUser возвращает аутентифицированного пользователя.
func (h *APIHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	u, err := h.files.Owner(r.Context(), subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, false
	}
	return u, true
}
