// process.go — запуск сжатия из HTTP: пакетный (/process-files) и одного файла.
// Тела ответов этих эндпоинтов фиксированы контрактом и не используют
// стандартный формат ошибок.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/service"
)

// batchResponse — успешный ответ /process-files.
type batchResponse struct {
	Success bool                 `json:"success"`
	Status  string               `json:"status"`
	Summary *service.BatchReport `json:"summary"`
	Message string               `json:"message"`
}

// subprocessErrorResponse — ненулевой код process-files с диагностикой.
type subprocessErrorResponse struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ProcessFiles — POST /process-files: пакетное сжатие всех pending файлов.
// После любого исхода кэш статистики сбрасывается: в режиме subprocess
// статусы меняет другой процесс, и часть файлов могла быть обработана
// даже при ошибке или таймауте.
func (h *APIHandler) ProcessFiles(w http.ResponseWriter, r *http.Request) {
	report, err := h.trigger.Trigger(r.Context())
	h.files.PurgeStats()
	if err != nil {
		var subErr *service.SubprocessError
		switch {
		case errors.Is(err, service.ErrTriggerTimeout):
			apierrors.WriteFlatError(w, http.StatusInternalServerError, "timeout")
		case errors.Is(err, service.ErrQueueFull):
			apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeQueueFull, err.Error())
		case errors.As(err, &subErr):
			writeJSON(w, http.StatusInternalServerError, subprocessErrorResponse{
				Error:    subErr.Error(),
				ExitCode: subErr.ExitCode,
				Stdout:   subErr.Stdout,
				Stderr:   subErr.Stderr,
			})
		default:
			h.logger.Error("Ошибка пакетной обработки",
				slog.String("mode", h.trigger.Mode()),
				slog.String("error", err.Error()),
			)
			apierrors.WriteFlatError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{
		Success: true,
		Status:  "completed",
		Summary: report,
		Message: report.Message(),
	})
}

// processFileResponse — ответ обработки одного файла.
type processFileResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	CompressedFileURL string `json:"compressed_file_url,omitempty"`
}

// ProcessFile — POST /api/files/{file_id}/process_file: синхронное сжатие одного файла.
func (h *APIHandler) ProcessFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}

	rec, res, err := h.files.ProcessOne(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if res.Status != service.ResultSuccess {
		writeJSON(w, http.StatusInternalServerError, processFileResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error processing file %s: %s", res.FileName, res.Error),
		})
		return
	}

	link, err := h.files.CompressedLink(r.Context(), rec.ID, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, processFileResponse{
		Status:            "success",
		Message:           fmt.Sprintf("File %s processed successfully", rec.DisplayName),
		CompressedFileURL: link.URL,
	})
}

// RetryFile — POST /api/files/{file_id}/retry: failed → pending.
func (h *APIHandler) RetryFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	rec, err := h.files.Retry(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(rec, user))
}
