// files.go — CRUD файлов владельца, ссылки и отдача содержимого.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/service"
)

// multipartMemory — часть multipart-формы, хранимая в памяти; остальное — во временных файлах.
const multipartMemory = 8 << 20

// userResponse — владелец в представлении файла.
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// fileResponse — JSON-представление FileRecord.
type fileResponse struct {
	ID             string       `json:"id"`
	User           userResponse `json:"user"`
	OriginalFile   string       `json:"original_file"`
	CompressedFile *string      `json:"compressed_file"`
	OriginalName   string       `json:"original_name"`
	DisplayName    string       `json:"display_name"`
	FileSize       int64        `json:"file_size"`
	FileSizeMB     float64      `json:"file_size_mb"`
	Status         string       `json:"status"`
	UploadedAt     time.Time    `json:"uploaded_at"`
	ProcessedAt    *time.Time   `json:"processed_at"`
	Error          *string      `json:"error,omitempty"`
}

func newFileResponse(rec *model.FileRecord, owner *model.User) fileResponse {
	original, compressed := service.ContentLinks(rec)
	return fileResponse{
		ID: rec.ID,
		User: userResponse{
			ID:       owner.ID,
			Username: owner.Username,
			Email:    owner.Email,
		},
		OriginalFile:   original,
		CompressedFile: compressed,
		OriginalName:   rec.OriginalName,
		DisplayName:    rec.DisplayName,
		FileSize:       rec.SizeBytes,
		FileSizeMB:     rec.SizeMB(),
		Status:         string(rec.Status),
		UploadedAt:     rec.UploadedAt,
		ProcessedAt:    rec.ProcessedAt,
		Error:          rec.LastError,
	}
}

// ListFiles — GET /api/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	records, err := h.files.List(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]fileResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, newFileResponse(rec, user))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadFile — POST /api/files (multipart: original_file, display_name).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	// Запас на поля формы и границы multipart
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+maxJSONBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeFileTooLarge,
				"Размер файла превышает максимум "+strconv.FormatInt(h.maxUploadSize, 10)+" байт")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("original_file")
	if err != nil {
		apierrors.ValidationError(w, "original_file: обязательное поле")
		return
	}
	defer file.Close()

	rec, err := h.files.Upload(r.Context(), user.ID, service.UploadParams{
		Reader:      file,
		Filename:    header.Filename,
		DisplayName: r.FormValue("display_name"),
		Size:        header.Size,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFileResponse(rec, user))
}

// GetFile — GET /api/files/{file_id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	rec, err := h.files.Get(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(rec, user))
}

// updateFileRequest — тело PATCH/PUT. Остальные поля записи только для чтения.
type updateFileRequest struct {
	DisplayName *string `json:"display_name"`
}

// UpdateFile — PATCH/PUT /api/files/{file_id}: меняет только display_name.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	var req updateFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		rec *model.FileRecord
		err error
	)
	if req.DisplayName == nil {
		rec, err = h.files.Get(r.Context(), id, user.ID)
	} else {
		rec, err = h.files.Rename(r.Context(), id, user.ID, *req.DisplayName)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(rec, user))
}

// downloadLinkResponse — ответ эндпоинтов ссылок.
type downloadLinkResponse struct {
	DownloadURL string `json:"download_url"`
}

// DownloadOriginalLink — GET /api/files/{file_id}/download_original.
func (h *APIHandler) DownloadOriginalLink(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	link, err := h.files.OriginalLink(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadLinkResponse{DownloadURL: link.URL})
}

// DownloadCompressedLink — GET /api/files/{file_id}/download_compressed.
// Нет архива — 404 {"error": "No compressed file available"}.
func (h *APIHandler) DownloadCompressedLink(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	link, err := h.files.CompressedLink(r.Context(), id, user.ID)
	if err != nil {
		if errors.Is(err, service.ErrNoCompressedFile) {
			apierrors.WriteFlatError(w, http.StatusNotFound, "No compressed file available")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadLinkResponse{DownloadURL: link.URL})
}

// OriginalContent — GET /api/files/{file_id}/original: тело оригинала.
func (h *APIHandler) OriginalContent(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	content, err := h.files.OpenOriginal(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.serveContent(w, content, "application/octet-stream", content.Record.SizeBytes)
}

// DownloadCompressed — GET /download/{file_id}: ZIP-архив как {display_name}.zip.
// Файл не completed — 400.
func (h *APIHandler) DownloadCompressed(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bindFileID(w, r)
	if !ok {
		return
	}
	content, err := h.files.OpenCompressed(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.serveContent(w, content, "application/zip", -1)
}

// serveContent потоково отдаёт тело файла как вложение. size < 0 — длина неизвестна.
func (h *APIHandler) serveContent(w http.ResponseWriter, content *service.Content, contentType string, size int64) {
	defer content.Body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": content.Filename,
	}))
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content.Body); err != nil {
		// Заголовки уже отправлены, остаётся только залогировать
		h.logger.Warn("Ошибка отдачи файла",
			slog.String("file_id", content.Record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// statsResponse — ответ /stats.
type statsResponse struct {
	TotalFiles    int                   `json:"total_files"`
	TotalSizeMB   float64               `json:"total_size_mb"`
	FilesByStatus map[string]int        `json:"files_by_status"`
	PendingFiles  []pendingFileResponse `json:"pending_files"`
}

type pendingFileResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
	SizeMB     float64   `json:"size_mb"`
}

// Stats — GET /stats: статистика файлов текущего пользователя.
func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	stats, err := h.files.Stats(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := statsResponse{
		TotalFiles:    stats.TotalFiles,
		TotalSizeMB:   stats.TotalSizeMB,
		FilesByStatus: make(map[string]int, len(stats.FilesByStatus)),
		PendingFiles:  make([]pendingFileResponse, 0, len(stats.PendingFiles)),
	}
	for st, n := range stats.FilesByStatus {
		resp.FilesByStatus[string(st)] = n
	}
	for _, p := range stats.PendingFiles {
		resp.PendingFiles = append(resp.PendingFiles, pendingFileResponse{
			ID:         p.ID,
			Name:       p.Name,
			UploadedAt: p.UploadedAt,
			SizeMB:     p.SizeMB,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
