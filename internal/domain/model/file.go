// Пакет model — доменные модели InstaShare.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FileStatus — статус обработки загруженного файла.
type FileStatus string

const (
	// StatusPending — файл загружен и ждёт сжатия.
	StatusPending FileStatus = "pending"
	// StatusProcessing — файл захвачен обработчиком.
	StatusProcessing FileStatus = "processing"
	// StatusCompleted — ZIP-архив создан.
	StatusCompleted FileStatus = "completed"
	// StatusFailed — сжатие завершилось ошибкой.
	StatusFailed FileStatus = "failed"
)

// AllStatuses — все статусы в порядке жизненного цикла.
var AllStatuses = []FileStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Valid проверяет, что статус входит в допустимый набор.
func (s FileStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// bytesPerMB — делитель для перевода байт в мегабайты.
const bytesPerMB = 1024 * 1024

// FileRecord — запись о загруженном файле (таблица uploaded_files).
type FileRecord struct {
	ID      string
	OwnerID string
	// OriginalRef — ключ оригинала в хранилище
	OriginalRef string
	// CompressedRef — ключ ZIP-архива; nil, пока статус не completed
	CompressedRef *string
	OriginalName  string
	DisplayName   string
	// SizeBytes — размер оригинала (не архива)
	SizeBytes int64
	// Checksum — SHA-256 оригинала
	Checksum string
	Status   FileStatus
	// LastError — сообщение последней неудачной обработки
	LastError   *string
	UploadedAt  time.Time
	ProcessedAt *time.Time
}

// EnsureDisplayName подставляет OriginalName, если DisplayName пуст.
// Вызывается перед каждым сохранением.
func (f *FileRecord) EnsureDisplayName() {
	f.DisplayName = strings.TrimSpace(f.DisplayName)
	if f.DisplayName == "" {
		f.DisplayName = f.OriginalName
	}
}

// SizeMB возвращает размер оригинала в мегабайтах, округлённый до 2 знаков.
func (f *FileRecord) SizeMB() float64 {
	return SizeToMB(f.SizeBytes)
}

// IsReady сообщает, можно ли скачать архив.
func (f *FileRecord) IsReady() bool {
	return f.Status == StatusCompleted && f.CompressedRef != nil
}

// String — "{display_name} ({status})".
func (f *FileRecord) String() string {
	return fmt.Sprintf("%s (%s)", f.DisplayName, f.Status)
}

// SizeToMB переводит байты в мегабайты с округлением до 2 знаков.
// Для нуля и отрицательных значений возвращает 0.
func SizeToMB(size int64) float64 {
	if size <= 0 {
		return 0
	}
	return RoundMB(float64(size) / bytesPerMB)
}

// RoundMB округляет значение в мегабайтах до 2 знаков.
func RoundMB(mb float64) float64 {
	return math.Round(mb*100) / 100
}

// PendingFile — краткая запись ожидающего файла для статистики.
type PendingFile struct {
	ID         string
	Name       string
	UploadedAt time.Time
	SizeMB     float64
}

// FileStats — сводка по файлам владельца.
type FileStats struct {
	TotalFiles    int
	TotalSizeMB   float64
	FilesByStatus map[FileStatus]int
	PendingFiles  []PendingFile
}

// BuildFileStats собирает статистику по списку записей одного владельца.
// TotalSizeMB — сумма округлённых размеров, затем округление суммы.
func BuildFileStats(files []*FileRecord) *FileStats {
	stats := &FileStats{
		TotalFiles:    len(files),
		FilesByStatus: make(map[FileStatus]int, len(AllStatuses)),
		PendingFiles:  []PendingFile{},
	}
	for _, st := range AllStatuses {
		stats.FilesByStatus[st] = 0
	}

	var total float64
	for _, f := range files {
		total += f.SizeMB()
		stats.FilesByStatus[f.Status]++
		if f.Status == StatusPending {
			stats.PendingFiles = append(stats.PendingFiles, PendingFile{
				ID:         f.ID,
				Name:       f.DisplayName,
				UploadedAt: f.UploadedAt,
				SizeMB:     f.SizeMB(),
			})
		}
	}
	stats.TotalSizeMB = RoundMB(total)
	return stats
}
