// Пакет storage выбирает бэкенд хранения содержимого по конфигурации.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miguelitojb9/InstaShare/internal/config"
	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
	"github.com/miguelitojb9/InstaShare/internal/storage/filestore"
	"github.com/miguelitojb9/InstaShare/internal/storage/s3store"
)

// Open создаёт blob.Store согласно IS_STORAGE_BACKEND.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return s3store.New(ctx, s3store.Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, logger)
	case config.StorageLocal, "":
		store, err := filestore.New(cfg.MediaRoot)
		if err != nil {
			return nil, err
		}
		logger.Info("Локальное хранилище инициализировано", slog.String("root", store.Root()))
		return store, nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %s", cfg.StorageBackend)
	}
}
