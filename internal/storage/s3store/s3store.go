// Пакет s3store — хранение содержимого файлов в S3-совместимом хранилище
// (AWS S3, MinIO). Ключи совпадают с ключами локального бэкенда.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

// Options — параметры подключения к S3.
type Options struct {
	Bucket string
	Region string
	// Endpoint — адрес S3-совместимого сервера (MinIO). Пусто — AWS.
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Store — blob.Store поверх S3.
type Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	logger   *slog.Logger
}

var _ blob.Store = (*Store)(nil)

// New создаёт клиента S3. Статические ключи используются, если заданы;
// иначе — стандартная цепочка credentials AWS (env, shared config, IAM).
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("не задан bucket S3")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	logger.Info("S3 хранилище инициализировано",
		slog.String("bucket", opts.Bucket),
		slog.String("endpoint", opts.Endpoint),
		slog.String("region", opts.Region),
	)

	return &Store{
		bucket:   opts.Bucket,
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		logger:   logger.With(slog.String("component", "s3store")),
	}, nil
}

// Kind — имя бэкенда.
func (s *Store) Kind() string {
	return "s3"
}

// Client возвращает низкоуровневый клиент S3 (создание bucket в тестах и т.п.).
func (s *Store) Client() *s3.Client {
	return s.client
}

// Put загружает поток через manager.Uploader (multipart для больших объектов),
// подсчитывая размер и SHA-256 на лету.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (*blob.PutResult, error) {
	if !blob.ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hasher)}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s: %w", key, err)
	}

	s.logger.Debug("Объект загружен",
		slog.String("key", key),
		slog.Int64("size", counter.n),
	)

	return &blob.PutResult{
		Key:      key,
		Size:     counter.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open возвращает тело объекта.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !blob.ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete удаляет объект. S3 не сообщает об отсутствии объекта.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !blob.ValidKey(key) {
		return fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие объекта через HeadObject.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if !blob.ValidKey(key) {
		return false, fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта %s: %w", key, err)
	}
	return true, nil
}

// PresignURL выдаёт временную ссылку на GET объекта.
func (s *Store) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !blob.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка генерации presigned URL: %w", err)
	}
	return req.URL, nil
}

// Check проверяет доступность bucket.
func (s *Store) Check(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// isNotFound распознаёт ошибки отсутствия объекта: типизированные
// (GetObject) и по коду (HeadObject возвращает 404 без тела).
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// countingReader считает прочитанные байты.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
