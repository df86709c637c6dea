package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOfflineStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Options{
		Bucket:       "instashare",
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "test-access",
		SecretKey:    "test-secret",
		UsePathStyle: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	return s
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Options{Region: "us-east-1"}, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка без bucket")
	}
}

// TestPresignURL проверяет формирование ссылки без обращения к сети.
func TestPresignURL(t *testing.T) {
	s := newOfflineStore(t)

	raw, err := s.PresignURL(context.Background(), "uploads/compressed/abc/compressed_a.txt.zip", 10*time.Minute)
	if err != nil {
		t.Fatalf("ошибка presign: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("некорректный URL %q: %v", raw, err)
	}
	if u.Host != "localhost:9000" {
		t.Errorf("host = %q, хотели localhost:9000", u.Host)
	}
	if u.Path != "/instashare/uploads/compressed/abc/compressed_a.txt.zip" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "600" {
		t.Errorf("X-Amz-Expires = %q, хотели 600", got)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Error("ссылка должна быть подписана")
	}
}

func TestInvalidKey(t *testing.T) {
	s := newOfflineStore(t)
	ctx := context.Background()

	if _, err := s.PresignURL(ctx, "../x", time.Minute); !errors.Is(err, blob.ErrInvalidKey) {
		t.Errorf("PresignURL: ожидался ErrInvalidKey, получено %v", err)
	}
	if _, err := s.Put(ctx, "/abs", strings.NewReader("x")); !errors.Is(err, blob.ErrInvalidKey) {
		t.Errorf("Put: ожидался ErrInvalidKey, получено %v", err)
	}
	if _, err := s.Open(ctx, ""); !errors.Is(err, blob.ErrInvalidKey) {
		t.Errorf("Open: ожидался ErrInvalidKey, получено %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", &types.NoSuchKey{}, true},
		{"NotFound", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"generic 404", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("сеть недоступна"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

// setupMinIO запускает MinIO в Docker-контейнере и создаёт bucket.
func setupMinIO(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить MinIO контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "http")
	if err != nil {
		t.Fatalf("Не удалось получить endpoint контейнера: %v", err)
	}

	s, err := New(ctx, Options{
		Bucket:       "instashare-test",
		Region:       "us-east-1",
		Endpoint:     endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	if _, err := s.Client().CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("instashare-test")}); err != nil {
		t.Fatalf("ошибка создания bucket: %v", err)
	}
	return s
}

func TestStore_Integration(t *testing.T) {
	s := setupMinIO(t)
	ctx := context.Background()
	key := "uploads/original/abc/report.txt"

	if err := s.Check(ctx); err != nil {
		t.Fatalf("Check() = %v", err)
	}

	res, err := s.Put(ctx, key, strings.NewReader("hello minio"))
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if res.Size != int64(len("hello minio")) {
		t.Errorf("размер = %d", res.Size)
	}
	if len(res.Checksum) != 64 {
		t.Errorf("checksum = %q", res.Checksum)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello minio" {
		t.Errorf("содержимое = %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("объект должен быть удалён")
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
}
