package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// allKeys — все переменные IS_*, влияющие на Load().
var allKeys = []string{
	"IS_PORT", "IS_LOG_LEVEL", "IS_LOG_FORMAT",
	"IS_HTTP_READ_TIMEOUT", "IS_HTTP_WRITE_TIMEOUT", "IS_HTTP_IDLE_TIMEOUT", "IS_SHUTDOWN_TIMEOUT",
	"IS_DB_HOST", "IS_DB_PORT", "IS_DB_NAME", "IS_DB_USER", "IS_DB_PASSWORD", "IS_DB_SSL_MODE",
	"IS_STORAGE_BACKEND", "IS_MEDIA_ROOT", "IS_S3_BUCKET", "IS_S3_REGION", "IS_S3_ENDPOINT",
	"IS_S3_ACCESS_KEY", "IS_S3_SECRET_KEY", "IS_S3_USE_PATH_STYLE", "IS_PRESIGN_TTL", "IS_MAX_UPLOAD_SIZE",
	"IS_JWT_PRIVATE_KEY_PATH", "IS_JWT_KEY_ID", "IS_JWT_ISSUER", "IS_JWT_ACCESS_TTL",
	"IS_JWT_REFRESH_TTL", "IS_JWT_LEEWAY",
	"IS_BATCH_TRIGGER_MODE", "IS_BATCH_WAIT_TIMEOUT", "IS_QUEUE_SIZE",
	"IS_PROCESS_FILES_BIN", "IS_SUBPROCESS_TIMEOUT",
	"IS_STATS_CACHE_SIZE", "IS_STATS_CACHE_TTL",
	"IS_RATE_LIMIT_RPS", "IS_RATE_LIMIT_BURST", "IS_CORS_ALLOWED_ORIGINS",
	"IS_DEPHEALTH_GROUP", "IS_DEPHEALTH_CHECK_INTERVAL", "IS_DEPHEALTH_ISENTRY",
}

// clearAllISEnvVars очищает все переменные IS_* и восстанавливает их после теста.
func clearAllISEnvVars(t *testing.T) {
	t.Helper()
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range allKeys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range allKeys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

// setRequired устанавливает минимальный набор обязательных переменных.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IS_DB_HOST", "localhost")
	t.Setenv("IS_DB_NAME", "instashare")
	t.Setenv("IS_DB_USER", "instashare")
	t.Setenv("IS_DB_PASSWORD", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	clearAllISEnvVars(t)
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	if cfg.Port != 8000 {
		t.Errorf("Port = %d, хотели 8000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, хотели info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, хотели json", cfg.LogFormat)
	}
	if cfg.StorageBackend != StorageLocal {
		t.Errorf("StorageBackend = %q, хотели %q", cfg.StorageBackend, StorageLocal)
	}
	if cfg.MediaRoot != "./media" {
		t.Errorf("MediaRoot = %q, хотели ./media", cfg.MediaRoot)
	}
	if cfg.BatchTriggerMode != TriggerQueue {
		t.Errorf("BatchTriggerMode = %q, хотели %q", cfg.BatchTriggerMode, TriggerQueue)
	}
	if cfg.JWTAccessTTL != 5*time.Minute {
		t.Errorf("JWTAccessTTL = %v, хотели 5m", cfg.JWTAccessTTL)
	}
	if cfg.MaxUploadSize != 100<<20 {
		t.Errorf("MaxUploadSize = %d, хотели %d", cfg.MaxUploadSize, 100<<20)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, хотели [*]", cfg.CORSAllowedOrigins)
	}
	if cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle должен быть false без IS_S3_ENDPOINT")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"IS_DB_HOST", "IS_DB_NAME", "IS_DB_USER", "IS_DB_PASSWORD"} {
		t.Run(key, func(t *testing.T) {
			clearAllISEnvVars(t)
			setRequired(t)
			os.Unsetenv(key)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q должна упоминать %s", err.Error(), key)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"некорректный порт", "IS_PORT", "abc"},
		{"порт вне диапазона", "IS_PORT", "70000"},
		{"неизвестный уровень логов", "IS_LOG_LEVEL", "verbose"},
		{"неизвестный формат логов", "IS_LOG_FORMAT", "xml"},
		{"неизвестный ssl mode", "IS_DB_SSL_MODE", "prefer"},
		{"неизвестный бэкенд", "IS_STORAGE_BACKEND", "ftp"},
		{"некорректная длительность", "IS_JWT_ACCESS_TTL", "5 minutes"},
		{"неизвестный режим триггера", "IS_BATCH_TRIGGER_MODE", "cron"},
		{"нулевая очередь", "IS_QUEUE_SIZE", "0"},
		{"отрицательный лимит загрузки", "IS_MAX_UPLOAD_SIZE", "-1"},
		{"некорректный rps", "IS_RATE_LIMIT_RPS", "0"},
		{"некорректный bool", "IS_DEPHEALTH_ISENTRY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAllISEnvVars(t)
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("ожидалась ошибка для %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	clearAllISEnvVars(t)
	setRequired(t)
	t.Setenv("IS_STORAGE_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка без IS_S3_BUCKET")
	}

	t.Setenv("IS_S3_BUCKET", "files")
	t.Setenv("IS_S3_ENDPOINT", "http://minio:9000/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint = %q, хотели без завершающего слэша", cfg.S3Endpoint)
	}
	if !cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle должен включаться при заданном endpoint")
	}
}

func TestLoad_RefreshMustExceedAccess(t *testing.T) {
	clearAllISEnvVars(t)
	setRequired(t)
	t.Setenv("IS_JWT_ACCESS_TTL", "1h")
	t.Setenv("IS_JWT_REFRESH_TTL", "30m")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка: refresh TTL меньше access TTL")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "files", DBUser: "u", DBPassword: "p", DBSSLMode: "disable",
	}
	want := "host=db port=5433 dbname=files user=u password=p sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, хотели %q", got, want)
	}
	if got := cfg.DatabaseURL(); strings.Contains(got, "p@") || !strings.HasPrefix(got, "postgres://u@db:5433/") {
		t.Errorf("DatabaseURL() = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearAllISEnvVars(t)

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("IS_DB_HOST=from-dotenv\nIS_DB_NAME=dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Уже заданная переменная не перезаписывается
	t.Setenv("IS_DB_NAME", "from-env")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() ошибка: %v", err)
	}
	if got := os.Getenv("IS_DB_HOST"); got != "from-dotenv" {
		t.Errorf("IS_DB_HOST = %q, хотели from-dotenv", got)
	}
	if got := os.Getenv("IS_DB_NAME"); got != "from-env" {
		t.Errorf("IS_DB_NAME = %q, хотели from-env", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("отсутствующий файл не должен быть ошибкой: %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("parseCSV() = %v", got)
	}
	if parseCSV("") != nil {
		t.Error("parseCSV(\"\") должен вернуть nil")
	}
}
