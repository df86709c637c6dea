// Пакет config — загрузка и валидация конфигурации InstaShare
// из переменных окружения (префикс IS_).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища файлов.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Режимы HTTP-триггера пакетной обработки.
const (
	TriggerQueue      = "queue"
	TriggerSubprocess = "subprocess"
)

// Config содержит все параметры конфигурации InstaShare.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище ---

	// Бэкенд: local или s3
	StorageBackend string
	// Корневая директория локального хранилища (аналог MEDIA_ROOT)
	MediaRoot string
	// Параметры S3-совместимого хранилища
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// S3HealthPath — путь health check S3-совместимого сервера для dephealth
	S3HealthPath string
	// Время жизни presigned URL
	PresignTTL time.Duration
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- JWT ---

	// Путь к PEM с приватным RSA-ключом (пусто — ключ генерируется при старте)
	JWTPrivateKeyPath string
	JWTKeyID          string
	JWTIssuer         string
	JWTAccessTTL      time.Duration
	JWTRefreshTTL     time.Duration
	JWTLeeway         time.Duration

	// --- Пакетная обработка ---

	// Режим HTTP-триггера: queue или subprocess
	BatchTriggerMode string
	// Сколько HTTP-запрос ждёт завершения пакета в режиме queue
	BatchWaitTimeout time.Duration
	// Ёмкость очереди задач
	QueueSize int
	// Путь к бинарнику process-files (режим subprocess)
	ProcessFilesBin string
	// Таймаут подпроцесса (режим subprocess)
	SubprocessTimeout time.Duration

	// --- Кэш статистики ---

	StatsCacheSize int
	StatsCacheTTL  time.Duration

	// --- Rate limit для /api/auth ---

	RateLimitRPS   float64
	RateLimitBurst int

	// Разрешённые CORS origins (через запятую)
	CORSAllowedOrigins []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("IS_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("IS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("IS_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IS_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись ответа должна пережить ожидание пакетной обработки
	if cfg.HTTPWriteTimeout, err = getEnvDuration("IS_HTTP_WRITE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("IS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("IS_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("IS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("IS_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("IS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("IS_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("IS_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("IS_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("IS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("IS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("IS_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("IS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище ---

	cfg.StorageBackend = getEnvDefault("IS_STORAGE_BACKEND", StorageLocal)
	cfg.MediaRoot = getEnvDefault("IS_MEDIA_ROOT", "./media")
	cfg.S3Bucket = getEnvDefault("IS_S3_BUCKET", "")
	cfg.S3Region = getEnvDefault("IS_S3_REGION", "us-east-1")
	cfg.S3Endpoint = strings.TrimRight(getEnvDefault("IS_S3_ENDPOINT", ""), "/")
	cfg.S3AccessKey = getEnvDefault("IS_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("IS_S3_SECRET_KEY", "")
	if cfg.S3UsePathStyle, err = getEnvBool("IS_S3_USE_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
		return nil, fmt.Errorf("IS_S3_USE_PATH_STYLE: %w", err)
	}
	cfg.S3HealthPath = getEnvDefault("IS_S3_HEALTH_PATH", "/minio/health/live")
	switch cfg.StorageBackend {
	case StorageLocal:
	case StorageS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("IS_S3_BUCKET: обязателен при IS_STORAGE_BACKEND=s3")
		}
		if cfg.S3Endpoint != "" {
			if _, err := url.ParseRequestURI(cfg.S3Endpoint); err != nil {
				return nil, fmt.Errorf("IS_S3_ENDPOINT: некорректный URL %q", cfg.S3Endpoint)
			}
		}
	default:
		return nil, fmt.Errorf("IS_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StorageBackend)
	}
	if cfg.PresignTTL, err = getEnvDuration("IS_PRESIGN_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("IS_PRESIGN_TTL: %w", err)
	}
	if cfg.MaxUploadSize, err = getEnvInt64("IS_MAX_UPLOAD_SIZE", 100<<20); err != nil {
		return nil, fmt.Errorf("IS_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("IS_MAX_UPLOAD_SIZE: значение должно быть больше нуля")
	}

	// --- JWT ---

	cfg.JWTPrivateKeyPath = getEnvDefault("IS_JWT_PRIVATE_KEY_PATH", "")
	cfg.JWTKeyID = getEnvDefault("IS_JWT_KEY_ID", "instashare-1")
	cfg.JWTIssuer = getEnvDefault("IS_JWT_ISSUER", "instashare")
	if cfg.JWTAccessTTL, err = getEnvDuration("IS_JWT_ACCESS_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("IS_JWT_ACCESS_TTL: %w", err)
	}
	if cfg.JWTRefreshTTL, err = getEnvDuration("IS_JWT_REFRESH_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("IS_JWT_REFRESH_TTL: %w", err)
	}
	if cfg.JWTRefreshTTL <= cfg.JWTAccessTTL {
		return nil, fmt.Errorf("IS_JWT_REFRESH_TTL: должен быть больше IS_JWT_ACCESS_TTL")
	}
	if cfg.JWTLeeway, err = getEnvDuration("IS_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("IS_JWT_LEEWAY: %w", err)
	}

	// --- Пакетная обработка ---

	cfg.BatchTriggerMode = getEnvDefault("IS_BATCH_TRIGGER_MODE", TriggerQueue)
	if cfg.BatchTriggerMode != TriggerQueue && cfg.BatchTriggerMode != TriggerSubprocess {
		return nil, fmt.Errorf("IS_BATCH_TRIGGER_MODE: недопустимое значение %q, допустимые: queue, subprocess", cfg.BatchTriggerMode)
	}
	if cfg.BatchWaitTimeout, err = getEnvDuration("IS_BATCH_WAIT_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("IS_BATCH_WAIT_TIMEOUT: %w", err)
	}
	if cfg.QueueSize, err = getEnvInt("IS_QUEUE_SIZE", 16); err != nil {
		return nil, fmt.Errorf("IS_QUEUE_SIZE: %w", err)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("IS_QUEUE_SIZE: значение должно быть больше нуля")
	}
	cfg.ProcessFilesBin = getEnvDefault("IS_PROCESS_FILES_BIN", "process-files")
	if cfg.SubprocessTimeout, err = getEnvDuration("IS_SUBPROCESS_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("IS_SUBPROCESS_TIMEOUT: %w", err)
	}

	// --- Кэш статистики ---

	if cfg.StatsCacheSize, err = getEnvInt("IS_STATS_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("IS_STATS_CACHE_SIZE: %w", err)
	}
	if cfg.StatsCacheSize < 1 {
		return nil, fmt.Errorf("IS_STATS_CACHE_SIZE: значение должно быть больше нуля")
	}
	if cfg.StatsCacheTTL, err = getEnvDuration("IS_STATS_CACHE_TTL", 10*time.Second); err != nil {
		return nil, fmt.Errorf("IS_STATS_CACHE_TTL: %w", err)
	}

	// --- Rate limit ---

	if cfg.RateLimitRPS, err = getEnvFloat("IS_RATE_LIMIT_RPS", 1); err != nil {
		return nil, fmt.Errorf("IS_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = getEnvInt("IS_RATE_LIMIT_BURST", 5); err != nil {
		return nil, fmt.Errorf("IS_RATE_LIMIT_BURST: %w", err)
	}

	cfg.CORSAllowedOrigins = parseCSV(getEnvDefault("IS_CORS_ALLOWED_ORIGINS", "*"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("IS_DEPHEALTH_GROUP", "instashare")
	if cfg.DephealthCheckInterval, err = getEnvDuration("IS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("IS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthIsEntry, err = getEnvBool("IS_DEPHEALTH_ISENTRY", false); err != nil {
		return nil, fmt.Errorf("IS_DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	return setupLogger(cfg, os.Stdout)
}

// SetupStderrLogger — то же, что SetupLogger, но пишет в stderr.
// Нужен CLI, у которого stdout занят отчётом.
func SetupStderrLogger(cfg *Config) *slog.Logger {
	return setupLogger(cfg, os.Stderr)
}

func setupLogger(cfg *Config, out *os.File) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LoadDotEnv загружает переменные из .env-файлов (по умолчанию ./.env).
// Отсутствующий файл ошибкой не считается; уже заданные переменные не перезаписываются.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("загрузка %s: %w", f, err)
		}
	}
	return nil
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("некорректное положительное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
