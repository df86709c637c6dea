// Точка входа process-files — пакетное сжатие всех pending файлов.
// Запускается вручную, по расписанию или HTTP-триггером в режиме subprocess
// (с --output=json: прогресс в stderr, JSON-отчёт в stdout).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/miguelitojb9/InstaShare/internal/config"
	"github.com/miguelitojb9/InstaShare/internal/database"
	"github.com/miguelitojb9/InstaShare/internal/repository"
	"github.com/miguelitojb9/InstaShare/internal/service"
	"github.com/miguelitojb9/InstaShare/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run выполняет пакетную обработку и возвращает код завершения.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("process-files", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("output", "text", "формат вывода: text или json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *output != "text" && *output != "json" {
		fmt.Fprintf(stderr, "неизвестный формат вывода: %s\n", *output)
		return 2
	}
	jsonOutput := *output == "json"

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "Ошибка чтения .env: %v\n", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Ошибка загрузки конфигурации: %v\n", err)
		return 1
	}
	logger := config.SetupStderrLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		return 1
	}
	defer pool.Close()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		return 1
	}

	fileRepo := repository.NewFileRepository(pool)
	runner := service.NewBatchRunner(fileRepo, service.NewCompressor(fileRepo, store, logger), logger)

	progressOut := stdout
	if jsonOutput {
		progressOut = stderr
	}

	report, err := runner.Run(ctx, newPrinter(progressOut))
	if err != nil {
		logger.Error("Пакетная обработка завершилась ошибкой", slog.String("error", err.Error()))
		return 1
	}

	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(report); err != nil {
			logger.Error("Ошибка записи отчёта", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}
	printSummary(stdout, report)
	return 0
}
