package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/medbill/internal/analysis"
	"github.com/zombor/medbill/internal/receipt"
	"github.com/zombor/medbill/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("medbill")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "medbill.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./bills", "Storage directory path for uploaded bills")
		scannerType     = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'openrouter' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		openRouterKey   = fs.StringLong("openrouter-key", "", "OpenRouter API key (or set OPENROUTER_API_KEY env var)")
		openRouterModel = fs.StringLong("openrouter-model", "anthropic/claude-3.5-sonnet", "OpenRouter model name")
		openRouterURL   = fs.StringLong("openrouter-url", scanning.OpenRouterBaseURL, "OpenRouter API base URL")
		openRouterMax   = fs.IntLong("openrouter-max-tokens", scanning.DefaultMaxTokens, "Maximum tokens per OpenRouter completion")
		openRouterRef   = fs.StringLong("openrouter-referer", "", "HTTP-Referer sent to OpenRouter (optional)")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		callTimeout     = fs.DurationLong("call-timeout", 90*time.Second, "Timeout for each model call (0 disables)")
		historyMax      = fs.IntLong("history-max", receipt.DefaultMaxReceipts, "Number of analyses kept in history")
		maxUploadMB     = fs.IntLong("max-upload-mb", receipt.DefaultMaxUploadBytes>>20, "Maximum upload size in megabytes")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("MEDBILL"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...", "path", *dbPath, "history_max", *historyMax)
	db, err := receipt.NewBoltDB(*dbPath, *historyMax)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(context.Background(), scanning.GeminiConfig{
			APIKey:      apiKey,
			Model:       *geminiModel,
			Temperature: 0.3,
		})
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "openrouter":
		apiKey := *openRouterKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		slog.Info("Initializing OpenRouter scanner...", "url", *openRouterURL, "model", *openRouterModel)
		scanner, err = scanning.NewOpenRouter(scanning.OpenRouterConfig{
			APIKey:    apiKey,
			Model:     *openRouterModel,
			BaseURL:   *openRouterURL,
			MaxTokens: *openRouterMax,
			Referer:   *openRouterRef,
		})
		if err != nil {
			slog.Error("Failed to initialize OpenRouter", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, openrouter or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	analyzer := analysis.NewAnalyzer(scanner, analysis.Config{
		CallTimeout: *callTimeout,
		Logger:      slog.Default(),
	})

	billService := receipt.NewService(db, analyzer, store)

	server := receipt.NewServer(billService, receipt.ServerConfig{
		BasicAuth: receipt.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: int64(*maxUploadMB) << 20,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "scanner", *scannerType, "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
