package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/config"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/database"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/repository"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/service"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/watcher"
)

// App holds the wired chat store and the resources it owns.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Store   *service.ChatService
	Watcher *watcher.Watcher
}

// NewApp opens the state backend, builds the chat store over the vault
// directory and initializes it.
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	repo, err := a.openRepository()
	if err != nil {
		return nil, err
	}

	fs, err := gateway.NewOSFS(cfg.VaultPath)
	if err != nil {
		_ = a.closeBackends()
		return nil, err
	}

	temperature := cfg.DefaultTemperature
	contextWindow := cfg.DefaultContextWindow
	store, err := service.NewChatService(fs, repo, service.NewEventBus(), service.Options{
		ChatHistoryPath:      cfg.ChatHistoryPath,
		FileExtension:        cfg.ChatFileExtension,
		SaveEnabled:          cfg.SaveEnabled,
		SaveDebounce:         cfg.SaveDebounce,
		TimestampTolerance:   cfg.MessageTimestampTolerance,
		DefaultModelName:     cfg.DefaultModelName,
		DefaultTemperature:   &temperature,
		DefaultContextWindow: &contextWindow,
	})
	if err != nil {
		_ = a.closeBackends()
		return nil, err
	}
	if err := store.Initialize(context.Background()); err != nil {
		_ = a.closeBackends()
		return nil, fmt.Errorf("failed to initialize chat store: %w", err)
	}
	a.Store = store

	if cfg.WatchEnabled {
		if err := a.StartWatcher(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openRepository() (repository.Repository, error) {
	switch a.Config.StateBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.Config.RedisAddr, err)
		}
		slog.Info("Successfully connected to Redis.", "addr", a.Config.RedisAddr)
		a.Redis = rdb
		return repository.NewRedisRepository(rdb, a.Config.RedisPrefix), nil

	case config.BackendMemory:
		slog.Warn("Using in-memory state backend; the index is rebuilt on every start")
		return repository.NewMemoryRepository(), nil

	default:
		db, err := database.InitDB(a.Config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		slog.Info("Successfully connected to SQLite database.", "path", a.Config.DatabasePath)
		a.DB = db
		return repository.NewSQLiteRepository(db), nil
	}
}

// StartWatcher reconciles the index whenever chat files change on disk. It is
// a no-op when the watcher already runs.
func (a *App) StartWatcher() error {
	if a.Watcher != nil {
		return nil
	}
	dir := filepath.Join(a.Config.VaultPath, filepath.FromSlash(a.Store.Root()))
	w, err := watcher.New(dir, a.Store, a.Config.WatchDebounce)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	a.Watcher = w
	return nil
}

// Close stops the watcher, flushes pending chat saves and closes the backends.
func (a *App) Close() error {
	var errs []error
	if a.Watcher != nil {
		errs = append(errs, a.Watcher.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.closeBackends())
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("Failed to close redis connection", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run loads the configuration, wires the application and executes the
// command in args. It returns the process exit code.
func Run(args []string) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return exitFailure
	}

	setupLogger(cfg.LogLevel)

	logConfigSource()

	a, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to start chat store", "error", err)
		return exitFailure
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("Failed to shut down cleanly", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &CLI{Store: a.Store, Out: os.Stdout, Watch: a.StartWatcher}
	return cli.Execute(ctx, args)
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
