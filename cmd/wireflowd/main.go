// Command wireflowd runs the design session engine as an HTTP daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deepnoodle-ai/wireflow/config"
	"github.com/deepnoodle-ai/wireflow/generator"
	"github.com/deepnoodle-ai/wireflow/janitor"
	"github.com/deepnoodle-ai/wireflow/llm"
	"github.com/deepnoodle-ai/wireflow/llm/providers/google"
	"github.com/deepnoodle-ai/wireflow/llm/providers/ollama"
	"github.com/deepnoodle-ai/wireflow/llm/providers/openai"
	"github.com/deepnoodle-ai/wireflow/server"
	"github.com/deepnoodle-ai/wireflow/sessions"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/deepnoodle-ai/wireflow/store"
	"github.com/deepnoodle-ai/wireflow/version"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	if err := run(*configPath, *addr, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "wireflowd:", err)
		os.Exit(1)
	}
}

func run(configPath, addrFlag, logLevelFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	logger := slogger.New(slogger.LevelFromString(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	model, err := buildModel(cfg)
	if err != nil {
		return err
	}

	validator, err := wireframe.NewValidator(cfg.AllowedTypes)
	if err != nil {
		return fmt.Errorf("allowed_types: %w", err)
	}

	gen, err := generator.New(model,
		generator.WithTimeout(cfg.LLMTimeout),
		generator.WithMaxRetries(cfg.LLMMaxRetries),
		generator.WithValidator(validator),
		generator.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	versions := version.New(st,
		version.WithRetentionWindow(cfg.RetentionWindow),
		version.WithLogger(logger),
	)

	manager := sessions.New(st, versions, gen,
		sessions.WithEditBudget(cfg.EditBudget),
		sessions.WithLockTimeout(cfg.LockTimeout),
		sessions.WithLogger(logger),
	)

	sweeper := janitor.New(st, versions, manager.Locks(),
		janitor.WithInterval(cfg.JanitorInterval),
		janitor.WithLogger(logger),
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if configPath != "" {
		go watchConfig(ctx, configPath, logger)
	}

	srv := server.New(cfg.Addr, manager,
		server.WithLogger(logger),
		server.WithCORSOrigins(cfg.CORSOrigins),
	)
	logger.Info("starting wireflowd",
		"addr", cfg.Addr,
		"provider", cfg.Provider,
		"store", storeKind(cfg),
		"retention_window", cfg.RetentionWindow)
	return srv.Start(ctx)
}

func buildStore(ctx context.Context, cfg *config.Config, logger slogger.Logger) (store.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return store.NewMemoryStore(store.WithTTL(cfg.SessionTTL)), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return store.NewRedisStore(client, store.WithRedisTTL(cfg.SessionTTL)), func() { client.Close() }, nil
}

func buildModel(cfg *config.Config) (llm.LLM, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		return openai.New(opts...), nil
	case "google":
		opts := []google.Option{}
		if cfg.Model != "" {
			opts = append(opts, google.WithModel(cfg.Model))
		}
		return google.New(opts...), nil
	case "ollama":
		opts := []ollama.Option{}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		return ollama.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func storeKind(cfg *config.Config) string {
	if cfg.RedisAddr == "" {
		return "memory"
	}
	return "redis"
}

// watchConfig applies runtime-adjustable settings on file change. Only the
// log level takes effect without a restart.
func watchConfig(ctx context.Context, path string, logger slogger.Logger) {
	sl, ok := logger.(*slogger.Slogger)
	if !ok {
		return
	}
	err := config.Watch(ctx, path, logger, func(cfg *config.Config) {
		sl.SetLevel(slogger.LevelFromString(cfg.LogLevel))
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("config watcher stopped", "error", err)
	}
}
