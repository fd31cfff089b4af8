package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/agentuity/quizbot/cache"
	"github.com/agentuity/quizbot/codec"
	"github.com/agentuity/quizbot/config"
	"github.com/agentuity/quizbot/env"
	"github.com/agentuity/quizbot/logger"
	"github.com/agentuity/quizbot/quiz"
	"github.com/agentuity/quizbot/resilience"
	"github.com/agentuity/quizbot/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

// app holds what every command needs, built once from the config.
type app struct {
	cfg      config.Config
	logger   logger.Logger
	cache    *cache.Persistent[string, quiz.Set]
	layered  *cache.Layered[string, quiz.Set]
	service  *quiz.Service
	shutdown telemetry.ShutdownFunc
}

func (a *app) Close() {
	if a.layered != nil {
		if err := a.layered.Close(); err != nil {
			a.logger.Warn("closing cache: %s", err)
		}
	}
	if a.shutdown != nil {
		a.shutdown()
	}
}

// loadConfig reads the config file, the environment and the optional .env
// file, then applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var dotenv []env.EnvLine
	if path := env.FlagOrEnv(cmd, "env-file", env.FileEnv, ""); path != "" {
		var err error
		if dotenv, err = env.ParseEnvFile(path); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.LoadWith(env.FlagOrEnv(cmd, "config", "QUIZBOT_CONFIG", ""), env.Lookup(dotenv))
	if err != nil {
		return cfg, err
	}

	cfg.Cache.Dir = env.FlagOrEnv(cmd, "cache-dir", "QUIZBOT_CACHE_DIR", cfg.Cache.Dir)
	cfg.API.URL = env.FlagOrEnv(cmd, "api-url", "QUIZBOT_API_URL", cfg.API.URL)
	cfg.Cache.Format = codec.Format(env.FlagOrEnv(cmd, "format", "QUIZBOT_CACHE_FORMAT", string(cfg.Cache.Format)))
	cfg.Cache.Backend = config.Backend(env.FlagOrEnv(cmd, "backend", "QUIZBOT_CACHE_BACKEND", string(cfg.Cache.Backend)))
	if ttl, _ := cmd.Flags().GetString("ttl"); ttl != "" {
		d, err := config.ParseDuration(ttl)
		if err != nil {
			return cfg, errors.Wrap(err, "--ttl")
		}
		cfg.Cache.TTL = d
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := env.NewLogger(cmd, cfg.Log.Format, cfg.Log.Level)

	tp, shutdown, err := env.NewTelemetry(ctx, cmd, "quizbot", quiz.Version, cfg.Telemetry.Endpoint)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	a := &app{cfg: cfg, logger: log, shutdown: shutdown}

	ttl := time.Duration(cfg.Cache.TTL)
	opts := []cache.Option{
		cache.WithLogger(log.WithPrefix("[cache]")),
		cache.WithTracerProvider(tp),
		cache.WithMaxEntrySize(cfg.Cache.MaxEntrySize),
	}
	switch cfg.Cache.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
			a.Close()
			return nil, errors.Wrapf(err, "creating %s", cfg.Cache.Dir)
		}
		a.layered, err = cache.NewMemoryWithSQLiteFallback[string, quiz.Set](ctx, ttl, cfg.SQLitePath(), cfg.Cache.Format, opts...)
	default:
		a.layered, err = cache.NewMemoryWithFileFallback[string, quiz.Set](ttl, cfg.Cache.Dir, cfg.Cache.Format, opts...)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache.NewPersistent[string, quiz.Set](a.layered, opts...)

	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.API.Retries
	client := quiz.NewClient(cfg.API.URL, cfg.API.Token,
		quiz.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.API.Timeout)}),
		quiz.WithClientLogger(log.WithPrefix("[api]")),
		quiz.WithRetry(retry),
		quiz.WithTracer(tp),
	)
	a.service = quiz.NewService(a.cache, client, log)
	log.Debug("using %s cache in %s (ttl %s, format %s)", cfg.Cache.Backend, cfg.Cache.Dir, cfg.Cache.TTL, cfg.Cache.Format)
	return a, nil
}
