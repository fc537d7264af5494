// Command recqd runs a recognition job processing daemon: it opens the
// configured store, starts the engine's worker pool and watchdog, and
// shuts down gracefully on SIGINT or SIGTERM.
//
// Runners are registered by linking them in; a bare recqd drains
// nothing but still serves submissions, cancellation, and the
// watchdog. See the engine package docs for embedding the engine in
// an application binary with its own runners.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/engine"
	"github.com/ricmsdev/eventcad-sub001/notify"
	"github.com/ricmsdev/eventcad-sub001/store"
	"github.com/ricmsdev/eventcad-sub001/store/memory"
	"github.com/ricmsdev/eventcad-sub001/store/postgres"
	"github.com/ricmsdev/eventcad-sub001/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// A .env file is optional; real environments set variables directly.
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	defaultConfigPath := os.Getenv("RECQ_CONFIG_PATH")
	configPath := flag.String("config", defaultConfigPath, "path to YAML configuration file")
	flag.Parse()

	cfg := recq.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = recq.LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	logger := newLogger(cfg.Logging)

	logger.Info("starting recqd",
		slog.String("store", cfg.Store.Driver),
		slog.Int("concurrency", cfg.Concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	opts := []engine.Option{engine.WithLogger(logger)}
	sinks, err := buildSinks(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("configure notifications: %w", err)
	}
	if len(sinks) > 0 {
		opts = append(opts, engine.WithExtension(notify.NewNotifier(logger, sinks...)))
	}

	eng, err := engine.New(st, cfg, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("recqd started", slog.String("worker_id", eng.WorkerID().String()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received signal, shutting down", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		return err
	}

	logger.Info("recqd shutdown complete")
	return nil
}

// openStore builds the persistence backend named by the config. The
// returned cleanup closes whatever connections the backend opened.
func openStore(ctx context.Context, cfg recq.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() {}, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		s := redis.New(client, redis.WithLogger(logger))
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildSinks assembles notification sinks from config. Empty fields
// disable the corresponding sink.
func buildSinks(cfg recq.NotifyConfig, logger *slog.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
	}
	if cfg.AMQPURL != "" {
		sink, err := notify.NewAMQPSink(notify.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func newLogger(cfg recq.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
