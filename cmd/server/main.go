package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"buf.build/go/protovalidate"
	"connectrpc.com/connect"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/atlekbai/record_query/internal/config"
	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/logging"
	"github.com/atlekbai/record_query/internal/schema"
	"github.com/atlekbai/record_query/internal/server"
	"github.com/atlekbai/record_query/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	var source schema.Source
	if cfg.SchemaFile != "" {
		source = schema.FixtureSource{Path: cfg.SchemaFile}
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		source = schema.PgSource{Pool: pool}
	}

	cache := schema.NewCache()
	if err := cache.Load(ctx, source); err != nil {
		logger.Fatal("failed to load schema cache", zap.Error(err))
	}
	logger.Info("schema cache loaded", zap.Int("tables", cache.TableCount()))

	validator, err := protovalidate.New()
	if err != nil {
		logger.Fatal("failed to create validator", zap.Error(err))
	}

	interceptors := []connect.Interceptor{
		server.LoggingInterceptor(logger),
		server.ValidationInterceptor(validator),
	}

	services := []server.ConnectService{
		service.NewQueryService(cache, source, dialect.New(cfg.Dialect), logger),
	}

	handler, err := server.NewHandler(logger, services, interceptors...)
	if err != nil {
		logger.Fatal("failed to build handler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Shutdown(context.Background())
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr()), zap.String("dialect", cfg.Dialect))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
