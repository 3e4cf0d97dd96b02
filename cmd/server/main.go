package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"google.golang.org/grpc"

	"github.com/rl1809/library-ledger/internal/adapter/handler"
	"github.com/rl1809/library-ledger/internal/app"
	"github.com/rl1809/library-ledger/internal/config"
	"github.com/rl1809/library-ledger/internal/core/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StorageDriver, err)
	}

	cache, closeCache, err := app.OpenCache(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithCache(cache),
		service.WithLoanPeriod(cfg.LoanPeriod),
		service.WithRetryOptions(
			service.WithMaxAttempts(cfg.RetryMaxAttempts),
			service.WithBaseDelay(cfg.RetryBaseDelay),
		),
	}
	loanService := service.NewLoanService(store, opts...)
	catalogService := service.NewCatalogService(store, opts...)

	// gRPC
	grpcServer := grpc.NewServer()
	handler.RegisterLoanServiceServer(grpcServer, handler.NewGRPCHandler(loanService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))
	handler.NewHTTPHandler(loanService, catalogService).Routes(r)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	closeCache()
	store.Close()
	logger.Info("connections closed")
}
