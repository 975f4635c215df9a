package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
	"github.com/uma-arai/sbcntr-parking/internal/server"
)

const shutdownTimeout = 10 * time.Second

// 予約APIサーバー
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateHTTP(); err != nil {
		log.Error("invalid server config", "env", cfg.Env, "err", err)
		os.Exit(1)
	}

	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000",
			ServiceVersion: "1.0.0",
		}); err != nil {
			log.Warn("failed to configure X-Ray", "err", err)
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Error("failed to open stores", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	e := server.NewFromStores(cfg, stores, log)

	go func() {
		log.Info("starting server", "port", cfg.HTTP.Port, "store", cfg.Store)
		if err := e.Start(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown server", "err", err)
	}
	log.Info("server stopped")
}
