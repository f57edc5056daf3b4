// Command fixframe runs the media repair service: encrypted intake, payment
// confirmation, background repair, token-gated downloads, and expiry sweeps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpAdapter "github.com/roppunt/fixframe/internal/adapter/http"
	"github.com/roppunt/fixframe/internal/adapter/notify"
	"github.com/roppunt/fixframe/internal/adapter/payment"
	"github.com/roppunt/fixframe/internal/adapter/repair"
	"github.com/roppunt/fixframe/internal/adapter/securestore"
	"github.com/roppunt/fixframe/internal/adapter/sqlite"
	"github.com/roppunt/fixframe/internal/config"
	"github.com/roppunt/fixframe/internal/domain"
	"github.com/roppunt/fixframe/internal/download"
	"github.com/roppunt/fixframe/internal/lifecycle"
	"github.com/roppunt/fixframe/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "path to fixframe.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger.Info("starting fixframe", "port", cfg.Port, "data_dir", cfg.DataDir)

	repo, err := sqlite.New(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	vault, err := securestore.New(cfg.EncryptionKey, cfg.RequireEncryptionKey, logger)
	if err != nil {
		return err
	}

	dispatcher := repair.NewDispatcher(logger, repair.WithTimeout(cfg.RepairTimeout.Std()))

	var notifier domain.Notifier
	if cfg.SMTP.Host != "" {
		notifier = notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From, cfg.BaseURL)
	} else {
		logger.Warn("SMTP not configured, notifications go to the log")
		notifier = &notify.LogNotifier{Logger: logger}
	}

	ctrl := lifecycle.New(repo, vault, dispatcher, notifier, &payment.TestGateway{}, lifecycle.Paths{
		EncryptedDir: cfg.EncryptedDir(),
		ResultsDir:   cfg.ResultsDir(),
		TmpDir:       cfg.TmpDir(),
	}, cfg.GrantTTL.Std(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Jobs interrupted mid-repair by a previous crash resume now.
	if recovered, err := ctrl.RecoverStalled(ctx); err != nil {
		logger.Warn("stalled job recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("resumed stalled repairs", "count", recovered)
	}

	sw := sweeper.New(repo, vault, cfg.SweepInterval.Std(), logger)
	go sw.Run(ctx)

	srv := httpAdapter.NewServer(ctrl, download.New(repo), repo, httpAdapter.Options{
		Addr:          fmt.Sprintf(":%d", cfg.Port),
		TmpDir:        cfg.TmpDir(),
		MaxUploadSize: cfg.MaxUploadSize,
		PriceEUR:      cfg.PriceEUR,
		AdminUser:     cfg.Admin.User,
		AdminPass:     cfg.Admin.Pass,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	// Let in-flight repairs reach a terminal state before exiting.
	ctrl.Wait()
	logger.Info("shutdown complete")
	return nil
}
