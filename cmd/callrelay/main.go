package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/waveline/callrelay/internal/api"
	"github.com/waveline/callrelay/internal/api/middleware"
	"github.com/waveline/callrelay/internal/config"
	"github.com/waveline/callrelay/internal/database"
	"github.com/waveline/callrelay/internal/database/models"
	"github.com/waveline/callrelay/internal/database/pgstore"
	"github.com/waveline/callrelay/internal/metrics"
	"github.com/waveline/callrelay/internal/relay"
	"github.com/waveline/callrelay/internal/ws"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callrelay",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"ring_timeout", cfg.RingTimeout,
	)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	// Open call history storage. A database-url switches persistence to
	// Postgres; the default is an embedded SQLite file under the data dir.
	var records database.CallRecordRepository
	if cfg.DatabaseURL != "" {
		store, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		records = store
		slog.Info("call history backed by postgres")
	} else {
		db, err := database.Open(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		records = database.NewCallRecordRepository(db)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	database.StartRetentionTicker(appCtx, records, cfg.HistoryRetentionDays, 12*time.Hour)

	// Relay core with history persistence wired in.
	registry := relay.NewRegistry(logger)
	manager := relay.NewManager(registry, &historyRecorderAdapter{records: records}, logger)

	// Prometheus registry with the relay collector plus runtime collectors.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		metrics.NewCollector(manager, records, startTime),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	wsServer := ws.NewServer(manager, cfg, jwtSecret, logger)

	if cfg.RingTimeout > 0 {
		go manager.RunRingTimeout(appCtx, cfg.RingTimeout, wsServer.Dispatch)
	}

	handler := api.NewServer(cfg, records, manager, jwtSecret, wsServer, promRegistry)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			slog.Info("https server listening", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			return
		}
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Plain-HTTP listener that redirects to the TLS port.
	var redirectSrv *http.Server
	if cfg.TLSEnabled() {
		redirectSrv = &http.Server{
			Addr:         ":80",
			Handler:      middleware.HTTPSRedirectHandler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("https redirect listener failed", "error", err)
			}
		}()
	}

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if redirectSrv != nil {
		_ = redirectSrv.Shutdown(ctx)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callrelay stopped")
}

// historyRecorderAdapter bridges the relay's fire-and-forget history hooks to
// the call record repository. Dispositions map one-to-one onto record
// statuses.
type historyRecorderAdapter struct {
	records database.CallRecordRepository
}

func (a *historyRecorderAdapter) CallStarted(ctx context.Context, s relay.CallSession) error {
	return a.records.Create(ctx, &models.CallRecord{
		CallID:     s.CallID,
		CallerID:   s.CallerID,
		ReceiverID: s.ReceiverID,
		CallType:   s.Kind,
		RoomName:   s.RoomToken,
		Status:     models.StatusRinging,
		StartTime:  s.StartedAt,
	})
}

func (a *historyRecorderAdapter) CallFinished(ctx context.Context, s relay.CallSession, disposition string) error {
	duration := 0
	if disposition == models.StatusCompleted {
		duration = s.DurationSeconds()
	}
	return a.records.Finish(ctx, s.CallID, disposition, s.AnsweredAt, s.EndedAt, duration)
}
