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

	"facekiosk/internal/api"
	"facekiosk/internal/config"
	"facekiosk/internal/mobile"
	"facekiosk/internal/netstate"
	"facekiosk/internal/telemetry"
	"facekiosk/internal/utils"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("FACEKIOSK_CONFIG"), "Config file (JSON or YAML)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	logger, closer, err := utils.NewLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := serve(cfg, logger); err != nil {
		logger.Error("kioskd stopped", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func serve(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "kioskd",
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  cfg.OTELSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	app, err := mobile.NewApp(ctx, cfg, logger, mobile.WithTracerProvider(tp))
	if err != nil {
		return err
	}
	defer app.Close()

	sub := app.Network.Subscribe(func(st netstate.State) {
		if st.Connected {
			app.Journal.Info(mobile.CategoryNetwork, "Network connected", st)
		} else {
			app.Journal.Warn(mobile.CategoryNetwork, "Network disconnected", st)
		}
	})
	defer sub.Unsubscribe()

	observerDone := make(chan error, 1)
	go func() { observerDone <- app.Network.Run(ctx) }()

	router, err := api.NewRouter(app, api.NewRateLimiter(cfg.APIRate, cfg.APIBurst))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("kioskd listening", "addr", cfg.ListenAddr, "backend", cfg.Backend, "connectivity", cfg.Connectivity)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		<-observerDone
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Requests in flight may still be waiting on the recognition service.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout.Std()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-observerDone
	return nil
}
