package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/adminboard/pkg/api"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/config"
	"github.com/platinummonkey/adminboard/pkg/observability"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "dev-token" {
		if err := devToken(os.Args[2:]); err != nil {
			log.Fatalf("dev-token: %v", err)
		}
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	// Parse command line flags
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "adminboard")

	if err := serve(cfg, logger); err != nil {
		logger.WithError(err).Error("adminboard stopped with error")
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := api.Build(ctx, cfg, version, logger, reg)
	if err != nil {
		_ = otel.Shutdown(ctx)
		return err
	}
	app.Shutdown.Register("otel", otel.Shutdown)
	app.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", app.HTTP.Addr).Info("adminboard listening")
		if err := app.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return app.Shutdown.WaitForShutdown(shutdownCtx)
}

// devToken prints an HMAC token for local development
func devToken(args []string) error {
	fs := flag.NewFlagSet("dev-token", flag.ExitOnError)
	uid := fs.String("uid", "dev-user", "Subject uid")
	role := fs.String("role", "super_admin", "Role claim")
	email := fs.String("email", "", "Email claim")
	name := fs.String("name", "", "Display name claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.Mode != "hmac" {
		return fmt.Errorf("dev tokens require ADMINBOARD_AUTH_MODE=hmac")
	}

	verifier := auth.NewHMACVerifier(cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.RoleClaim)
	token, err := verifier.Sign(auth.Claims{UID: *uid, Role: *role, Email: *email, Name: *name}, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
