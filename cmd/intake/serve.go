package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/client-intake/frontend/internal/api"
	"github.com/client-intake/frontend/internal/config"
	"github.com/client-intake/frontend/internal/web"
)

const shutdownTimeout = 10 * time.Second

var secureCookie bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web intake form and JSON API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&secureCookie, "secure-cookie", false, "Mark the session cookie Secure (serve behind TLS)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err = newLogger(cfg.Advanced.LogLevel, "")
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("closing history failed", zap.Error(err))
		}
	}()

	e, err := newEcho(cfg, rt)
	if err != nil {
		return err
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, path)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return rt.sessions.Run(gctx, cfg.CleanupInterval(), cfg.SessionTimeout())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newEcho wires handlers, middleware and templates onto a fresh Echo instance.
func newEcho(cfg *config.AppConfig, rt *runtime) (*echo.Echo, error) {
	renderer, err := web.NewRenderer(rt.catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer

	api.SetupMiddleware(e, cfg, logger)

	handlers := api.NewHandlers(&api.Dependencies{
		Sessions:     rt.sessions,
		Lister:       rt.client,
		History:      rt.attemptLog(),
		Catalog:      rt.catalog,
		Version:      Version,
		BackendURL:   rt.client.BaseURL(),
		Logger:       logger,
		SecureCookie: secureCookie,
	})
	api.RegisterRoutes(e, handlers, api.RateLimit{
		Rate:  cfg.Advanced.SubmitRateLimit,
		Burst: cfg.Advanced.SubmitBurst,
	})

	if err := web.RegisterStaticRoutes(e); err != nil {
		return nil, fmt.Errorf("failed to register static routes: %w", err)
	}
	return e, nil
}

func printBanner(cfg *config.AppConfig, configPath string) {
	history := "Disabled"
	if cfg.Storage.EnableHistory {
		history = cfg.Storage.HistoryDatabase
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Client Intake Server                            ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Locale:     %-45s║\n", cfg.Intake.Locale)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", cfg.Backend.BaseURL)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("║  History:   %-46s║\n", history)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
}
