package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.uber.org/fx"

	"http-forward-go/internal/client"
	"http-forward-go/internal/config"
	"http-forward-go/internal/diag"
	"http-forward-go/internal/handler"
	"http-forward-go/internal/metrics"
	"http-forward-go/internal/server"
	"http-forward-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("http-forward"),
		kong.Description("Single-hop HTTP/1.1 forwarding proxy."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newDiag,
			client.NewDialer,
			client.NewBackendClient,
			newFatal,
			service.NewForwardService,
			handler.NewForwardHandler,
			handler.NewHealthHandler,
			server.NewEcho,
			server.NewAdmin,
		),
		fx.Invoke(handler.RegisterRoutes, logConfigSummary, startServer, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return buildLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
}

func buildLogger(w io.Writer, levelName, format string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "console":
		h = tint.NewHandler(w, &tint.Options{Level: level, NoColor: !isTerminal(w)})
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func newDiag(cfg *config.Config, logger *slog.Logger) *diag.Logger {
	return diag.New(logger, cfg.Log.BodyPreviewBytes)
}

// newFatal turns a request-time misconfiguration into process shutdown.
func newFatal(sd fx.Shutdowner, logger *slog.Logger) service.FatalFunc {
	return func(err error) {
		logger.Error("fatal misconfiguration, shutting down", "err", err)
		if serr := sd.Shutdown(fx.ExitCode(1)); serr != nil {
			logger.Error("shutdown request failed", "err", serr)
		}
	}
}

func logConfigSummary(cfg *config.Config, logger *slog.Logger) {
	cfg.LogSummary(logger)
}

func startServer(lc fx.Lifecycle, sd fx.Shutdowner, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := server.Listen(cfg.Listen)
			if err != nil {
				return err
			}
			logger.Info("starting server", "addr", ln.Addr().String(), "transport", cfg.Listen.Transport.String())
			go func() {
				if err := server.Serve(e, ln); err != nil {
					logger.Error("accept loop failed", "err", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

func startAdmin(lc fx.Lifecycle, admin *server.Admin, health *handler.HealthHandler, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	handler.RegisterAdminRoutes(admin.Echo, health)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", admin.Addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", admin.Addr, err)
			}
			logger.Info("starting admin server", "addr", admin.Addr, "metrics_path", cfg.Metrics.Path)
			go func() {
				if err := server.Serve(admin.Echo, ln); err != nil {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return admin.Echo.Shutdown(ctx)
		},
	})
}
