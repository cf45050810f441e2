// Package server builds the forwarding and admin Echo servers.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"http-forward-go/internal/config"
	"http-forward-go/internal/diag"
	"http-forward-go/internal/metrics"
	"http-forward-go/internal/middleware"
)

// NewEcho creates the forwarding server. Routes are registered separately.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, d *diag.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadHeaderTimeout = time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second
	// Bodies are drained in full before forwarding and the backend exchange is
	// bounded by the outbound I/O timeout, so no whole-request deadline applies.
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0
	// HTTP/1.1 only.
	e.Server.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}

	e.Server.ConnContext = func(ctx context.Context, c net.Conn) context.Context {
		return diag.WithConnID(ctx, ConnIDOf(c))
	}
	e.Server.ConnState = func(c net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			m.ConnectionsAccepted.Inc()
			m.ConnectionsActive.Inc()
			d.ConnOpen(ConnIDOf(c), c.RemoteAddr().String())
		case http.StateClosed, http.StateHijacked:
			m.ConnectionsActive.Dec()
			d.ConnClose(ConnIDOf(c), c.RemoteAddr().String())
		}
	}

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))

	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	if cfg.Forward.StripHopByHop {
		e.Use(middleware.StripHopByHop())
		logger.Info("hop-by-hop header stripping enabled")
	}

	return e
}

// Admin is the operator-facing server carrying health and metrics routes.
type Admin struct {
	Echo *echo.Echo
	Addr string
}

// NewAdmin creates the admin server and mounts the metrics endpoint.
func NewAdmin(cfg *config.Config, m *metrics.Metrics) *Admin {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})))

	return &Admin{Echo: e, Addr: cfg.Metrics.Addr}
}

// Serve accepts connections on ln until the server is shut down. A clean
// shutdown returns nil; any other return is an accept-loop failure.
func Serve(e *echo.Echo, ln net.Listener) error {
	if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
