package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"anon-relay/internal/client"
	"anon-relay/internal/config"
	"anon-relay/internal/handler"
	"anon-relay/internal/metrics"
	"anon-relay/internal/middleware"
	"anon-relay/internal/network"
	"anon-relay/internal/service"
	"anon-relay/internal/status"
	"anon-relay/internal/tasks"
	"anon-relay/internal/transport"
)

// appOptions builds the application graph. Lifecycle hooks are appended in
// dependency order (transport, network, tasks, server), so fx stops them in
// reverse: server, tasks, network, then transport last.
//
// The transport is brought up during construction, where a later failure gets
// no OnStop rollback; guard keeps it so the caller can release it.
func appOptions(cli *config.CLI, factory transport.ClientFactory, guard *bootGuard) fx.Option {
	return fx.Options(
		fx.Supply(guard),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			func() transport.ClientFactory { return factory },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newTransportHandle,
			newOverlayClient,
			newRelayService,
			newNetwork,
			newReporter,
			newTaskGroup,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
			handler.NewDiscoveryHandler,
		),
		fx.Invoke(
			logStartup,
			handler.RegisterRoutes,
			handler.RegisterMetrics,
			startTasks,
			startServer,
		),
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(cfg, logger)

	// Inbound timeouts to mitigate slow-client attacks. Relay calls may take up
	// to relay.timeout_seconds, so writes get that plus headroom.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = cfg.Relay.Timeout() + 15*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger, "/health", cfg.Metrics.Path))
	if cfg.Metrics.Enabled {
		e.Use(middleware.Metrics(m))
	}
	e.Use(middleware.CORS(cfg.Server.CORSOrigins))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newTransportHandle brings the anonymizing transport up before anything can
// relay through it. Bootstrap blocks construction, so a start failure aborts
// the whole application. An interrupt during bootstrap cancels it.
func newTransportHandle(lc fx.Lifecycle, guard *bootGuard, factory transport.ClientFactory, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*transport.Handle, error) {
	mgr := transport.NewManager(factory, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := mgr.Initialize(ctx, transport.Options{
		Enabled:        cfg.Transport.Enabled,
		SocksPort:      cfg.Transport.SocksPort,
		StartupTimeout: cfg.Transport.StartupTimeout(),
	})
	if err != nil {
		return nil, err
	}
	guard.track(mgr, h)

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return mgr.Shutdown(h)
		},
	})
	return h, nil
}

// bootGuard remembers the transport started while the graph is built.
type bootGuard struct {
	mu  sync.Mutex
	mgr *transport.Manager
	h   *transport.Handle
}

func (g *bootGuard) track(mgr *transport.Manager, h *transport.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mgr, g.h = mgr, h
}

// release stops the tracked transport, if any. Shutdown is idempotent, so
// releasing after a normal stop is a no-op.
func (g *bootGuard) release() error {
	g.mu.Lock()
	mgr, h := g.mgr, g.h
	g.mgr, g.h = nil, nil
	g.mu.Unlock()

	if mgr == nil {
		return nil
	}
	return mgr.Shutdown(h)
}

func newOverlayClient(lc fx.Lifecycle, h *transport.Handle, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*client.OverlayClient, error) {
	c, err := client.NewOverlayClient(h, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(c.Close))
	return c, nil
}

func newRelayService(h *transport.Handle, c *client.OverlayClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *service.RelayService {
	return service.NewRelayService(h, c, cfg, logger, m)
}

func newNetwork(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (network.Subsystem, error) {
	n, err := network.NewStatic(cfg.Network.BootstrapNodes, logger)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: n.Init,
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping network subsystem")
			return n.Stop(ctx)
		},
	})
	return n, nil
}

func newReporter(cfg *config.Config, n network.Subsystem, logger *slog.Logger, m *metrics.Metrics) *status.Reporter {
	return status.NewReporter(cfg.Node.Fingerprint, n, logger, m)
}

func newTaskGroup(cfg *config.Config, r *status.Reporter, logger *slog.Logger) (*tasks.Group, error) {
	g := tasks.New(logger)
	peerEvery := time.Duration(cfg.Network.PeerLogIntervalSeconds) * time.Second
	reportEvery := time.Duration(cfg.Network.StatusReportIntervalSeconds) * time.Second
	if err := errors.Join(
		g.Every("peer-status", peerEvery, r.LogPeers),
		g.Every("status-report", reportEvery, r.Report),
	); err != nil {
		return nil, err
	}
	return g, nil
}

func startTasks(lc fx.Lifecycle, g *tasks.Group) {
	lc.Append(fx.Hook{
		// Tasks outlive the start context; Stop cancels them.
		OnStart: func(_ context.Context) error {
			return g.Start(context.Background())
		},
		OnStop: func(_ context.Context) error {
			return g.Stop()
		},
	})
}

func logStartup(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
	mode := "development"
	if cfg.Node.IsProduction() {
		mode = "production"
	}
	logger.Info("anon-relay starting",
		"version", version,
		"mode", mode,
		"fingerprint", cfg.Node.Fingerprint,
		"transport_enabled", cfg.Transport.Enabled,
		"nickname", cfg.Node.Nickname,
	)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			e.Listener = ln
			logger.Info("starting server", "addr", ln.Addr().String())
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
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
