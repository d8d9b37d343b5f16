package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/config"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/logging"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
	"github.com/wricardo/mcp-training/tictactoe/transport/mcp"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

const shutdownTimeout = 10 * time.Second

// app holds the services both modes share.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	manager *session.Manager
	service service.GameService
	hub     *websocket.Hub
	api     *api.Server
	closers []func() error
}

// newApp wires persistence, the session store, the game service, the hub
// and the REST API. Collectors go to reg when it is not nil.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	persistence, err := a.newPersistence(ctx)
	if err != nil {
		return nil, err
	}

	a.manager = session.NewManager(session.Options{
		Persistence:       persistence,
		Logger:            logger.Named("session"),
		FinishedRetention: cfg.Game.FinishedRetention,
		AbandonedLobbyAge: cfg.Game.AbandonedLobbyAge,
	})
	if n, err := a.manager.LoadPersistedSessions(ctx); err != nil {
		logger.Warn("failed to load persisted sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("restored sessions", zap.Int("count", n))
	}

	a.service = service.NewGameService(a.manager,
		service.WithLogger(logger.Named("service")),
		service.WithAbandonedLobbyAge(cfg.Game.AbandonedLobbyAge))

	if reg != nil {
		metrics.Register(reg, a.manager.Count)
	}

	a.hub, err = websocket.NewHub(websocket.Options{
		PoolSize: cfg.WebSocket.PoolSize,
		Logger:   logger.Named("websocket"),
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.api = api.NewServer(a.service, a.hub, logger.Named("api"))
	a.hub.SetHandler(a.api.Dispatcher())
	return a, nil
}

// newPersistence builds the configured backend. Memory means none.
func (a *app) newPersistence(ctx context.Context) (session.SessionPersistence, error) {
	switch a.cfg.Store.Backend {
	case config.BackendFile:
		fp, err := session.NewFilePersistence(a.cfg.Store.SessionsDir)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using file store", zap.String("dir", a.cfg.Store.SessionsDir))
		return fp, nil

	case config.BackendRedis:
		client, err := session.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using redis store", zap.String("addr", a.cfg.Redis.Addr))
		return session.NewRedisPersistence(client, a.cfg.Redis.KeyPrefix, a.cfg.Redis.TTL), nil
	}

	a.logger.Info("using in-memory store")
	return nil, nil
}

// start runs the hub loop and the eviction janitor in g.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.manager.RunJanitor(ctx, a.cfg.Game.SweepInterval) })
}

// handler mounts the REST API at the root and the MCP endpoint at /mcp.
// The MCP tools proxy to baseURL.
func (a *app) handler(baseURL string) http.Handler {
	mcpClient := mcp.NewClient(baseURL, a.logger.Named("mcp"))

	mux := http.NewServeMux()
	mux.Handle("/", a.api)
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpClient.GetMCPServer(), server.WithStateLess(true)))
	return mux
}

// close flushes sessions to persistence and releases backend clients.
func (a *app) close(ctx context.Context) {
	if a.manager != nil {
		if err := a.manager.SaveAllSessions(ctx); err != nil {
			a.logger.Warn("failed to save sessions on shutdown", zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// runHTTPServer serves the REST API, WebSocket hub, metrics and /mcp until
// a signal arrives. If ngrok is enabled it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version), zap.String("mode", "server"))

	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return errors.Wrap(err, "initialize services")
	}

	addr := cfg.Addr()
	handler := a.handler("http://" + addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.start(gctx, g)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("api", "http://"+addr+"/api"),
			zap.String("websocket", "ws://"+addr+"/ws?player=<login>"),
			zap.String("mcp", "http://"+addr+"/mcp"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if cfg.Ngrok.Enabled {
		g.Go(func() error { return runNgrok(gctx, cfg.Ngrok, handler, logger.Named("ngrok")) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.close(closeCtx)

	logger.Info("server stopped")
	return err
}

// runNgrok serves handler through an ngrok tunnel until ctx is done. A
// tunnel that cannot start is logged, not fatal.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler, logger *zap.Logger) error {
	if cfg.AuthToken == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN or NGROK_AUTH_TOKEN)")
		return nil
	}

	tunnel := ngrokConfig.HTTPEndpoint()
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		logger.Info("using custom ngrok domain", zap.String("domain", cfg.Domain))
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return nil
	}
	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	url := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", url),
		zap.String("api", url+"/api"),
		zap.String("mcp", url+"/mcp"))

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		logger.Warn("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
	return nil
}

// runStdioMCP serves MCP over stdio. It proxies to cfg.APIURL, or to a
// server already listening on the configured port, or else to an internal
// API bound to a random loopback port.
func runStdioMCP(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	baseURL := cfg.APIURL
	if baseURL == "" {
		external := fmt.Sprintf("http://localhost:%d", cfg.Port)
		if apiReachable(ctx, external) {
			logger.Info("external API server found, using it for MCP", zap.String("url", external))
			baseURL = external
		}
	}

	if baseURL == "" {
		logger.Info("no external API server found, starting internal HTTP server")
		a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
		if err != nil {
			return errors.Wrap(err, "initialize services")
		}
		defer a.close(context.Background())

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return errors.Wrap(err, "listen")
		}
		baseURL = "http://" + listener.Addr().String()
		internal := &http.Server{Handler: a.api}

		a.start(gctx, g)
		g.Go(func() error {
			if err := internal.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "internal http server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return internal.Close()
		})
		logger.Info("internal HTTP server started", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL, logger.Named("mcp"))
	logger.Info("MCP stdio server ready", zap.String("api", baseURL))

	err = server.ServeStdio(mcpClient.GetMCPServer())
	cancel()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// apiReachable reports whether a healthy API answers at baseURL.
func apiReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
