package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/server/middleware"
	"github.com/a-essam23/go-relay/internal/storage"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/a-essam23/go-relay/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type closer interface {
	Close(err error)
}

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	files        *storage.Store
	wg           sync.WaitGroup
	http         *http.Server
	handler      http.Handler
	config       *config.Config

	ctx          context.Context
	stopDispatch context.CancelFunc
}

func NewApp(logger *slog.Logger, rootContx context.Context, cfg *config.Config) (*App, error) {
	stateManager := statemanager.NewInMemoryManager(logger,
		statemanager.WithHistoryLimit(cfg.Relay.HistoryLimit),
		statemanager.WithDefaultRoom(cfg.Relay.DefaultRoom),
	)
	eventRouter, err := router.NewEventRouter(logger, stateManager, router.OptionsFromConfig(cfg.Relay))
	if err != nil {
		return nil, err
	}

	var files *storage.Store
	if cfg.Upload.InMemory {
		files, err = storage.NewMemoryStore(cfg.Upload)
	} else {
		files, err = storage.NewStore(nil, cfg.Upload)
	}
	if err != nil {
		return nil, err
	}

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		eventRouter:  eventRouter,
		files:        files,
		config:       cfg,
		ctx:          rootContx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(ip string) {
		oldest, found := stateManager.OldestConnectionByIP(ip)
		if !found {
			return
		}
		if c, ok := oldest.Peer.(closer); ok {
			logger.Info("Cycling connection: closing oldest", slog.String("ip", ip), slog.String("connID", oldest.ID.String()))
			c.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.NewConnectionLimiter(
				logger,
				stateManager.CountConnectionsByIP,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	mux.HandleFunc("GET /api/messages", app.handleMessages)
	mux.HandleFunc("GET /api/users", app.handleUsers)
	mux.HandleFunc("POST /api/upload", app.handleUpload)
	mux.Handle("GET "+files.URLPrefix(), http.StripPrefix(files.URLPrefix(), files.Handler()))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("go-relay chat server is running"))
	})

	app.handler = middleware.Chain(mux,
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewCORS(app.config.Server.AllowedOrigins),
	)
	app.http = &http.Server{Addr: app.config.Server.Address, Handler: app.handler, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

// Handler exposes the routed HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Run() error {
	dispatchCtx, stop := context.WithCancel(context.Background())
	a.stopDispatch = stop
	go a.eventRouter.Run(dispatchCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
	case err := <-errCh:
		a.Shutdown()
		return err
	}
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	var ip string
	if reqMeta != nil {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.config.Server.AllowedOrigins,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// the close handler is wired before registration, so a close that lands
	// while the connection is being registered still deregisters it.
	onClose := func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.eventRouter.HandleDisconnect(id, err)
	}
	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.eventRouter.HandleMessage,
		onClose,
		a.logger,
	)
	// register new connection
	if _, err := a.stateManager.RegisterConnection(conn, ip); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// closed before registration finished: its disconnect may have been
	// dispatched too early, so send another one.
	select {
	case <-conn.Done():
		a.eventRouter.HandleDisconnect(conn.ID(), nil)
		return
	default:
	}

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, peer := range a.stateManager.Peers() {
		if c, ok := peer.(closer); ok {
			c.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	if a.stopDispatch != nil {
		a.stopDispatch()
		<-a.eventRouter.Done()
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
