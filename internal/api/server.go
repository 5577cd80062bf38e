// Package api assembles the trading desk and serves it over HTTP, WebSocket
// and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"

	"algodesk/internal/broker"
	"algodesk/internal/config"
	"algodesk/internal/domain"
	"algodesk/internal/engine"
	"algodesk/internal/gather"
	"algodesk/internal/httpapi"
	"algodesk/internal/live"
	"algodesk/internal/marketdata"
	"algodesk/internal/store"
	"algodesk/internal/strategy"
	"algodesk/internal/strategy/builtins"
	"algodesk/internal/tradeparams"
	"algodesk/internal/util"
)

const (
	recordFlushInterval = 30 * time.Second
	connectTimeout      = 15 * time.Second
	connectAttempts     = 3
	shutdownTimeout     = 10 * time.Second
	paramsFile          = "strategy_params.json"
)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	httpAddr string
	grpcAddr string

	bus        *live.Bus
	notify     *live.Notifier
	router     *engine.Router
	session    *engine.Session
	dispatcher *engine.Dispatcher
	tracker    *engine.Tracker
	recorder   *store.TickRecorder
	journal    *store.SQLiteStore
	connector  httpapi.Connector
	hub        *Hub
	api        *httpapi.Server

	mu      sync.Mutex
	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer wires the desk from cfg. It opens the order journal but does not
// listen or connect to the broker.
func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	mode, err := domain.ParseMode(cfg.Trading.DefaultMode)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		httpAddr:  net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		bus:       live.NewBus(),
		connector: AlpacaConnector{BatchWindow: cfg.Trading.BatchWindow},
	}
	if cfg.Server.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	}
	s.notify = live.NewNotifier(s.bus, log)
	quotes := marketdata.NewStore()

	routerCfg := engine.RouterConfig{
		Quotes:        quotes,
		Risk:          engine.NewRiskManager(cfg.Trading.MaxQuantity),
		Publisher:     s.bus,
		Notifier:      s.notify,
		Logger:        log,
		BrokerTimeout: cfg.Trading.BrokerTimeout,
	}
	if cfg.Storage.SQLitePath != "" {
		s.journal, err = store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening order journal: %w", err)
		}
		routerCfg.Journal = s.journal
	}
	s.router = engine.NewRouter(routerCfg)
	s.dispatcher = engine.NewDispatcher(s.router, cfg.Trading.DispatchWorkers, cfg.Trading.DispatchQueue, log)
	s.tracker = engine.NewTracker(s.router, cfg.Trading.PollInterval, cfg.Trading.PollRatePerMin, log)

	registry := strategy.NewRegistry()
	builtins.Register(registry, cfg.Strategy.Symbol)

	ticks := store.NewParquetStore(cfg.Storage.DataDir)
	params := tradeparams.NewStore(filepath.Join(cfg.Storage.DataDir, paramsFile), s.bus, log)
	sessCfg := engine.SessionConfig{
		Mode:       mode,
		Router:     s.router,
		Dispatcher: s.dispatcher,
		Host:       strategy.NewHost(s.notify),
		Quotes:     quotes,
		Publisher:  s.bus,
		Notifier:   s.notify,
		Replayer:   strategy.NewBacktester(ticks),
		Params:     params,
		Reconnect: engine.ReconnectPolicy{
			Backoff:     util.Backoff{Base: cfg.Trading.Reconnect.BaseDelay, Max: cfg.Trading.Reconnect.MaxDelay},
			MaxAttempts: cfg.Trading.Reconnect.MaxAttempts,
		},
		Logger: log,
	}
	if cfg.Storage.RecordTicks {
		s.recorder = store.NewTickRecorder(ticks, recordFlushInterval, log)
		sessCfg.Recorder = s.recorder
	}
	s.session = engine.NewSession(sessCfg)
	s.tracker.OnUpdate(s.session.DeliverOrderUpdate)

	if name := cfg.Strategy.Builtin; name != "" {
		u, ok := registry.New(name)
		if !ok {
			s.Close()
			return nil, fmt.Errorf("unknown built-in strategy %q", name)
		}
		if err := s.session.LoadStrategy(u); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.hub = NewHub(s.bus, cfg.Server.CORSOrigin, s.session.State, log)
	s.api = httpapi.NewServer(httpapi.Deps{
		Session:         s.session,
		Registry:        registry,
		Params:          params,
		Connector:       s.connector,
		Alpaca:          cfg.Alpaca,
		StrategyDir:     cfg.Strategy.Dir,
		CallbackTimeout: cfg.Strategy.CallbackTimeout,
		DefaultMode:     mode,
		CORSOrigin:      cfg.Server.CORSOrigin,
		WebSocket:       s.hub,
		Notifier:        s.notify,
		Logger:          log,
	})
	return s, nil
}

// Session returns the trading session.
func (s *Server) Session() *engine.Session { return s.session }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.api.Handler() }

// ListenAndServe starts the background workers and the HTTP and gRPC
// listeners and blocks until the context is cancelled or a fatal error
// occurs. It stops the session and shuts the listeners down before
// returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(s.hub.Run)
	run(s.dispatcher.Run)
	run(s.tracker.Run)
	if s.recorder != nil {
		run(s.recorder.Run)
	}

	errCh := make(chan error, 2)

	ln, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("http listen: %w", err)
	}
	httpSrv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = httpSrv
	s.mu.Unlock()
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	s.log.Info("http listening", "addr", ln.Addr().String())

	if s.grpcAddr != "" {
		gln, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
		} else {
			gs := newGRPCServer(s.bus, s.log)
			s.mu.Lock()
			s.grpcSrv = gs
			s.mu.Unlock()
			go func() {
				if err := gs.Serve(gln); err != nil {
					errCh <- fmt.Errorf("grpc: %w", err)
				}
			}()
			s.log.Info("grpc listening", "addr", gln.Addr().String())
		}
	}

	if s.cfg.Alpaca.Configured() {
		go s.autoConnect(ctx)
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		s.log.Error("server failed", "error", err)
	}

	s.session.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if serr := s.Shutdown(shutdownCtx); serr != nil {
		s.log.Warn("shutdown", "error", serr)
	}
	cancel()
	wg.Wait()
	s.Close()
	return err
}

// autoConnect applies credentials from the configuration file. Failures are
// reported and leave the desk usable for PAPER and BACKTEST.
func (s *Server) autoConnect(ctx context.Context) {
	if err := s.cfg.Alpaca.Validate(); err != nil {
		s.notify.Warn("Broker not connected: " + err.Error())
		return
	}
	var (
		b    broker.Broker
		feed gather.Feed
	)
	err := util.Retry(ctx, connectAttempts, time.Second, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		var err error
		b, feed, err = s.connector.Connect(attemptCtx, s.cfg.Alpaca)
		if err != nil {
			s.log.Warn("connect attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.notify.Warn("Broker not connected: " + err.Error())
		}
		return
	}
	s.router.SetLiveBroker(b)
	if feed != nil {
		s.session.SetFeed(feed)
	}
	s.notify.Success("APIs configured successfully")
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.httpSrv, s.grpcSrv = nil, nil
	s.mu.Unlock()

	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	if httpSrv != nil {
		return httpSrv.Shutdown(ctx)
	}
	return nil
}

// Close releases the order journal.
func (s *Server) Close() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warn("closing order journal", "error", err)
		}
		s.journal = nil
	}
}
