package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"algodesk/internal/broker"
	"algodesk/internal/config"
	"algodesk/internal/domain"
	"algodesk/internal/engine"
	"algodesk/internal/gather"
	"algodesk/internal/live"
	"algodesk/internal/store"
	"algodesk/internal/strategy"
	"algodesk/internal/tradeparams"
)

// maxUploadSize bounds strategy uploads.
const maxUploadSize = 1 << 20

// Connector turns credentials into a live broker and market data feed.
type Connector interface {
	Connect(ctx context.Context, creds config.Alpaca) (broker.Broker, gather.Feed, error)
}

// Deps wires the API server to the trading desk.
type Deps struct {
	Session  *engine.Session
	Registry *strategy.Registry
	// Connector applies POST /config. Nil disables runtime configuration.
	Connector Connector
	// Alpaca supplies defaults for fields a config request leaves empty.
	Alpaca config.Alpaca
	// Params serves the strategy parameter routes when set.
	Params *tradeparams.Store
	// StrategyDir keeps uploaded scripts. Empty disables saving.
	StrategyDir     string
	CallbackTimeout time.Duration
	DefaultMode     domain.Mode
	CORSOrigin      string
	// WebSocket serves GET /ws when set.
	WebSocket http.Handler
	Notifier  *live.Notifier
	Logger    *slog.Logger
}

// Server serves the trading desk HTTP API.
type Server struct {
	session   *engine.Session
	router    *engine.Router
	registry  *strategy.Registry
	params    *tradeparams.Store
	connector Connector
	alpaca    config.Alpaca
	dir       string
	timeout   time.Duration
	mode      domain.Mode
	origin    string
	ws        http.Handler
	notify    *live.Notifier
	log       *slog.Logger
}

// NewServer creates a new API server.
func NewServer(d Deps) *Server {
	s := &Server{
		session:   d.Session,
		router:    d.Session.Router(),
		registry:  d.Registry,
		params:    d.Params,
		connector: d.Connector,
		alpaca:    d.Alpaca,
		dir:       d.StrategyDir,
		timeout:   d.CallbackTimeout,
		mode:      d.DefaultMode,
		origin:    d.CORSOrigin,
		ws:        d.WebSocket,
		notify:    d.Notifier,
		log:       d.Logger,
	}
	if s.registry == nil {
		s.registry = strategy.NewRegistry()
	}
	if s.mode == "" {
		s.mode = domain.ModePaper
	}
	if s.origin == "" {
		s.origin = "*"
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notify == nil {
		s.notify = live.NewNotifier(live.Discard, s.log)
	}
	return s
}

// Handler returns the chi router with CORS middleware. Every API route is
// served both at the root and under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	s.RegisterRoutes(r)
	r.Route("/api", s.RegisterRoutes)
	return r
}

// RegisterRoutes registers the trading routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/config", s.handleConfig)

	r.Post("/strategy/upload", s.handleUpload)
	r.Post("/strategy/load", s.handleLoadStrategy)
	r.Get("/strategies", s.handleStrategies)
	if s.params != nil {
		r.Get("/strategy/params", s.handleParams)
		r.Put("/strategy/params/{strategy}/{key}", s.handleSetParam)
		r.Delete("/strategy/params/{strategy}/{key}", s.handleDeleteParam)
	}

	r.Post("/trading/start", s.handleStart)
	r.Post("/trading/stop", s.handleStop)
	r.Get("/status", s.handleStatus)

	r.Post("/orders", s.handlePlaceOrder)
	r.Get("/orders", s.handleOrders)
	r.Get("/orders/history", s.handleHistory)
	r.Get("/positions", s.handlePositions)
	r.Get("/pnl", s.handlePnL)

	r.Post("/backtest/replay", s.handleReplay)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Status: statusError, Message: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		cfgErr  *domain.ConfigurationError
		loadErr *domain.StrategyLoadError
		callErr *domain.BrokerCallError
	)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNoStrategy),
		errors.Is(err, domain.ErrInvalidIntent),
		errors.Is(err, domain.ErrBrokerUnavailable),
		errors.As(err, &cfgErr),
		errors.As(err, &loadErr),
		errors.As(err, &callErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// modeParam reads the mode query parameter, defaulting to the session mode.
func (s *Server) modeParam(r *http.Request) (domain.Mode, error) {
	v := r.URL.Query().Get("mode")
	if v == "" {
		return s.session.Mode(), nil
	}
	return domain.ParseMode(v)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OKResponse{Status: "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.connector == nil {
		writeError(w, http.StatusNotImplemented, "runtime configuration is disabled")
		return
	}
	var req ConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds := s.alpaca
	creds.APIKey = strings.TrimSpace(req.APIKey)
	creds.APISecret = strings.TrimSpace(req.APISecret)
	if req.BaseURL != "" {
		creds.BaseURL = req.BaseURL
	}
	if req.StreamURL != "" {
		creds.StreamURL = req.StreamURL
	}
	if req.Feed != "" {
		creds.Feed = req.Feed
	}
	if len(req.Symbols) > 0 {
		creds.Symbols = nil
		for _, sym := range req.Symbols {
			if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
				creds.Symbols = append(creds.Symbols, sym)
			}
		}
	}
	if err := creds.Validate(); err != nil {
		s.notify.Error("Config failed: " + err.Error())
		writeError(w, statusFor(err), err.Error())
		return
	}

	b, feed, err := s.connector.Connect(r.Context(), creds)
	if err != nil {
		s.notify.Error("Config failed: " + err.Error())
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	s.router.SetLiveBroker(b)
	resp := ConfigResponse{Status: statusSuccess, Broker: b.Name(), Symbols: creds.Symbols}
	if feed != nil {
		s.session.SetFeed(feed)
		resp.Feed = feed.Name()
	}
	s.notify.Success("APIs configured successfully")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	filename := filepath.Base(hdr.Filename)
	if !strings.EqualFold(filepath.Ext(filename), strategy.ScriptExt) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid strategy file %q, want a %s file", filename, strategy.ScriptExt))
		return
	}
	src, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
		return
	}

	u, err := strategy.LoadScript(filename, src, s.timeout)
	if err != nil {
		s.notify.Error("Strategy load failed: " + err.Error())
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.session.LoadStrategy(u); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.saveScript(filename, src); err != nil {
		s.log.Warn("saving strategy script", "file", filename, "error", err)
	}
	writeJSON(w, http.StatusOK, StrategyResponse{
		Status:       statusSuccess,
		Filename:     filename,
		Strategy:     u.Name(),
		Kind:         u.Kind(),
		Capabilities: u.Capabilities(),
	})
}

func (s *Server) saveScript(filename string, src []byte) error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, filename), src, 0o644)
}

func (s *Server) handleLoadStrategy(w http.ResponseWriter, r *http.Request) {
	var req LoadStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "strategy name is required")
		return
	}

	u, err := s.resolveStrategy(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.notify.Error("Strategy load failed: " + err.Error())
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.session.LoadStrategy(u); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StrategyResponse{
		Status:       statusSuccess,
		Strategy:     u.Name(),
		Kind:         u.Kind(),
		Capabilities: u.Capabilities(),
	})
}

// resolveStrategy prefers a registered built-in over a saved script.
func (s *Server) resolveStrategy(name string) (*strategy.Unit, error) {
	if u, ok := s.registry.New(name); ok {
		return u, nil
	}
	if s.dir == "" {
		return nil, fmt.Errorf("strategy %q: %w", name, fs.ErrNotExist)
	}
	filename := filepath.Base(name)
	if filepath.Ext(filename) == "" {
		filename += strategy.ScriptExt
	}
	src, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}
	return strategy.LoadScript(filename, src, s.timeout)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	resp := StrategiesResponse{
		Status:  statusSuccess,
		Builtin: s.registry.List(),
		Scripts: []string{},
		Loaded:  s.session.Host().Name(),
	}
	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), strategy.ScriptExt) {
				resp.Scripts = append(resp.Scripts, e.Name())
			}
		}
		sort.Strings(resp.Scripts)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	params := s.params.Snapshot()
	if name := r.URL.Query().Get("strategy"); name != "" {
		params = map[string]map[string]float64{name: s.params.Get(name)}
	}
	writeJSON(w, http.StatusOK, ParamsResponse{Status: statusSuccess, Params: params})
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req ParamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	name, key := chi.URLParam(r, "strategy"), chi.URLParam(r, "key")
	if err := s.params.Set(name, key, *req.Value); err != nil {
		s.log.Error("saving strategy parameter", "strategy", name, "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.notify.Info(fmt.Sprintf("Parameter %s.%s set to %v", name, key, *req.Value))
	writeJSON(w, http.StatusOK, ParamsResponse{Status: statusSuccess, Params: map[string]map[string]float64{name: s.params.Get(name)}})
}

func (s *Server) handleDeleteParam(w http.ResponseWriter, r *http.Request) {
	name, key := chi.URLParam(r, "strategy"), chi.URLParam(r, "key")
	found, err := s.params.Delete(name, key)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case !found:
		writeError(w, http.StatusNotFound, fmt.Sprintf("parameter %s.%s not set", name, key))
	default:
		writeJSON(w, http.StatusOK, OKResponse{Status: statusSuccess})
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := s.mode
	if req.Mode != "" {
		m, err := domain.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}
	if err := s.session.Start(mode); err != nil {
		s.notify.Error("Start failed: " + err.Error())
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{Status: statusSuccess, Mode: mode})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.session.Stop()
	writeJSON(w, http.StatusOK, OKResponse{Status: statusSuccess, Message: "trading stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.session.State()
	lb := s.router.LiveBroker()
	resp := StatusResponse{
		Status:           statusSuccess,
		Mode:             state.Mode,
		Running:          state.Running,
		Strategy:         state.Strategy,
		BrokerConfigured: broker.Configured(lb),
		Broker:           lb.Name(),
		FeedConfigured:   s.session.FeedConfigured(),
		FeedActive:       s.session.FeedActive(),
		ReplayActive:     s.session.ReplayActive(),
		Orders:           s.router.Orders().Len(),
		Positions:        len(s.router.Portfolio(state.Mode).Positions),
		Symbols:          s.session.Quotes().Len(),
	}
	if caps, ok := s.session.Host().Capabilities(); ok {
		resp.StrategyLoaded = true
		resp.Capabilities = &caps
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := s.session.Mode()
	if req.Mode != "" {
		m, err := domain.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	intent := domain.OrderIntent{
		Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Quantity:  req.Quantity,
		Side:      domain.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		OrderType: domain.OrderTypeMarket,
	}
	if req.OrderType != "" {
		intent.OrderType = domain.OrderType(strings.ToUpper(strings.TrimSpace(req.OrderType)))
	}
	if req.Price != nil {
		p := decimal.NewFromFloat(*req.Price)
		intent.LimitPrice = &p
	}

	rec := s.router.Place(r.Context(), intent, mode)
	if rec.Status == domain.OrderStatusFailed || rec.Status == domain.OrderStatusRejected {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: statusError, Message: rec.Error, Order: &rec})
		return
	}
	writeJSON(w, http.StatusOK, OrderResponse{Status: statusSuccess, Order: rec})
}

// orderFilter reads mode, status and limit query parameters.
func orderFilter(r *http.Request) (store.OrderFilter, error) {
	q := r.URL.Query()
	var f store.OrderFilter
	if v := q.Get("mode"); v != "" {
		m, err := domain.ParseMode(v)
		if err != nil {
			return f, err
		}
		f.Mode = m
	}
	if v := q.Get("status"); v != "" {
		f.Status = domain.OrderStatus(strings.ToUpper(v))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OrdersResponse{Status: statusSuccess, Orders: nonNil(s.router.Orders().List(f))})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.router.History(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OrdersResponse{Status: statusSuccess, Orders: nonNil(records)})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	mode, err := s.modeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := s.router.Positions(r.Context(), mode)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Status: statusSuccess, Mode: mode, Positions: positions})
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	mode, err := s.modeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PnLResponse{Status: statusSuccess, Mode: mode, PnL: s.router.Portfolio(mode).PnL})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseTime(req.Start, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := parseTime(req.End, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}

	err = s.session.Replay(strategy.ReplayRequest{
		Symbols: req.Symbols,
		Range:   gather.DateRange{Start: start, End: end},
		Speed:   req.Speed,
	})
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, OKResponse{Status: statusSuccess, Message: "replay started"})
}

// parseTime accepts RFC 3339 or a YYYY-MM-DD date in UTC. A date read as an
// end bound covers the whole day.
func parseTime(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	if end {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}

func nonNil(records []domain.OrderRecord) []domain.OrderRecord {
	if records == nil {
		return []domain.OrderRecord{}
	}
	return records
}
