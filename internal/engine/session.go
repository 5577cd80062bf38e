package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"algodesk/internal/domain"
	"algodesk/internal/gather"
	"algodesk/internal/live"
	"algodesk/internal/marketdata"
	"algodesk/internal/strategy"
	"algodesk/internal/util"
)

// feedStopTimeout bounds how long Stop waits for a feed to shut down.
const feedStopTimeout = 5 * time.Second

// TickRecorder receives live ticks for persistence.
type TickRecorder interface {
	Record(batch domain.TickBatch)
}

// Replayer streams historical ticks into a sink.
type Replayer interface {
	Run(ctx context.Context, req strategy.ReplayRequest, sink gather.Sink) (strategy.ReplayResult, error)
}

// ReconnectPolicy controls how a lost feed is restarted. Zero MaxAttempts
// retries for as long as the session runs.
type ReconnectPolicy struct {
	Backoff     util.Backoff
	MaxAttempts int
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Mode       domain.Mode
	Router     *Router
	Dispatcher *Dispatcher
	Host       *strategy.Host
	Quotes     *marketdata.Store
	Publisher  live.Publisher
	Notifier   *live.Notifier
	Recorder   TickRecorder
	Replayer   Replayer
	// Params supplies strategy parameters to the trading context.
	Params    strategy.ParamSource
	Reconnect ReconnectPolicy
	Logger    *slog.Logger
}

// Session is the trading session controller. It is STOPPED until Start
// succeeds and RUNNING until Stop. Transitions are serialised; the running
// flag and mode can be read without blocking.
type Session struct {
	router     *Router
	dispatcher *Dispatcher
	host       *strategy.Host
	quotes     *marketdata.Store
	pub        live.Publisher
	notify     *live.Notifier
	recorder   TickRecorder
	replayer   Replayer
	params     strategy.ParamSource
	policy     ReconnectPolicy
	log        *slog.Logger

	running atomic.Bool
	mode    atomic.Value // domain.Mode

	mu           sync.Mutex
	feed         gather.Feed
	feedCancel   context.CancelFunc
	feedDone     chan struct{}
	replayCancel context.CancelFunc
	replaySeq    int
}

// NewSession creates a stopped session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModePaper
	}
	if cfg.Publisher == nil {
		cfg.Publisher = live.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = live.NewNotifier(cfg.Publisher, cfg.Logger)
	}
	if cfg.Quotes == nil {
		cfg.Quotes = marketdata.NewStore()
	}
	if cfg.Host == nil {
		cfg.Host = strategy.NewHost(cfg.Notifier)
	}
	if cfg.Reconnect.Backoff.Base <= 0 {
		cfg.Reconnect.Backoff.Base = time.Second
	}
	s := &Session{
		router:     cfg.Router,
		dispatcher: cfg.Dispatcher,
		host:       cfg.Host,
		quotes:     cfg.Quotes,
		pub:        cfg.Publisher,
		notify:     cfg.Notifier,
		recorder:   cfg.Recorder,
		replayer:   cfg.Replayer,
		params:     cfg.Params,
		policy:     cfg.Reconnect,
		log:        cfg.Logger.With("component", "session"),
	}
	s.mode.Store(cfg.Mode)
	return s
}

// Mode returns the current mode.
func (s *Session) Mode() domain.Mode {
	return s.mode.Load().(domain.Mode)
}

// Running reports whether the session is RUNNING.
func (s *Session) Running() bool {
	return s.running.Load()
}

// State returns a snapshot of the session state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState{Mode: s.Mode(), Running: s.Running(), Strategy: s.host.Name()}
}

// Host returns the strategy host.
func (s *Session) Host() *strategy.Host { return s.host }

// Quotes returns the market data store.
func (s *Session) Quotes() *marketdata.Store { return s.quotes }

// Router returns the order router.
func (s *Session) Router() *Router { return s.router }

// LoadStrategy makes u the session's strategy. It fails with
// ErrInvalidState while the session runs.
func (s *Session) LoadStrategy(u *strategy.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return fmt.Errorf("%w: stop trading before loading a strategy", domain.ErrInvalidState)
	}
	s.host.Load(u)
	s.publishState()
	return nil
}

// Start runs the strategy's initialize callback, activates the feed unless
// mode is BACKTEST and marks the session RUNNING. On error the state is
// unchanged.
func (s *Session) Start(mode domain.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("%w: already running", domain.ErrInvalidState)
	}
	if !s.host.Loaded() {
		return domain.ErrNoStrategy
	}
	mode, err := domain.ParseMode(string(mode))
	if err != nil {
		return err
	}

	s.mode.Store(mode)
	if mode == domain.ModeBacktest {
		s.router.Simulator(domain.ModeBacktest).Reset()
	}
	// Callback errors are reported by the host and do not block the start.
	_ = s.host.Initialize(s.context(mode))

	if mode != domain.ModeBacktest {
		s.startFeedLocked()
	}
	s.running.Store(true)
	s.publishState()
	s.notify.Success(fmt.Sprintf("Trading started in %s mode", strings.ToLower(string(mode))))
	return nil
}

// Stop deactivates the feed, cancels a running replay and marks the session
// STOPPED. Stopping a stopped session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return
	}
	s.stopFeedLocked()
	if s.replayCancel != nil {
		s.replayCancel()
		s.replayCancel = nil
	}
	s.publishState()
	s.notify.Warn("Trading stopped")
}

// SetFeed replaces the market data feed, restarting it when active.
func (s *Session) SetFeed(f gather.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.feedCancel != nil
	if active {
		s.stopFeedLocked()
	}
	s.feed = f
	if active {
		s.startFeedLocked()
	}
}

// FeedConfigured reports whether a feed is set.
func (s *Session) FeedConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed != nil
}

// FeedActive reports whether the feed is running.
func (s *Session) FeedActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedCancel != nil
}

// IngestTicks stores the batch, hands it to the strategy while running and
// emits a market_data event with the full quote snapshot.
func (s *Session) IngestTicks(batch domain.TickBatch) {
	if len(batch) == 0 {
		return
	}
	s.quotes.Apply(batch)
	if s.running.Load() {
		_ = s.host.OnTick(s.context(s.Mode()), batch)
	}
	s.pub.Publish(live.NewEvent(live.EventMarketData, s.quotes.Snapshot()))
}

// ingestLive records a live batch before ingesting it.
func (s *Session) ingestLive(batch domain.TickBatch) {
	if s.recorder != nil && len(batch) > 0 {
		s.recorder.Record(batch)
	}
	s.IngestTicks(batch)
}

// DeliverOrderUpdate hands a completed record to the strategy while the
// session runs.
func (s *Session) DeliverOrderUpdate(rec domain.OrderRecord) {
	if !s.running.Load() {
		return
	}
	_ = s.host.OnOrderUpdate(s.context(s.Mode()), rec)
}

// Replay streams recorded ticks through IngestTicks in the background. The
// session must be running in BACKTEST mode; Stop cancels the replay.
func (s *Session) Replay(req strategy.ReplayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() || s.Mode() != domain.ModeBacktest {
		return fmt.Errorf("%w: replay needs a running BACKTEST session", domain.ErrInvalidState)
	}
	if s.replayer == nil {
		return errors.New("tick history is not configured")
	}
	if s.replayCancel != nil {
		return fmt.Errorf("%w: a replay is already running", domain.ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.replaySeq++
	seq := s.replaySeq
	s.replayCancel = cancel
	s.notify.Info(fmt.Sprintf("Backtest replay started: %s to %s",
		req.Range.Start.Format(time.DateTime), req.Range.End.Format(time.DateTime)))

	go func() {
		res, err := s.replayer.Run(ctx, req, s.IngestTicks)
		cancel()

		s.mu.Lock()
		if s.replaySeq == seq {
			s.replayCancel = nil
		}
		s.mu.Unlock()

		switch {
		case errors.Is(err, context.Canceled):
			s.notify.Warn(fmt.Sprintf("Backtest replay cancelled after %d ticks", res.Ticks))
		case err != nil:
			s.notify.Error("Backtest replay failed: " + err.Error())
		default:
			s.notify.Success(fmt.Sprintf("Backtest replay finished: %d ticks in %d batches", res.Ticks, res.Batches))
		}
	}()
	return nil
}

// ReplayActive reports whether a replay is running.
func (s *Session) ReplayActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayCancel != nil
}

func (s *Session) publishState() {
	s.pub.Publish(live.NewEvent(live.EventStatus, s.State()))
}

// ---------------------------------------------------------------------------
// Feed supervision
// ---------------------------------------------------------------------------

// startFeedLocked starts the feed supervisor. Must be called with s.mu held.
func (s *Session) startFeedLocked() {
	if s.feed == nil {
		s.notify.Warn("No market data feed configured")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.feedCancel, s.feedDone = cancel, done
	go s.superviseFeed(ctx, s.feed, done)
}

// stopFeedLocked stops the feed supervisor and waits briefly for it. Must be
// called with s.mu held.
func (s *Session) stopFeedLocked() {
	if s.feedCancel == nil {
		return
	}
	s.feedCancel()
	select {
	case <-s.feedDone:
	case <-time.After(feedStopTimeout):
		s.log.Warn("feed did not stop in time")
	}
	s.feedCancel, s.feedDone = nil, nil
}

// superviseFeed runs the feed and restarts it with exponential backoff when
// the connection is lost. A run that lasted longer than the maximum delay
// resets the attempt count.
func (s *Session) superviseFeed(ctx context.Context, feed gather.Feed, done chan struct{}) {
	defer close(done)

	s.notify.Info("Market data feed connecting: " + feed.Name())
	attempt := 0
	for {
		started := time.Now()
		err := feed.Run(ctx, s.ingestLive)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream closed")
		}
		if maxDelay := s.policy.Backoff.Max; maxDelay > 0 && time.Since(started) >= maxDelay {
			attempt = 0
		}

		attempt++
		if s.policy.MaxAttempts > 0 && attempt > s.policy.MaxAttempts {
			s.notify.Error(fmt.Sprintf("Market data feed %s gave up after %d attempts: %v", feed.Name(), s.policy.MaxAttempts, err))
			return
		}
		delay := s.policy.Backoff.Delay(attempt - 1)
		s.notify.Warn(fmt.Sprintf("Market data feed %s disconnected, reconnecting in %s (attempt %d)", feed.Name(), delay, attempt),
			"error", err)
		if s.policy.Backoff.Sleep(ctx, attempt-1) != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Strategy context
// ---------------------------------------------------------------------------

func (s *Session) context(mode domain.Mode) *strategy.Context {
	deps := strategy.ContextDeps{
		Strategy:  s.host.Name(),
		Orders:    sessionOrders{s: s, mode: mode},
		Quotes:    s.quotes,
		Positions: sessionPositions{s: s, mode: mode},
		Notify:    s.notify,
	}
	if s.params != nil {
		deps.Params = s.params
	}
	return strategy.NewContext(mode, deps)
}

// sessionOrders places strategy orders. LIVE orders are queued on the
// dispatcher and their outcome comes back through onOrderUpdate; simulated
// orders, and LIVE orders the dispatcher refuses, are recorded before
// PlaceOrder returns.
type sessionOrders struct {
	s    *Session
	mode domain.Mode
}

func (o sessionOrders) PlaceOrder(intent domain.OrderIntent) (*domain.OrderRecord, error) {
	if o.mode == domain.ModeLive && o.s.dispatcher != nil {
		if err := o.s.dispatcher.Submit(intent, o.mode, o.s.DeliverOrderUpdate); err != nil {
			rec := o.s.router.Reject(intent, o.mode, fmt.Errorf("not dispatched: %w", err))
			return &rec, nil
		}
		return nil, nil
	}
	rec := o.s.router.Place(context.Background(), intent, o.mode)
	return &rec, nil
}

type sessionPositions struct {
	s    *Session
	mode domain.Mode
}

func (p sessionPositions) Positions() []domain.Position {
	return p.s.router.Portfolio(p.mode).Positions
}
