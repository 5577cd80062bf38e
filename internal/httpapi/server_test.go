package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algodesk/internal/broker"
	"algodesk/internal/config"
	"algodesk/internal/domain"
	"algodesk/internal/engine"
	"algodesk/internal/gather"
	"algodesk/internal/live"
	"algodesk/internal/marketdata"
	"algodesk/internal/strategy"
	"algodesk/internal/strategy/builtins"
	"algodesk/internal/tradeparams"
)

const tickScript = `
function onTick(ctx, ticks) {
	ctx.placeOrder(ticks[0].symbol, 1, "BUY");
}
`

type stubBroker struct{}

func (stubBroker) Name() string { return "stub" }
func (stubBroker) SubmitOrder(context.Context, domain.OrderIntent) (broker.Ack, error) {
	return broker.Ack{OrderID: "stub-1", Status: domain.OrderStatusPending}, nil
}
func (stubBroker) GetOrder(context.Context, string) (broker.OrderState, error) {
	return broker.OrderState{Status: domain.OrderStatusPending}, nil
}
func (stubBroker) GetPositions(context.Context) ([]domain.Position, error) {
	return []domain.Position{{Symbol: "AAPL", Quantity: 3}}, nil
}

type idleFeed struct{}

func (idleFeed) Name() string { return "idle" }
func (idleFeed) Run(ctx context.Context, _ gather.Sink) error {
	<-ctx.Done()
	return nil
}

type stubConnector struct {
	err   error
	creds config.Alpaca
}

func (c *stubConnector) Connect(_ context.Context, creds config.Alpaca) (broker.Broker, gather.Feed, error) {
	c.creds = creds
	if c.err != nil {
		return nil, nil, c.err
	}
	return stubBroker{}, idleFeed{}, nil
}

// logEvents records the log panel entries published during a test.
type logEvents struct {
	mu      sync.Mutex
	entries []live.LogEntry
}

func (l *logEvents) Publish(evt live.Event) {
	if e, ok := evt.Data.(live.LogEntry); ok {
		l.mu.Lock()
		l.entries = append(l.entries, e)
		l.mu.Unlock()
	}
}

func (l *logEvents) messages(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if strings.HasPrefix(e.Message, prefix) {
			out = append(out, e.Message)
		}
	}
	return out
}

type fixture struct {
	srv     *httptest.Server
	session *engine.Session
	quotes  *marketdata.Store
	conn    *stubConnector
	logs    *logEvents
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotes := marketdata.NewStore()
	router := engine.NewRouter(engine.RouterConfig{Quotes: quotes, Logger: log})
	params := tradeparams.NewStore("", nil, log)
	logs := &logEvents{}
	notify := live.NewNotifier(logs, log)
	session := engine.NewSession(engine.SessionConfig{Router: router, Quotes: quotes, Params: params, Notifier: notify, Logger: log})
	t.Cleanup(session.Stop)

	reg := strategy.NewRegistry()
	builtins.Register(reg, "AAPL")

	f := &fixture{session: session, quotes: quotes, conn: &stubConnector{}, logs: logs, dir: t.TempDir()}
	api := NewServer(Deps{
		Session:         session,
		Registry:        reg,
		Params:          params,
		Connector:       f.conn,
		Alpaca:          config.Alpaca{BaseURL: "https://paper-api.alpaca.markets", Feed: "iex"},
		StrategyDir:     f.dir,
		CallbackTimeout: time.Second,
		Notifier:        notify,
		Logger:          log,
	})
	f.srv = httptest.NewServer(api.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) upload(t *testing.T, filename, src string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = fw.Write([]byte(src))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.srv.URL+"/strategy/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/orders", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUploadStartAndTick(t *testing.T) {
	f := newFixture(t)

	code, body := f.upload(t, "buyer.js", tickScript)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "buyer", body["strategy"])
	assert.Equal(t, map[string]any{"initialize": false, "onTick": true, "onOrderUpdate": false}, body["capabilities"])
	_, err := os.Stat(filepath.Join(f.dir, "buyer.js"))
	assert.NoError(t, err, "uploaded script is saved")

	code, body = f.do(t, http.MethodPost, "/api/trading/start", StartRequest{Mode: "paper"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "PAPER", body["mode"])

	f.session.IngestTicks(domain.TickBatch{{Symbol: "RELIANCE", LastPrice: decimal.NewFromInt(250), Timestamp: time.Now()}})

	code, body = f.do(t, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, code)
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	order := orders[0].(map[string]any)
	assert.Equal(t, "EXECUTED", order["status"])
	assert.Equal(t, "250", order["executedPrice"])

	code, body = f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "buyer", body["strategy"])
	assert.Equal(t, float64(1), body["orders"])
	assert.Equal(t, float64(1), body["positions"])

	// Loading while running is refused.
	code, _ = f.upload(t, "other.js", tickScript)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/trading/stop", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, f.session.Running())
}

func TestStrategyLoadedLoggedOnce(t *testing.T) {
	f := newFixture(t)

	code, body := f.upload(t, "buyer.js", tickScript)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []string{"Strategy loaded: buyer"}, f.logs.messages("Strategy loaded"))

	code, body = f.do(t, http.MethodPost, "/strategy/load", LoadStrategyRequest{Name: "momentum"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []string{"Strategy loaded: buyer", "Strategy loaded: momentum"}, f.logs.messages("Strategy loaded"))

	code, _ = f.upload(t, "broken.js", "function onTick( {")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, f.logs.messages("Strategy load failed"), 1)
	assert.Len(t, f.logs.messages("Strategy loaded"), 2)
}

func TestUploadRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		filename string
		src      string
	}{
		{"wrong extension", "strategy.py", "def on_tick(): pass"},
		{"syntax error", "broken.js", "function onTick( {"},
		{"no callbacks", "empty.js", "var x = 1;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.upload(t, tt.filename, tt.src)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
		})
	}
	assert.False(t, f.session.Host().Loaded())
}

func TestStartWithoutStrategy(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/trading/start", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "no strategy loaded")

	code, _ = f.do(t, http.MethodPost, "/trading/start", StartRequest{Mode: "turbo"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLoadStrategy(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/strategy/load", LoadStrategyRequest{Name: "sma-cross"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "builtin", body["kind"])

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "saved.js"), []byte(tickScript), 0o644))
	code, body = f.do(t, http.MethodPost, "/strategy/load", LoadStrategyRequest{Name: "saved"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "saved", body["strategy"])

	code, _ = f.do(t, http.MethodPost, "/strategy/load", LoadStrategyRequest{Name: "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/strategies", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"momentum", "sma-cross"}, body["builtin"])
	assert.Equal(t, []any{"saved.js"}, body["scripts"])
	assert.Equal(t, "saved", body["loaded"])
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	f.quotes.Update("TCS", decimal.NewFromInt(3500), 10, time.Now())

	code, body := f.do(t, http.MethodPost, "/orders", OrderRequest{Symbol: "tcs", Quantity: 2, Side: "buy"})
	require.Equal(t, http.StatusOK, code, body)
	order := body["order"].(map[string]any)
	assert.Equal(t, "TCS", order["symbol"])
	assert.Equal(t, "EXECUTED", order["status"])

	code, body = f.do(t, http.MethodPost, "/orders", OrderRequest{Symbol: "TCS", Quantity: 0, Side: "BUY"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "REJECTED", body["order"].(map[string]any)["status"])

	// LIVE without a configured broker fails.
	code, body = f.do(t, http.MethodPost, "/orders", OrderRequest{Symbol: "TCS", Quantity: 1, Side: "BUY", Mode: "live"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "FAILED", body["order"].(map[string]any)["status"])

	code, body = f.do(t, http.MethodGet, "/positions?mode=paper", nil)
	require.Equal(t, http.StatusOK, code)
	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, float64(2), positions[0].(map[string]any)["quantity"])

	code, body = f.do(t, http.MethodGet, "/pnl?mode=paper", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", body["pnl"].(map[string]any)["total"])

	code, body = f.do(t, http.MethodGet, "/orders/history?status=rejected", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["orders"], 1)

	code, _ = f.do(t, http.MethodGet, "/orders?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConfig(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/config", ConfigRequest{APIKey: "key"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "api_secret")

	code, body = f.do(t, http.MethodPost, "/api/config", ConfigRequest{APIKey: "key", APISecret: "secret", Symbols: []string{" aapl ", "msft"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "stub", body["broker"])
	assert.Equal(t, "idle", body["feed"])
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.conn.creds.Symbols)
	assert.Equal(t, "iex", f.conn.creds.Feed)
	assert.True(t, f.session.FeedConfigured())

	code, body = f.do(t, http.MethodGet, "/positions?mode=live", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["positions"], 1)

	f.conn.err = errors.New("forbidden")
	code, body = f.do(t, http.MethodPost, "/config", ConfigRequest{APIKey: "k", APISecret: "s", Symbols: []string{"AAPL"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "forbidden", body["message"])
}

func TestReplayRequiresBacktest(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/backtest/replay", ReplayRequest{Start: "2025-01-02", End: "2025-01-03"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/backtest/replay", ReplayRequest{Start: "yesterday", End: "2025-01-03"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "start")
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2025-01-02", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC), got)

	got, err = parseTime("2025-01-02T15:04:05Z", false)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Hour())

	_, err = parseTime("", false)
	assert.Error(t, err)
}

func TestStrategyParams(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPut, "/api/strategy/params/momentum/quantity", map[string]any{"value": 3})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"momentum": map[string]any{"quantity": float64(3)}}, body["params"])

	code, _ = f.do(t, http.MethodPut, "/strategy/params/momentum/quantity", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/strategy/load", LoadStrategyRequest{Name: "momentum"})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/trading/start", StartRequest{Mode: "paper"})
	require.Equal(t, http.StatusOK, code)

	f.session.IngestTicks(domain.TickBatch{{Symbol: "AAPL", LastPrice: decimal.NewFromInt(190), Timestamp: time.Now()}})
	_, body = f.do(t, http.MethodGet, "/orders", nil)
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, float64(3), orders[0].(map[string]any)["quantity"])

	code, _ = f.do(t, http.MethodDelete, "/strategy/params/momentum/quantity", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/strategy/params/momentum/quantity", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/strategy/params?strategy=momentum", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"momentum": map[string]any{}}, body["params"])
}
