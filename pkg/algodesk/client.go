// Package algodesk is a Go client for the algodesk server API.
package algodesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"algodesk/internal/domain"
	"algodesk/internal/httpapi"
	"algodesk/internal/live"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("algodesk: %d %s", e.StatusCode, e.Message)
}

// OrderQuery filters order listings. Zero fields match everything.
type OrderQuery struct {
	Mode   string
	Status string
	Limit  int
}

// Client provides a Go SDK for interacting with the algodesk server.
type Client struct {
	baseURL    string
	grpcAddr   string
	httpClient *http.Client
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGRPCAddr sets the address of the event stream.
func WithGRPCAddr(addr string) Option {
	return func(c *Client) { c.grpcAddr = addr }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used by the event stream.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new algodesk API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Status returns the desk overview.
func (c *Client) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Configure sends broker credentials.
func (c *Client) Configure(ctx context.Context, req httpapi.ConfigRequest) (httpapi.ConfigResponse, error) {
	var out httpapi.ConfigResponse
	err := c.do(ctx, http.MethodPost, "/api/config", req, &out)
	return out, err
}

// UploadStrategy uploads and loads a strategy script.
func (c *Client) UploadStrategy(ctx context.Context, filename string, src []byte) (httpapi.StrategyResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return httpapi.StrategyResponse{}, err
	}
	if _, err := fw.Write(src); err != nil {
		return httpapi.StrategyResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return httpapi.StrategyResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/strategy/upload", &buf)
	if err != nil {
		return httpapi.StrategyResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out httpapi.StrategyResponse
	err = c.send(req, &out)
	return out, err
}

// LoadStrategy loads a built-in strategy or a script saved on the server.
func (c *Client) LoadStrategy(ctx context.Context, name string) (httpapi.StrategyResponse, error) {
	var out httpapi.StrategyResponse
	err := c.do(ctx, http.MethodPost, "/api/strategy/load", httpapi.LoadStrategyRequest{Name: name}, &out)
	return out, err
}

// Strategies lists built-in strategies and saved scripts.
func (c *Client) Strategies(ctx context.Context) (httpapi.StrategiesResponse, error) {
	var out httpapi.StrategiesResponse
	err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &out)
	return out, err
}

// Start starts trading. An empty mode uses the server default.
func (c *Client) Start(ctx context.Context, mode string) (domain.Mode, error) {
	var out httpapi.StartResponse
	err := c.do(ctx, http.MethodPost, "/api/trading/start", httpapi.StartRequest{Mode: mode}, &out)
	return out.Mode, err
}

// Stop stops trading.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/trading/stop", nil, nil)
}

// PlaceOrder routes a manual order. A FAILED or REJECTED order is returned
// together with an *APIError.
func (c *Client) PlaceOrder(ctx context.Context, req httpapi.OrderRequest) (domain.OrderRecord, error) {
	var out struct {
		Order domain.OrderRecord `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &out)
	return out.Order, err
}

// Orders lists the in-memory order log.
func (c *Client) Orders(ctx context.Context, q OrderQuery) ([]domain.OrderRecord, error) {
	return c.orders(ctx, "/api/orders", q)
}

// History lists orders from the persistent journal.
func (c *Client) History(ctx context.Context, q OrderQuery) ([]domain.OrderRecord, error) {
	return c.orders(ctx, "/api/orders/history", q)
}

func (c *Client) orders(ctx context.Context, path string, q OrderQuery) ([]domain.OrderRecord, error) {
	v := url.Values{}
	if q.Mode != "" {
		v.Set("mode", q.Mode)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out httpapi.OrdersResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Orders, err
}

// Positions returns positions for mode, or the session mode when empty.
func (c *Client) Positions(ctx context.Context, mode string) ([]domain.Position, error) {
	var out httpapi.PositionsResponse
	err := c.do(ctx, http.MethodGet, withMode("/api/positions", mode), nil, &out)
	return out.Positions, err
}

// PnL returns realized and unrealized PnL for mode.
func (c *Client) PnL(ctx context.Context, mode string) (domain.PnL, error) {
	var out httpapi.PnLResponse
	err := c.do(ctx, http.MethodGet, withMode("/api/pnl", mode), nil, &out)
	return out.PnL, err
}

// Replay starts a backtest replay on a running BACKTEST session.
func (c *Client) Replay(ctx context.Context, req httpapi.ReplayRequest) error {
	return c.do(ctx, http.MethodPost, "/api/backtest/replay", req, nil)
}

// SubscribeEvents streams server events of the given types (all when empty)
// over gRPC until ctx is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, types []string, fn func(live.Event)) error {
	if c.grpcAddr == "" {
		return fmt.Errorf("algodesk: no gRPC address configured")
	}
	return live.NewClient(c.grpcAddr, c.log).Subscribe(ctx, types, fn)
}

func withMode(path, mode string) string {
	if mode == "" {
		return path
	}
	return path + "?mode=" + url.QueryEscape(mode)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send executes req and decodes the body into out. Error bodies are decoded
// into out as well so callers can read partial results.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e httpapi.ErrorResponse
		_ = json.Unmarshal(raw, &e)
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
