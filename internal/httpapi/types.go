// Package httpapi serves the trading desk's JSON API: broker configuration,
// strategy management, session control, orders, positions and PnL.
package httpapi

import (
	"algodesk/internal/domain"
	"algodesk/internal/strategy"
)

// Response status values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Order   *domain.OrderRecord `json:"order,omitempty"`
}

// OKResponse is the bare success payload.
type OKResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigRequest carries broker credentials. Empty optional fields keep the
// server's configured values.
type ConfigRequest struct {
	APIKey    string   `json:"api_key"`
	APISecret string   `json:"api_secret"`
	BaseURL   string   `json:"base_url,omitempty"`
	StreamURL string   `json:"stream_url,omitempty"`
	Feed      string   `json:"feed,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
}

// ConfigResponse confirms a broker configuration.
type ConfigResponse struct {
	Status  string   `json:"status"`
	Broker  string   `json:"broker"`
	Feed    string   `json:"feed,omitempty"`
	Symbols []string `json:"symbols"`
}

// StrategyResponse describes a loaded strategy.
type StrategyResponse struct {
	Status       string                `json:"status"`
	Filename     string                `json:"filename,omitempty"`
	Strategy     string                `json:"strategy"`
	Kind         string                `json:"kind"`
	Capabilities strategy.Capabilities `json:"capabilities"`
}

// LoadStrategyRequest selects a built-in strategy or a saved script.
type LoadStrategyRequest struct {
	Name string `json:"name"`
}

// StrategiesResponse lists what can be loaded.
type StrategiesResponse struct {
	Status  string   `json:"status"`
	Builtin []string `json:"builtin"`
	Scripts []string `json:"scripts"`
	Loaded  string   `json:"loaded,omitempty"`
}

// StartRequest selects the session mode. Empty means the configured default.
type StartRequest struct {
	Mode string `json:"mode"`
}

// StartResponse confirms a started session.
type StartResponse struct {
	Status string      `json:"status"`
	Mode   domain.Mode `json:"mode"`
}

// OrderRequest is a manual order. Mode defaults to the session mode.
type OrderRequest struct {
	Symbol    string   `json:"symbol"`
	Quantity  int64    `json:"quantity"`
	Side      string   `json:"side"`
	OrderType string   `json:"orderType,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Mode      string   `json:"mode,omitempty"`
}

// OrderResponse carries the routed record.
type OrderResponse struct {
	Status string             `json:"status"`
	Order  domain.OrderRecord `json:"order"`
}

// OrdersResponse lists order records, oldest first.
type OrdersResponse struct {
	Status string               `json:"status"`
	Orders []domain.OrderRecord `json:"orders"`
}

// PositionsResponse lists positions for a mode.
type PositionsResponse struct {
	Status    string            `json:"status"`
	Mode      domain.Mode       `json:"mode"`
	Positions []domain.Position `json:"positions"`
}

// PnLResponse carries realized and unrealized PnL for a mode.
type PnLResponse struct {
	Status string      `json:"status"`
	Mode   domain.Mode `json:"mode"`
	PnL    domain.PnL  `json:"pnl"`
}

// StatusResponse is the desk overview.
type StatusResponse struct {
	Status           string                 `json:"status"`
	Mode             domain.Mode            `json:"mode"`
	Running          bool                   `json:"running"`
	StrategyLoaded   bool                   `json:"strategy_loaded"`
	Strategy         string                 `json:"strategy,omitempty"`
	Capabilities     *strategy.Capabilities `json:"capabilities,omitempty"`
	BrokerConfigured bool                   `json:"broker_configured"`
	Broker           string                 `json:"broker"`
	FeedConfigured   bool                   `json:"feed_configured"`
	FeedActive       bool                   `json:"feed_active"`
	ReplayActive     bool                   `json:"replay_active"`
	Orders           int                    `json:"orders"`
	Positions        int                    `json:"positions"`
	Symbols          int                    `json:"symbols"`
}

// ReplayRequest asks for a backtest replay. Start and End accept RFC 3339
// timestamps or YYYY-MM-DD dates; a date End covers the whole day.
type ReplayRequest struct {
	Symbols []string `json:"symbols"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Speed   float64  `json:"speed"`
}

// ParamsResponse lists strategy parameters by strategy name.
type ParamsResponse struct {
	Status string                        `json:"status"`
	Params map[string]map[string]float64 `json:"params"`
}

// ParamRequest sets one strategy parameter.
type ParamRequest struct {
	Value *float64 `json:"value"`
}
