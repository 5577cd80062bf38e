package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current session state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrNoStrategy is returned when a session is started without a strategy.
	ErrNoStrategy = errors.New("no strategy loaded")
	// ErrBrokerUnavailable is returned by a broker that was never configured.
	ErrBrokerUnavailable = errors.New("broker not configured")
	// ErrInvalidIntent marks an order intent that failed validation.
	ErrInvalidIntent = errors.New("invalid order intent")
)

// ConfigurationError reports missing or malformed broker or feed settings.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BrokerCallError wraps a failed call to an external broker.
type BrokerCallError struct {
	Broker string
	Op     string
	Err    error
}

func (e *BrokerCallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Broker, e.Op, e.Err)
}

func (e *BrokerCallError) Unwrap() error { return e.Err }

// StrategyLoadError reports a strategy source that could not be loaded.
type StrategyLoadError struct {
	Name string
	Err  error
}

func (e *StrategyLoadError) Error() string {
	return fmt.Sprintf("load strategy %q: %v", e.Name, e.Err)
}

func (e *StrategyLoadError) Unwrap() error { return e.Err }

// StrategyCallbackError reports an error or panic raised inside a strategy
// callback.
type StrategyCallbackError struct {
	Strategy string
	Callback string
	Err      error
}

func (e *StrategyCallbackError) Error() string {
	return fmt.Sprintf("strategy %q %s: %v", e.Strategy, e.Callback, e.Err)
}

func (e *StrategyCallbackError) Unwrap() error { return e.Err }
