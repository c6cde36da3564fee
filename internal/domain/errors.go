package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors that cross component boundaries as typed values. Callers
// should use errors.As/errors.Is rather than string matching.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidOrderStatus = errors.New("invalid order status for this operation")
	ErrBadRequest         = errors.New("bad request")
)

// InsufficientFundsError is returned by the ledger when a freeze would drive
// available balance negative. It is a client error: the caller can act on it.
type InsufficientFundsError struct {
	Required decimal.Decimal
	Actual   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, actual %s", e.Required, e.Actual)
}

// BrokerIntegrationError wraps a failure talking to an external execution venue.
type BrokerIntegrationError struct {
	Msg string
	Err error
}

func (e *BrokerIntegrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker integration error: %s: %v", e.Msg, e.Err)
	}
	return "broker integration error: " + e.Msg
}

func (e *BrokerIntegrationError) Unwrap() error { return e.Err }

// InternalError is an opaque, non-actionable server-side failure.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Msg, e.Err)
	}
	return "internal error: " + e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }

// PluginError is raised when a sandboxed strategy invocation faults: a trap,
// an out-of-fuel abort, or a memory-limit breach. It bubbles to the
// supervisor and transitions the strategy to Failed.
type PluginError struct {
	Msg string
	Err error
}

func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin error: %s: %v", e.Msg, e.Err)
	}
	return "plugin error: " + e.Msg
}

func (e *PluginError) Unwrap() error { return e.Err }

// MarketErrorKind classifies a MarketError.
type MarketErrorKind string

const (
	MarketErrorNetwork  MarketErrorKind = "network"
	MarketErrorParse    MarketErrorKind = "parse"
	MarketErrorNotFound MarketErrorKind = "not_found"
	MarketErrorUnknown  MarketErrorKind = "unknown"
)

// MarketError wraps a failure from the upstream market-data provider.
type MarketError struct {
	Kind MarketErrorKind
	Msg  string
	Err  error
}

func (e *MarketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market error [%s]: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("market error [%s]: %s", e.Kind, e.Msg)
}

func (e *MarketError) Unwrap() error { return e.Err }

// StoreErrorKind classifies a StoreError.
type StoreErrorKind string

const (
	StoreErrorDatabase StoreErrorKind = "database"
	StoreErrorNotFound StoreErrorKind = "not_found"
	StoreErrorInit     StoreErrorKind = "init_error"
	StoreErrorUnknown  StoreErrorKind = "unknown"
)

// StoreError wraps a failure from a persistence adapter.
type StoreError struct {
	Kind StoreErrorKind
	Msg  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store error [%s]: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("store error [%s]: %s", e.Kind, e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Err }
