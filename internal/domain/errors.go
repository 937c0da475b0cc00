package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "submit", "cancel", "dial")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError means an intent or event is malformed on its own.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return "validation failed [" + e.Field + "]: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RiskRejected is returned by the risk gate. Rule names the limit hit.
type RiskRejected struct {
	Rule   string
	Reason string
}

func (e *RiskRejected) Error() string {
	return "risk rejected [" + e.Rule + "]: " + e.Reason
}

// Is lets errors.Is(err, ErrCircuitOpen) match breaker rejections.
func (e *RiskRejected) Is(target error) bool {
	return target == ErrCircuitOpen && e.Rule == RuleCircuitBreaker
}

// BackendError is a failure of the execution backend that halts the run.
type BackendError struct {
	Op      string
	OrderID uint64
	Err     error
}

func (e *BackendError) Error() string {
	if e.OrderID != 0 {
		return fmt.Sprintf("backend %s order %d: %v", e.Op, e.OrderID, e.Err)
	}
	return "backend " + e.Op + ": " + e.Err.Error()
}

func (e *BackendError) IsRetriable() bool {
	return false
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ReconciliationMismatch records a difference between local and broker
// state. It is reported, never corrected automatically.
type ReconciliationMismatch struct {
	Kind       string `json:"kind"` // "order" or "position"
	Instrument string `json:"instrument,omitempty"`
	OrderID    uint64 `json:"order_id,omitempty"`
	Local      string `json:"local"`
	Remote     string `json:"remote"`
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciliation mismatch [%s %s %d]: local=%s remote=%s",
		e.Kind, e.Instrument, e.OrderID, e.Local, e.Remote)
}

// DataGapError reports a missing, duplicated or out-of-order market event.
type DataGapError struct {
	Instrument string
	Reason     string
	Expected   string
	Got        string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap [%s] %s: expected %s, got %s", e.Instrument, e.Reason, e.Expected, e.Got)
}

// Risk rule names
const (
	RuleCircuitBreaker   = "circuit_breaker"
	RuleMaxOrderQty      = "max_order_qty"
	RuleMaxOrderNotional = "max_order_notional"
	RuleBuyingPower      = "buying_power"
	RuleShortSelling     = "short_selling"
	RuleMaxPositionQty   = "max_position_qty"
	RuleMaxExposure      = "max_exposure"
	RuleNoPrice          = "no_reference_price"
)

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrUnknownInstrument is returned for intents on instruments without market data.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrUnknownOrder is returned when an order id is not in the book.
	ErrUnknownOrder = errors.New("unknown order")

	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOverfill          = errors.New("fill exceeds remaining quantity")
	ErrFillMismatch      = errors.New("fill does not match order")

	// ErrDuplicateFill is returned when a fill id was already applied. Callers ignore it.
	ErrDuplicateFill = errors.New("duplicate fill")

	// ErrCircuitOpen is returned while the drawdown breaker is tripped.
	ErrCircuitOpen = errors.New("drawdown circuit breaker open")

	// ErrStrategyPanic is returned when a strategy callback panics.
	ErrStrategyPanic = errors.New("strategy panicked")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
