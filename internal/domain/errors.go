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
	Op        string // Operation that failed (e.g., "connect", "read", "write")
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

// FetchError is a failed snapshot retrieval. The previous snapshot stays in place
// and the next scheduled interval tries again.
type FetchError struct {
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("snapshot fetch (status %d): %v", e.StatusCode, e.Err)
	}
	return "snapshot fetch: " + e.Err.Error()
}

// IsRetriable is false for a body we could not parse, since asking again
// returns the same payload, and for a wrapped error that says so itself.
func (e *FetchError) IsRetriable() bool {
	if errors.Is(e.Err, ErrMalformedPayload) {
		return false
	}
	var re RetriableError
	if errors.As(e.Err, &re) {
		return re.IsRetriable()
	}
	return true
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SubscriptionError is a transport failure on a push connection.
// The subscription is closed when this is reported.
type SubscriptionError struct {
	Source string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return e.Source + " subscription: " + e.Err.Error()
}

func (e *SubscriptionError) IsRetriable() bool {
	return true
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// MalformedMessageError is an inbound push message that could not be normalized.
type MalformedMessageError struct {
	Source string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	return e.Source + " malformed message: " + e.Err.Error()
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrMalformedPayload marks a response or message body that could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrEmptySnapshot is returned when the catalog answers with no assets.
	ErrEmptySnapshot = errors.New("empty snapshot")

	// ErrNegativeQuantity is returned when a holding quantity is below zero.
	ErrNegativeQuantity = errors.New("quantity must not be negative")

	// ErrUnknownAsset is returned when an asset is not in the current view.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
