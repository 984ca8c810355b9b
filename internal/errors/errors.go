// Package errors provides domain-specific error types for linechat.
//
// These types carry structured context (operation, address, retryability)
// that helps the event loop decide whether a failure is transient, affects
// a single connection, or is fatal to the server.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrServerClosed     = errors.New("server closed")
	ErrNotListening     = errors.New("server is not listening")
	ErrAlreadyListening = errors.New("server is already listening")
	ErrNoAddress        = errors.New("no bind address candidates")
	ErrWriteTimeout     = errors.New("write timed out")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op        string // "socket", "bind", "listen", "accept", "read", "write", "poll"
	Addr      string // address or descriptor involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BindError reports that no bind candidate could be bound and listened on.
// It is fatal at startup.
type BindError struct {
	Port     int
	Attempts []error
}

func (e *BindError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("failed to bind to any address for port %d", e.Port)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("failed to bind to any address for port %d: %s",
		e.Port, strings.Join(parts, "; "))
}

func (e *BindError) Unwrap() []error { return e.Attempts }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapFD is Wrap for operations on a raw descriptor.
func WrapFD(op string, fd int, err error) *NetworkError {
	return Wrap(op, fmt.Sprintf("fd=%d", fd), err)
}

// ── Classification helpers ───────────────────────────────────────────

// IsInterrupted reports whether err is an interrupted system call.
func IsInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// IsWouldBlock reports whether err means a non-blocking operation could
// not make progress right now.
func IsWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// IsTransient reports whether err is worth retrying without any change of
// state: an interrupted call or a would-block condition.
func IsTransient(err error) bool {
	return IsInterrupted(err) || IsWouldBlock(err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsBindFailure reports whether err is a startup bind failure.
func IsBindFailure(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
