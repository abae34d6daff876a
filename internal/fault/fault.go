// Package fault defines the error taxonomy shared by the artifact lifecycle
// manager and the run orchestrator.
//
// Every failure surfaced to a caller is a single *Error carrying a Kind that
// tells the caller whether a retry can help:
//
//   - KindValidation: bad input, never retried
//   - KindRemoteTransient: network/5xx from a store, safe to retry from the top
//   - KindRemoteTerminal: the remote reported a final failure, not retried
//   - KindTimeout: the polling attempt budget was exhausted
//
// Compensation failures (a cleanup step that itself failed) are attached to
// the primary error as ConsistencyWarnings. They are advisory: logged by the
// producer, inspectable by the caller, never allowed to mask the primary
// outcome.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error for retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRemoteTransient
	KindRemoteTerminal
	KindTimeout
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemoteTransient:
		return "remote_transient"
	case KindRemoteTerminal:
		return "remote_terminal"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ConsistencyWarning records a compensating cleanup step that failed.
// The primary operation outcome is unaffected; the orphan it describes may
// be reaped by a later sweep.
type ConsistencyWarning struct {
	Store string // "provider", "blob", "metadata"
	Op    string // the cleanup that failed, e.g. "delete file"
	Err   error
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Store, w.Op, w.Err)
}

// Error is the single typed error surfaced by the core components.
type Error struct {
	Kind Kind
	Op   string // logical operation, e.g. "artifact.create"
	Step string // the step that failed, e.g. "blob put"

	// ConversationID is the provider conversation allocated before the
	// failure, when one exists. A failed run still yields a usable
	// conversation for retry, so this must survive error propagation.
	ConversationID string

	Warnings []ConsistencyWarning
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Step != "" {
		b.WriteString(": ")
		b.WriteString(e.Step)
	}
	b.WriteString(" [")
	b.WriteString(e.Kind.String())
	b.WriteString("]")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Warnings) > 0 {
		b.WriteString(fmt.Sprintf(" (%d consistency warning(s))", len(e.Warnings)))
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithWarning attaches a compensation failure to the error and returns it.
func (e *Error) WithWarning(store, op string, err error) *Error {
	e.Warnings = append(e.Warnings, ConsistencyWarning{Store: store, Op: op, Err: err})
	return e
}

// WithConversation records the conversation id allocated before the failure.
func (e *Error) WithConversation(id string) *Error {
	e.ConversationID = id
	return e
}

// Validationf builds a KindValidation error from a format string.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Transient builds a KindRemoteTransient error for a failed step.
func Transient(op, step string, err error) *Error {
	return &Error{Kind: KindRemoteTransient, Op: op, Step: step, Err: err}
}

// Terminal builds a KindRemoteTerminal error for a failed step.
func Terminal(op, step string, err error) *Error {
	return &Error{Kind: KindRemoteTerminal, Op: op, Step: step, Err: err}
}

// Timeout builds a KindTimeout error after the attempt budget was exhausted.
func Timeout(op string, attempts int) *Error {
	return &Error{
		Kind: KindTimeout,
		Op:   op,
		Err:  fmt.Errorf("attempt budget exhausted after %d polls", attempts),
	}
}

// Restamp wraps err under a new operation and step, preserving its Kind.
// Untyped errors are treated as transient: they come from transports and
// stores whose failures are safe to retry from the top.
func Restamp(op, step string, err error) *Error {
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindRemoteTransient
	}
	return &Error{Kind: kind, Op: op, Step: step, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Returns KindUnknown for nil or untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ConversationID extracts the conversation id carried by err, if any.
func ConversationID(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ConversationID
	}
	return ""
}

// WarningsOf extracts the consistency warnings attached to err, if any.
func WarningsOf(err error) []ConsistencyWarning {
	var e *Error
	if errors.As(err, &e) {
		return e.Warnings
	}
	return nil
}

// IsRetryable reports whether the whole operation may be retried from the
// top. Timeouts are retryable too: the caller re-polls against the same
// conversation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRemoteTransient, KindTimeout:
		return true
	default:
		return false
	}
}
