// Package classify implements the error taxonomy of §7: every failure
// that crosses a resource or transaction boundary carries two
// orthogonal flags (Recoverable, Terminal) plus an optional code/state/
// description used for logs, exactly as pythomnic3k's resource errors
// did through duck-typed exception attributes.
package classify

import (
	"errors"
	"fmt"
)

// Kind names the §7 error taxonomy row a Failure belongs to, used only
// for logging/metrics labelling.
type Kind string

const (
	KindDeadline            Kind = "deadline"
	KindResourceInput       Kind = "resource_input"
	KindResourceError       Kind = "resource_error"
	KindTransactionExecute  Kind = "transaction_execution"
	KindTransactionCommit   Kind = "transaction_commit"
	KindFactoryShutdown     Kind = "factory_shutdown"
	KindConfig              Kind = "config"
	KindUnclassified        Kind = "unclassified"
)

// Classified is satisfied by any error that has been through the
// classifier; the transaction coordinator and resource pool only ever
// branch on this interface, never on concrete error types.
type Classified interface {
	error
	Kind() Kind
	Recoverable() bool
	Terminal() bool
	Code() string
}

// Failure is the concrete Classified implementation produced by this
// package's constructors and by adapter code that classifies a native
// driver error.
type Failure struct {
	kind        Kind
	message     string
	code        string
	state       string
	description string
	recoverable bool
	terminal    bool
	cause       error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %v", f.message, f.cause)
	}
	return f.message
}

func (f *Failure) Unwrap() error    { return f.cause }
func (f *Failure) Kind() Kind       { return f.kind }
func (f *Failure) Recoverable() bool { return f.recoverable }
func (f *Failure) Terminal() bool    { return f.terminal }
func (f *Failure) Code() string      { return f.code }
func (f *Failure) State() string     { return f.state }
func (f *Failure) Description() string {
	if f.description != "" {
		return f.description
	}
	return f.message
}

// Deadline classifies a wait-point timeout. terminal is true only when
// the caller already held a checked-out resource instance at the time
// the deadline hit (that instance must then be discarded, §7).
func Deadline(op string, terminal bool) *Failure {
	return &Failure{
		kind:        KindDeadline,
		message:     fmt.Sprintf("request deadline exceeded waiting for %s", op),
		recoverable: true,
		terminal:    terminal,
	}
}

// ResourceInput classifies a validation failure in the arguments passed
// to a resource's execute: always recoverable, never terminal — the
// instance is clean and goes back to the pool.
func ResourceInput(message string, cause error) *Failure {
	return &Failure{
		kind:        KindResourceInput,
		message:     message,
		recoverable: true,
		terminal:    false,
		cause:       cause,
	}
}

// ResourceError classifies a protocol-level failure with a known
// code/state. Adapters supply their own recoverable/terminal mapping;
// callers that have no such mapping should use Unclassified instead.
func ResourceError(code, state, description string, recoverable, terminal bool, cause error) *Failure {
	return &Failure{
		kind:        KindResourceError,
		message:     description,
		code:        code,
		state:       state,
		description: description,
		recoverable: recoverable,
		terminal:    terminal,
		cause:       cause,
	}
}

// TransactionExecution classifies the coordinator timing out waiting
// for a participant's intermediate result (§4.4 step 3).
func TransactionExecution(message string) *Failure {
	return &Failure{
		kind:        KindTransactionExecute,
		message:     message,
		recoverable: true,
		terminal:    true,
	}
}

// TransactionCommit classifies a commit-phase failure: not recoverable
// (a commit may have partially applied), terminal (discard the
// instance rather than trust its subsequent state).
func TransactionCommit(message string, cause error) *Failure {
	return &Failure{
		kind:        KindTransactionCommit,
		message:     message,
		recoverable: false,
		terminal:    true,
		cause:       cause,
	}
}

// FactoryShutdown classifies begin_request/checkout being invoked after
// the process has begun shutting down.
func FactoryShutdown(op string) *Failure {
	return &Failure{
		kind:        KindFactoryShutdown,
		message:     fmt.Sprintf("%s refused: shutting down", op),
		recoverable: false,
		terminal:    false,
	}
}

// Config classifies a missing/invalid configuration key lookup.
func Config(key string, cause error) *Failure {
	return &Failure{
		kind:        KindConfig,
		message:     fmt.Sprintf("config key %q", key),
		recoverable: true,
		terminal:    false,
		cause:       cause,
	}
}

// Unclassified wraps any error with no more specific classification:
// the conservative default of "we don't know, throw the connection
// away" from §4.4's classification mapping.
func Unclassified(cause error) *Failure {
	if c, ok := cause.(*Failure); ok {
		return c
	}
	msg := "unclassified error"
	if cause != nil {
		msg = cause.Error()
	}
	return &Failure{
		kind:        KindUnclassified,
		message:     msg,
		recoverable: true,
		terminal:    true,
		cause:       cause,
	}
}

// As extracts a Classified from err via errors.As semantics, falling
// back to Unclassified(err) when err carries no classification yet.
func As(err error) Classified {
	if err == nil {
		return nil
	}
	var c Classified
	if errors.As(err, &c) {
		return c
	}
	return Unclassified(err)
}
