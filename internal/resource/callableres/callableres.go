// Package callableres implements the in-process callable Resource of
// §6 (config_resource_callable_4/5): the framework's own "no external
// system" resource kind, wrapping a plain Go closure in the same
// Transactional capability set every other resource exposes, so user
// code can route a transaction participant through ordinary in-process
// logic (e.g. fanning a call out to a helper routine under the same
// deadline/commit discipline as a real resource). Grounded on
// original_source/cages/.shared/protocol_callable.py's begin/commit/
// rollback pass-through around a bound Python callable.
package callableres

import "github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"

// Func is the user-supplied body invoked by Execute.
type Func func(req *corereq.Request, args []any, kwargs map[string]any) (any, error)

// Resource adapts Func to the full Transactional capability set (§3).
// BeginTransaction/Commit/Rollback are no-ops: a callable has no
// external state of its own to begin or commit, matching
// protocol_callable.py, which only exists to let in-process code
// participate in a transaction's deadline/ordering discipline.
type Resource struct {
	fn Func
}

func New(fn Func) *Resource { return &Resource{fn: fn} }

func (r *Resource) Connect(req *corereq.Request) error { return nil }

func (r *Resource) BeginTransaction(req *corereq.Request, xid string, options map[string]any, resourceArgs []any, resourceKwargs map[string]any) error {
	return nil
}

func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	return r.fn(req, args, kwargs)
}

func (r *Resource) Commit(req *corereq.Request) error   { return nil }
func (r *Resource) Rollback(req *corereq.Request) error { return nil }
func (r *Resource) Disconnect()                         {}
