// Package rpcres implements the cage-to-cage RPC outbound Resource of
// §6 (config_resource_rpc): a fire-and-forget client dialling a peer
// cage's rpciface websocket endpoint and exchanging the same Call/
// Result envelope, dialled with the same gorilla/websocket client
// pattern used throughout this module's websocket-backed adapters.
package rpcres

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of config_resource_rpc:
// the peer's websocket URL, typically resolved ahead of time via the
// target cage's own dispatcher.GetInterface advertisement.
type Config struct {
	URL string
}

// Resource is a fire-and-forget pythomnic Resource (§3): it implements
// Connect/Execute/Disconnect but no transactional envelope, since RPC
// calls in the original are a single request/response round trip with
// no begin/commit phase of their own.
type Resource struct {
	cfg  Config
	conn *websocket.Conn
}

func New(cfg Config) *Resource { return &Resource{cfg: cfg} }

// Connect dials the peer's websocket endpoint, bounded by req.Remain().
func (r *Resource) Connect(req *corereq.Request) error {
	dialer := websocket.Dialer{HandshakeTimeout: req.Remain()}
	conn, _, err := dialer.Dial(r.cfg.URL, nil)
	if err != nil {
		return classify.ResourceError("", "", "rpc dial failed", true, true, err)
	}
	r.conn = conn
	return nil
}

// Execute sends args[0] as the method name, the rest as positional
// args, and kwargs verbatim, then waits for the peer's Result.
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, classify.ResourceInput("rpc execute requires a method name", nil)
	}
	method, ok := args[0].(string)
	if !ok {
		return nil, classify.ResourceInput("rpc execute first argument must be a method name", nil)
	}

	deadline := time.Now().Add(req.Remain())
	r.conn.SetWriteDeadline(deadline)
	call := map[string]any{"method": method, "args": args[1:], "kwargs": kwargs}
	if err := r.conn.WriteJSON(call); err != nil {
		return nil, classify.ResourceError("", "", "rpc write failed", true, true, err)
	}

	r.conn.SetReadDeadline(deadline)
	var result struct {
		Value any    `json:"value,omitempty"`
		Error string `json:"error,omitempty"`
	}
	if err := r.conn.ReadJSON(&result); err != nil {
		return nil, classify.ResourceError("", "", "rpc read failed", true, true, err)
	}
	if result.Error != "" {
		return nil, classify.ResourceError("", "", result.Error, true, false, fmt.Errorf("%s", result.Error))
	}
	return result.Value, nil
}

// Ping implements respool.LivenessChecker with a websocket control
// ping frame, the closest equivalent to a SQL rollback-as-ping.
func (r *Resource) Ping(req *corereq.Request) error {
	return r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(req.Remain()))
}

func (r *Resource) Disconnect() {
	if r.conn != nil {
		r.conn.Close()
	}
}
