// Package rpciface implements the cage-to-cage RPC inbound Interface of
// §6 (config_interface_rpc): peer cages connect over a websocket and
// send a JSON-encoded (method, args, kwargs) envelope per call, using a
// gorilla/websocket upgrader and a mutex-guarded connection set to
// track live peers.
package rpciface

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/dispatcher"
)

// Call is the envelope one peer cage sends per RPC invocation.
type Call struct {
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Result is the envelope sent back, carrying either Value or Error.
type Result struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Router resolves a method name to its implementation, matching the
// §9 redesign of duck-typed dispatch into an explicit registry.
type Router func(req *corereq.Request, call Call) (any, error)

// Config carries the protocol-specific fields of config_interface_rpc.
type Config struct {
	Name          string
	Addr          string
	Timeout       time.Duration
	ConfigVersion int
}

// Interface is the websocket-based RPC listener, upgrading each
// accepted connection and serving calls from it until it closes.
type Interface struct {
	cfg      Config
	disp     *dispatcher.Dispatcher
	route    Router
	upgrader websocket.Upgrader
	srv      *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New builds an RPC interface dispatching calls to route.
func New(cfg Config, disp *dispatcher.Dispatcher, route Router) *Interface {
	return &Interface{
		cfg:      cfg,
		disp:     disp,
		route:    route,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

func (i *Interface) Name() string       { return i.cfg.Name }
func (i *Interface) ConfigVersion() int { return i.cfg.ConfigVersion }

func (i *Interface) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", i.cfg.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", i.handleConn)
	i.srv = &http.Server{Handler: mux}
	i.disp.RegisterInterface(i.cfg.Name, ln.Addr().String())
	go i.srv.Serve(ln)
	return nil
}

func (i *Interface) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	i.mu.Lock()
	i.conns[conn] = struct{}{}
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		delete(i.conns, conn)
		i.mu.Unlock()
		conn.Close()
	}()

	for {
		var call Call
		if err := conn.ReadJSON(&call); err != nil {
			return
		}
		i.serveCall(conn, call, r.RemoteAddr)
	}
}

func (i *Interface) serveCall(conn *websocket.Conn, call Call, remoteAddr string) {
	params := map[string]any{"remote_addr": remoteAddr, "method": call.Method}
	req, err := i.disp.BeginRequest(i.cfg.Name, "rpc", i.cfg.Timeout, params, "rpc "+call.Method)
	if err != nil {
		conn.WriteJSON(Result{Error: err.Error()})
		return
	}

	handle, err := i.disp.Enqueue(req, func(req *corereq.Request) (any, error) {
		return i.route(req, call)
	})
	if err != nil {
		i.disp.EndRequest(req, boolPtr(false))
		conn.WriteJSON(Result{Error: err.Error()})
		return
	}

	value, err := handle.Wait(req.Remain())
	i.disp.EndRequest(req, boolPtr(err == nil))
	if err != nil {
		conn.WriteJSON(Result{Error: err.Error()})
		return
	}
	conn.WriteJSON(Result{Value: value})
}

func boolPtr(b bool) *bool { return &b }

func (i *Interface) Stop(ctx context.Context) error {
	i.disp.UnregisterInterface(i.cfg.Name)
	i.mu.Lock()
	for c := range i.conns {
		c.Close()
	}
	i.conns = make(map[*websocket.Conn]struct{})
	i.mu.Unlock()
	if i.srv == nil {
		return nil
	}
	return i.srv.Shutdown(ctx)
}
