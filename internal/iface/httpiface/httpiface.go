// Package httpiface implements the HTTP inbound Interface of §6
// (config_interface_http_1): a protocol listener that turns incoming
// HTTP requests into dispatcher work-units, using gorilla/mux for route
// registration and a graceful net/http.Server shutdown.
package httpiface

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/dispatcher"
)

// Handler is the user-level entry point this interface invokes once
// per accepted HTTP request, on a worker-pool goroutine, with the
// Request already created by the dispatcher.
type Handler func(req *corereq.Request, w http.ResponseWriter, r *http.Request)

// Config carries the protocol-specific fields of a
// config_interface_http_<name> module.
type Config struct {
	Name          string
	Addr          string
	Timeout       time.Duration // per-request timeout handed to dispatcher.BeginRequest
	ConfigVersion int           // loader's module-version counter at build time (§4.8)
}

// Interface adapts an *http.Server onto the dispatcher (C5): every
// accepted connection's handler calls BeginRequest/Enqueue/EndRequest
// exactly as §4.5 specifies, so the request borrows a worker from the
// shared pool rather than running on its own goroutine unsupervised. It
// satisfies lifecycle.Interface so C8 can start/stop/reload it.
type Interface struct {
	cfg    Config
	disp   *dispatcher.Dispatcher
	router *mux.Router
	srv    *http.Server
}

// New builds an interface that will route method+path to handler via a
// gorilla/mux router, one route registered per endpoint.
func New(cfg Config, disp *dispatcher.Dispatcher) *Interface {
	return &Interface{cfg: cfg, disp: disp, router: mux.NewRouter()}
}

// Name identifies this interface to the lifecycle orchestrator (C8).
func (i *Interface) Name() string { return i.cfg.Name }

// ConfigVersion reports the loader generation this instance was built
// from, compared by C8 against the current generation to detect a
// config change requiring a restart.
func (i *Interface) ConfigVersion() int { return i.cfg.ConfigVersion }

// Handle registers handler for method+path, matching mux's
// Router.HandleFunc/Methods idiom.
func (i *Interface) Handle(method, path string, h Handler) {
	i.router.HandleFunc(path, i.serve(h)).Methods(method)
}

func (i *Interface) serve(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := map[string]any{"remote_addr": r.RemoteAddr}
		for k, v := range mux.Vars(r) {
			params[k] = v
		}
		req, err := i.disp.BeginRequest(i.cfg.Name, "http", i.cfg.Timeout, params, r.Method+" "+r.URL.Path)
		if err != nil {
			writeClassifiedError(w, err)
			return
		}

		handle, err := i.disp.Enqueue(req, func(req *corereq.Request) (any, error) {
			h(req, w, r)
			return nil, nil
		})
		if err != nil {
			i.disp.EndRequest(req, boolPtr(false))
			writeClassifiedError(w, err)
			return
		}

		_, err = handle.Wait(req.Remain())
		i.disp.EndRequest(req, boolPtr(err == nil))
	}
}

func writeClassifiedError(w http.ResponseWriter, err error) {
	c := classify.As(err)
	status := http.StatusInternalServerError
	if c.Kind() == classify.KindDeadline {
		status = http.StatusGatewayTimeout
	} else if c.Kind() == classify.KindFactoryShutdown {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": c.Error()})
}

func boolPtr(b bool) *bool { return &b }

// Start begins listening and registers this interface's address with
// the dispatcher (§4.5's GetInterface discovery). The listener itself
// is created eagerly so Stop can always reach a live net.Listener.
func (i *Interface) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", i.cfg.Addr)
	if err != nil {
		return err
	}
	i.srv = &http.Server{Handler: i.router}
	i.disp.RegisterInterface(i.cfg.Name, ln.Addr().String())
	go i.srv.Serve(ln)
	return nil
}

// Address returns the configured listen address (Start registers the
// listener's actual address with the dispatcher).
func (i *Interface) Address() string { return i.cfg.Addr }

// Stop gracefully shuts the HTTP server down, bounded by ctx, and
// removes this interface's discovery entry.
func (i *Interface) Stop(ctx context.Context) error {
	i.disp.UnregisterInterface(i.cfg.Name)
	if i.srv == nil {
		return nil
	}
	return i.srv.Shutdown(ctx)
}
