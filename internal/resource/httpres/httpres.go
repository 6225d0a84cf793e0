// Package httpres implements the HTTP outbound Resource of §6
// (config_resource_http_1): a fire-and-forget client performing one
// request per Execute call. No third-party HTTP client is wired
// elsewhere in this module, so this adapter is built on net/http's
// stdlib client — a justified stdlib use, recorded in DESIGN.md —
// configured with the pool's own per-instance deadline rather than a
// package-global default client.
package httpres

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of config_resource_http_1.
type Config struct {
	BaseURL string
}

// Resource is a fire-and-forget pythomnic Resource (§3) over an
// *http.Client reused across Execute calls on the same pooled instance.
type Resource struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Resource { return &Resource{cfg: cfg} }

func (r *Resource) Connect(req *corereq.Request) error {
	r.client = &http.Client{}
	return nil
}

// Execute performs one HTTP request: args[0] is the method, args[1]
// the path (joined to BaseURL), and an optional "body" kwarg the
// request body.
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) < 2 {
		return nil, classify.ResourceInput("http execute requires (method, path)", nil)
	}
	method, ok1 := args[0].(string)
	path, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, classify.ResourceInput("http execute arguments must be strings", nil)
	}

	var body io.Reader
	if b, ok := kwargs["body"].([]byte); ok {
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, body)
	if err != nil {
		return nil, classify.ResourceInput("invalid http request", err)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, classify.ResourceError("", "", "http request failed", true, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify.ResourceError("", "", "http body read failed", true, true, err)
	}

	if resp.StatusCode >= 500 {
		return nil, classify.ResourceError("", "", "http 5xx", true, true, nil)
	}
	if resp.StatusCode >= 400 {
		return nil, classify.ResourceError("", "", "http 4xx", true, false, nil)
	}

	return map[string]any{"status": resp.StatusCode, "body": respBody}, nil
}

func (r *Resource) Disconnect() {
	if r.client != nil {
		r.client.CloseIdleConnections()
	}
}
