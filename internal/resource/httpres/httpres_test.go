package httpres

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

func TestResource_ExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	req := corereq.Create("test", "http", 5*time.Second, nil, "")
	require.NoError(t, r.Connect(req))
	defer r.Disconnect()

	v, err := r.Execute(req, []any{"GET", "/"}, nil)
	require.NoError(t, err)
	result := v.(map[string]any)
	assert.Equal(t, http.StatusOK, result["status"])
	assert.Equal(t, []byte("ok"), result["body"])
}

func TestResource_Execute5xxIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	req := corereq.Create("test", "http", 5*time.Second, nil, "")
	require.NoError(t, r.Connect(req))
	defer r.Disconnect()

	_, err := r.Execute(req, []any{"GET", "/"}, nil)
	require.Error(t, err)
	c := classify.As(err)
	assert.True(t, c.Recoverable())
	assert.True(t, c.Terminal())
}

func TestResource_Execute4xxIsNotTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	req := corereq.Create("test", "http", 5*time.Second, nil, "")
	require.NoError(t, r.Connect(req))
	defer r.Disconnect()

	_, err := r.Execute(req, []any{"GET", "/missing"}, nil)
	require.Error(t, err)
	c := classify.As(err)
	assert.True(t, c.Recoverable())
	assert.False(t, c.Terminal())
}
