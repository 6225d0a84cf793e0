package callableres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

func TestResource_ExecuteDelegatesToFunc(t *testing.T) {
	r := New(func(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})
	req := corereq.Create("test", "callable", time.Second, nil, "")

	require.NoError(t, r.Connect(req))
	require.NoError(t, r.BeginTransaction(req, "xid", nil, nil, nil))

	v, err := r.Execute(req, []any{"hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	assert.NoError(t, r.Commit(req))
	assert.NoError(t, r.Rollback(req))
	r.Disconnect()
}

func TestResource_ExecutePropagatesError(t *testing.T) {
	want := errors.New("boom")
	r := New(func(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
		return nil, want
	})
	req := corereq.Create("test", "callable", time.Second, nil, "")

	_, err := r.Execute(req, nil, nil)
	assert.ErrorIs(t, err, want)
}
