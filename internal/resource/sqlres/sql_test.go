package sqlres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// TestResource_ConnectExecuteCommit spins up a real Postgres container
// and drives a full Connect/BeginTransaction/Execute/Commit cycle
// against it, exercising the real pgx wire protocol rather than a mock.
func TestResource_ConnectExecuteCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("pythomnic_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	r := New(Config{DSN: connStr})
	req := corereq.Create("test", "sql", 10*time.Second, nil, "sqlres integration test")

	require.NoError(t, r.Connect(req))
	defer r.Disconnect()

	require.NoError(t, r.BeginTransaction(req, "xid-test-1", nil, nil, nil))

	_, err = r.Execute(req, []any{"CREATE TABLE IF NOT EXISTS pythomnic_probe (id int)"}, nil)
	require.NoError(t, err)

	_, err = r.Execute(req, []any{"INSERT INTO pythomnic_probe (id) VALUES ($1)", 1}, nil)
	require.NoError(t, err)

	rows, err := r.Execute(req, []any{"SELECT id FROM pythomnic_probe"}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, r.Commit(req))
}

func TestResource_RollbackOnInvalidQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("pythomnic_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	r := New(Config{DSN: connStr})
	req := corereq.Create("test", "sql", 10*time.Second, nil, "sqlres rollback test")
	require.NoError(t, r.Connect(req))
	defer r.Disconnect()

	require.NoError(t, r.BeginTransaction(req, "xid-test-2", nil, nil, nil))
	_, err = r.Execute(req, []any{"SELECT * FROM this_table_does_not_exist"}, nil)
	require.Error(t, err)
	require.NoError(t, r.Rollback(req))
}
