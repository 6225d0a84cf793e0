// Package sqlres implements the SQL outbound Resource of §6
// (config_resource_postgresql_1/mysql/oracle/sqlserver): a pgxpool
// connection pool paired with explicit begin/exec/commit sequencing
// matched to the transaction coordinator's two-phase contract.
package sqlres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of one
// config_resource_<name> module (§4.3) for the SQL adapter.
type Config struct {
	DSN            string
	MigrationsPath string // "file://migrations/<name>"; empty disables migration-on-connect
}

// Resource is a Transactional pythomnic Resource over a pgx connection
// pool. One Resource instance wraps one pool checked out from the pool
// slot the Manager tracks; BeginTransaction starts a pgx.Tx and
// Commit/Rollback end it. The process-assigned xid is not sent to the
// database.
type Resource struct {
	cfg  Config
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// New returns an unconnected sqlres.Resource bound to cfg, suitable as
// a respool.Constructor closure: `func() respool.Resource { return
// sqlres.New(cfg) }`.
func New(cfg Config) *Resource {
	return &Resource{cfg: cfg}
}

// Connect opens the pgx pool under req's remaining deadline and, if
// MigrationsPath is set, applies pending migrations once per pool
// lifetime (mirrors database.go's MigrateToLatest, invoked here instead
// of by a separate admin command since the framework has no separate
// migration phase).
func (r *Resource) Connect(req *corereq.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(r.cfg.DSN)
	if err != nil {
		return classify.ResourceInput("invalid sql dsn", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return classify.ResourceError("", "", "sql connect failed", true, true, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return classify.ResourceError("", "", "sql ping failed", true, true, err)
	}
	if r.cfg.MigrationsPath != "" {
		if err := migrateToLatest(ctx, r.cfg.DSN, r.cfg.MigrationsPath); err != nil {
			pool.Close()
			return classify.ResourceError("", "", "sql migration failed", true, true, err)
		}
	}
	r.pool = pool
	return nil
}

func migrateToLatest(ctx context.Context, dsn, path string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// BeginTransaction starts a pgx transaction. The xid, options and
// resource arguments are accepted for the Transactional contract but
// not used; pgx has no native named-transaction concept.
func (r *Resource) BeginTransaction(req *corereq.Request, xid string, options map[string]any, resourceArgs []any, resourceKwargs map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify.ResourceError("", "", "begin failed", true, true, err)
	}
	r.tx = tx
	return nil
}

// Execute runs args[0] as a SQL statement with args[1:] as its
// positional parameters (kwargs are not used), returning every result
// row's column values as a []any of []any, matching §4.3's free-form
// Resource.execute return convention.
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, classify.ResourceInput("sql execute requires a query string", nil)
	}
	query, ok := args[0].(string)
	if !ok {
		return nil, classify.ResourceInput("sql execute first argument must be a query string", nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()

	runner := queryRunner(r)
	rows, err := runner.Query(ctx, query, args[1:]...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classifyPgError(err)
		}
		out = append(out, vals)
	}
	return out, classifyPgError(rows.Err())
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryRunner(r *Resource) pgxQuerier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// classifyPgError maps a pgx error to the §7 taxonomy: SQL class 22xxx
// ("data exception") is recoverable and non-terminal per §4.4's
// classification mapping; anything else defaults to the conservative
// recoverable+terminal connection-level assumption.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "22" {
		return classify.ResourceError(pgErr.Code, "", pgErr.Message, true, false, err)
	}
	return classify.ResourceError("", "", "sql execute failed", true, true, err)
}

// Commit commits the active pgx transaction.
func (r *Resource) Commit(req *corereq.Request) error {
	if r.tx == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	err := r.tx.Commit(ctx)
	r.tx = nil
	if err != nil {
		return classify.TransactionCommit("sql commit failed", err)
	}
	return nil
}

// Rollback rolls the active pgx transaction back; with no active tx it
// returns nil without touching the pool (the liveness check is Ping).
func (r *Resource) Rollback(req *corereq.Request) error {
	if r.tx == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	err := r.tx.Rollback(ctx)
	r.tx = nil
	return err
}

// Ping implements respool.LivenessChecker by issuing a cheap pool ping.
func (r *Resource) Ping(req *corereq.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	return r.pool.Ping(ctx)
}

// Disconnect closes the pool, releasing every underlying connection.
func (r *Resource) Disconnect() {
	if r.pool != nil {
		r.pool.Close()
	}
}
