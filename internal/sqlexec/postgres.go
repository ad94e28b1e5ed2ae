package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultStatementTimeout bounds a single statement.
const DefaultStatementTimeout = 30 * time.Second

// PostgresExecutor runs each batch in a transaction inside a scratch
// schema named after the session. Every statement gets its own savepoint
// so one failure does not hide the results of the rest. The transaction
// is always rolled back; nothing is left behind in the database.
type PostgresExecutor struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

var _ Executor = (*PostgresExecutor)(nil)

// PostgresOption configures a PostgresExecutor.
type PostgresOption func(*PostgresExecutor)

// WithStatementTimeout overrides DefaultStatementTimeout.
func WithStatementTimeout(d time.Duration) PostgresOption {
	return func(e *PostgresExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) PostgresOption {
	return func(e *PostgresExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewPostgresExecutor connects a pool to dsn and pings it.
func NewPostgresExecutor(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresExecutor, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	e := &PostgresExecutor{
		pool:    pool,
		timeout: DefaultStatementTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the pool.
func (e *PostgresExecutor) Close() {
	e.pool.Close()
}

// Execute implements Executor.
func (e *PostgresExecutor) Execute(ctx context.Context, sessionID, script string) ([]Result, error) {
	statements := Split(script)
	if len(statements) == 0 {
		return nil, nil
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Warn("rollback scratch transaction", "session_id", sessionID, "error", rbErr)
		}
	}()

	scratch := pgx.Identifier{scratchSchema(sessionID)}.Sanitize()
	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+scratch); err != nil {
		return nil, fmt.Errorf("create scratch schema: %w", err)
	}
	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+scratch+", public"); err != nil {
		return nil, fmt.Errorf("set search_path: %w", err)
	}

	results := make([]Result, 0, len(statements))
	for _, stmt := range statements {
		r, err := e.executeOne(ctx, tx, stmt)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// executeOne runs stmt under a savepoint. Statement errors land in the
// result; only context and connection failures are returned.
func (e *PostgresExecutor) executeOne(ctx context.Context, tx pgx.Tx, stmt string) (Result, error) {
	r := Result{ID: uuid.NewString(), SQL: stmt}
	started := e.now()
	r.Metadata.Timestamp = started.UTC()

	sp, err := tx.Begin(ctx)
	if err != nil {
		return r, fmt.Errorf("savepoint: %w", err)
	}

	stmtCtx, cancel := context.WithTimeout(ctx, e.timeout)
	tag, execErr := sp.Exec(stmtCtx, stmt)
	cancel()
	r.Metadata.ExecutionTime = e.now().Sub(started)

	if execErr != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		if err := sp.Rollback(ctx); err != nil {
			return r, fmt.Errorf("rollback to savepoint: %w", err)
		}
		r.Result.Error = describe(execErr)
		return r, nil
	}
	if err := sp.Commit(ctx); err != nil {
		return r, fmt.Errorf("release savepoint: %w", err)
	}

	r.Success = true
	r.Result.Command = command(tag)
	r.Result.RowCount = tag.RowsAffected()
	return r, nil
}

func describe(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg += " (" + pgErr.Detail + ")"
		}
		return fmt.Sprintf("%s [%s]", msg, pgErr.Code)
	}
	return err.Error()
}

// command drops the counts from a command tag: "INSERT 0 1" is "INSERT".
func command(tag pgconn.CommandTag) string {
	var words []string
	for _, f := range strings.Fields(tag.String()) {
		if f[0] >= '0' && f[0] <= '9' {
			break
		}
		words = append(words, f)
	}
	return strings.Join(words, " ")
}

func scratchSchema(sessionID string) string {
	var b strings.Builder
	b.WriteString("session_")
	for _, r := range strings.ToLower(sessionID) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
