// Package sqlexec runs generated SQL against a scratch database and
// reports one result per statement.
package sqlexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Executor runs a SQL batch for a design session. A statement failure is
// reported in its Result; the returned error is for transport failures
// only (no connection, cancelled context).
type Executor interface {
	Execute(ctx context.Context, sessionID, sql string) ([]Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sessionID, sql string) ([]Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, sessionID, sql string) ([]Result, error) {
	return f(ctx, sessionID, sql)
}

// Result is the outcome of one statement.
type Result struct {
	ID       string   `json:"id"`
	SQL      string   `json:"sql"`
	Success  bool     `json:"success"`
	Result   Outcome  `json:"result"`
	Metadata Metadata `json:"metadata"`
}

type Outcome struct {
	Command  string `json:"command,omitempty"`
	RowCount int64  `json:"rowCount,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Metadata struct {
	ExecutionTime time.Duration `json:"executionTime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Failed reports whether any statement failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

// FailureReason concatenates the SQL and error of every failed statement.
func FailureReason(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if r.Success {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "SQL: %s\nError: %s", r.SQL, r.Result.Error)
	}
	return b.String()
}

// DryRunCommand is the command reported for statements DryRun skipped.
const DryRunCommand = "SKIPPED"

// DryRun returns an Executor that reports every statement as successful
// without running it. Used when no database is configured.
func DryRun() Executor {
	return ExecutorFunc(func(ctx context.Context, _ string, script string) ([]Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		statements := Split(script)
		results := make([]Result, len(statements))
		for i, stmt := range statements {
			results[i] = Result{
				ID:       uuid.NewString(),
				SQL:      stmt,
				Success:  true,
				Result:   Outcome{Command: DryRunCommand},
				Metadata: Metadata{Timestamp: now},
			}
		}
		return results, nil
	})
}
