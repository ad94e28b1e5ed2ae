package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/query"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/signal"
)

// SignalCancel stops a running workflow after its current node.
const SignalCancel = "cancel"

// Workflow queries, in addition to the query package built-ins.
const (
	QueryStatus        = "status"
	QueryRetries       = "retries"
	QuerySchemaVersion = "schema_version"
	QueryDDL           = "ddl"
	QueryResponse      = "response"
)

// Statuses reported by QueryStatus.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusInterrupted = "interrupted"
)

var (
	// ErrRunNotActive is returned when signalling a run that is not
	// executing in this process.
	ErrRunNotActive = errors.New("workflow run is not active")
	// ErrCancelled is the cancellation cause of a run stopped by
	// SignalCancel.
	ErrCancelled = errors.New("cancelled by request")
)

// DDLReport is the answer to QueryDDL.
type DDLReport struct {
	Statements    string `json:"statements,omitempty"`
	Failed        bool   `json:"failed"`
	FailureReason string `json:"failureReason,omitempty"`
	PendingRetry  bool   `json:"pendingRetry"`
}

// ResponseReport is the answer to QueryResponse.
type ResponseReport struct {
	FinalResponse string `json:"finalResponse,omitempty"`
	Error         string `json:"error,omitempty"`
	FailedNode    string `json:"failedNode,omitempty"`
}

// activeRuns tracks the cancel functions of runs executing here.
type activeRuns struct {
	mu   sync.Mutex
	runs map[string]context.CancelCauseFunc
}

func newActiveRuns() *activeRuns {
	return &activeRuns{runs: make(map[string]context.CancelCauseFunc)}
}

// track derives the run's context and registers it. release must be
// called when the run stops.
func (a *activeRuns) track(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	a.mu.Lock()
	a.runs[runID] = cancel
	a.mu.Unlock()
	return runCtx, func() {
		a.mu.Lock()
		delete(a.runs, runID)
		a.mu.Unlock()
		cancel(nil)
	}
}

func (a *activeRuns) cancel(runID string, cause error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cancel, ok := a.runs[runID]
	if ok {
		cancel(cause)
	}
	return ok
}

func (a *activeRuns) running(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.runs[runID]
	return ok
}

func (e *Executor) registerSignals() error {
	return e.signals.Register(SignalCancel, func(_ context.Context, sig *signal.Signal) error {
		cause := ErrCancelled
		if sig.Reason != "" {
			cause = fmt.Errorf("%w: %s", ErrCancelled, sig.Reason)
		}
		if !e.active.cancel(sig.RunID, cause) {
			return fmt.Errorf("%w: %s", ErrRunNotActive, sig.RunID)
		}
		return nil
	})
}

func (e *Executor) registerQueries() error {
	queries := map[string]func(snap query.Snapshot, s State) any{
		QueryStatus: func(snap query.Snapshot, _ State) any {
			switch {
			case e.active.running(snap.RunID):
				return RunStatusRunning
			case snap.NextNode == flowgraph.END:
				return RunStatusCompleted
			default:
				return RunStatusInterrupted
			}
		},
		QueryRetries: func(_ query.Snapshot, s State) any {
			if s.RetryCount == nil {
				return RetryCounts{}
			}
			return s.RetryCount
		},
		QuerySchemaVersion: func(_ query.Snapshot, s State) any {
			return s.LatestVersionNumber
		},
		QueryDDL: func(_ query.Snapshot, s State) any {
			return DDLReport{
				Statements:    s.DDLStatements,
				Failed:        s.DDLExecutionFailed,
				FailureReason: s.DDLExecutionFailureReason,
				PendingRetry:  s.ShouldRetryWithDesignSchema,
			}
		},
		QueryResponse: func(_ query.Snapshot, s State) any {
			r := ResponseReport{FinalResponse: s.FinalResponse}
			if s.Error != nil {
				r.Error = s.Error.Message
				r.FailedNode = s.Error.Node
			}
			return r
		},
	}
	var errs []error
	for name, fn := range queries {
		errs = append(errs, e.queries.Register(name, func(_ context.Context, snap query.Snapshot) (any, error) {
			s, err := query.Decode[State](snap)
			if err != nil {
				return nil, err
			}
			return fn(snap, s), nil
		}))
	}
	return errors.Join(errs...)
}

// Signal delivers a signal to a run executing in this process. The
// returned signal carries the delivery status.
func (e *Executor) Signal(ctx context.Context, runID, name, reason string) (*signal.Signal, error) {
	sig := signal.New(name, runID, reason)
	return sig, e.signals.Send(ctx, sig)
}

// Cancel stops a running workflow after its current node. The run is
// still finalized and recorded as failed.
func (e *Executor) Cancel(ctx context.Context, runID, reason string) error {
	_, err := e.Signal(ctx, runID, SignalCancel, reason)
	return err
}

// Query answers a named query from the run's latest checkpoint.
func (e *Executor) Query(ctx context.Context, runID, name string) (any, error) {
	return e.queries.Execute(ctx, runID, name)
}

// Queries lists the supported query names.
func (e *Executor) Queries() []string {
	return e.queries.Names()
}
