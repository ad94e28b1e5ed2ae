package flowgraph

import (
	"log/slog"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/observability"
)

// DefaultRecursionLimit is the transition budget used when none is set.
const DefaultRecursionLimit = 25

type runConfig struct {
	recursionLimit int

	checkpointStore        checkpoint.Store
	runID                  string
	sequence               int
	checkpointFailureFatal bool

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
	graphName      string
}

func defaultRunConfig() runConfig {
	return runConfig{
		recursionLimit: DefaultRecursionLimit,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		graphName:      "flowgraph",
	}
}

// RunOption configures a single Run, Stream or Resume call.
type RunOption func(*runConfig)

// WithRecursionLimit caps the number of node executions in one run.
// Values below 1 are ignored.
func WithRecursionLimit(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.recursionLimit = n
		}
	}
}

// WithCheckpointing saves a checkpoint after every node. Requires WithRunID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the id used for checkpoints, logs and spans.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal aborts the run when a checkpoint cannot be
// saved. By default the failure is logged and the run continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger logs run and node lifecycle events to logger.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics toggles OpenTelemetry metrics.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing toggles OpenTelemetry spans for the run and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithGraphName names the graph in spans.
func WithGraphName(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.graphName = name
		}
	}
}

// ResumeOption configures Resume.
type ResumeOption func(*resumeConfig)

type resumeConfig struct {
	replayNode bool
	runOpts    []RunOption
}

// WithReplayNode re-executes the checkpointed node instead of starting at
// the node it routed to.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithResumeRunOptions applies run options (logger, limits) to the resumed run.
func WithResumeRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}
