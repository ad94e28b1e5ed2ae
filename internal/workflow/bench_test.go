package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
)

func BenchmarkBuildGraph(b *testing.B) {
	f := newFixture(b, usersWithoutKey())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := BuildGraph(f.deps); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetNextNodeOrEnd(b *testing.B) {
	s := State{
		Error:      newFailure(NodePrepareDML, errors.New("boom")),
		RetryCount: RetryCounts{RetryPrepareDML: 1},
	}
	for i := 0; i < b.N; i++ {
		_ = GetNextNodeOrEnd(s, NodePrepareDML, NodeValidateSchema, DefaultMaxRetries)
	}
}

// BenchmarkExecutor_Run_Clarification measures the shortest turn:
// pre-assessment asks a question and the run finalizes.
func BenchmarkExecutor_Run_Clarification(b *testing.B) {
	f := newFixture(b, usersWithoutKey())
	f.deps.Agents.Assessor = fakeAssessor{result: agent.PreAssessment{
		Decision: agent.DecisionInsufficient,
		Response: "Which columns should todos have?",
	}}
	benchmarkRuns(b, f)
}

// BenchmarkExecutor_Run_FullPipeline runs every node once with the
// designer accepting the current schema.
func BenchmarkExecutor_Run_FullPipeline(b *testing.B) {
	f := newFixture(b, schema.Schema{Tables: map[string]schema.Table{}})
	benchmarkRuns(b, f)
}

func BenchmarkExecutor_Run_SQLiteCheckpoints(b *testing.B) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	f := newFixture(b, schema.Schema{Tables: map[string]schema.Table{}})
	benchmarkRuns(b, f, WithCheckpointStore(store))
}

func benchmarkRuns(b *testing.B, f *fixture, opts ...ExecutorOption) {
	b.Helper()
	e, err := NewExecutor(f.deps, opts...)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	p := f.params()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		final, err := e.Run(ctx, p)
		if err != nil {
			b.Fatal(err)
		}
		if final.FinalResponse == "" {
			b.Fatal("run finished without a response")
		}
	}
}
