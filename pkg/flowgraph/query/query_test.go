package query_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/query"
)

type progress struct {
	Done  int    `json:"done"`
	Title string `json:"title"`
}

func seeded(t *testing.T) *query.Registry {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()
	steps := []struct{ node, next string }{
		{"plan", "build"},
		{"build", "review"},
		{"review", "__end__"},
	}
	for i, step := range steps {
		state, err := json.Marshal(progress{Done: i + 1, Title: "todo app"})
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, checkpoint.New("run-1", step.node, i+1, state, step.next)))
	}
	return query.NewRegistry(store)
}

func TestRegistry_Builtins(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name string
		want any
	}{
		{query.QueryCurrentNode, "review"},
		{query.QueryNextNode, "__end__"},
		{query.QueryPath, []string{"plan", "build", "review"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(ctx, "run-1", tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("checkpoint omits state", func(t *testing.T) {
		got, err := r.Execute(ctx, "run-1", query.QueryCheckpoint)
		require.NoError(t, err)
		snap := got.(query.Snapshot)
		assert.Equal(t, 3, snap.Sequence)
		assert.Nil(t, snap.State)
	})

	t.Run("state", func(t *testing.T) {
		got, err := r.Execute(ctx, "run-1", query.QueryState)
		require.NoError(t, err)
		assert.JSONEq(t, `{"done":3,"title":"todo app"}`, string(got.(json.RawMessage)))
	})
}

func TestRegistry_CustomQueryDecodesState(t *testing.T) {
	r := seeded(t)
	require.NoError(t, r.Register("done", func(_ context.Context, snap query.Snapshot) (any, error) {
		p, err := query.Decode[progress](snap)
		return p.Done, err
	}))

	got, err := r.Execute(context.Background(), "run-1", "done")
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Contains(t, r.Names(), "done")
}

func TestRegistry_Register(t *testing.T) {
	r := query.NewRegistry(checkpoint.NewMemoryStore())
	h := func(context.Context, query.Snapshot) (any, error) { return nil, nil }

	assert.ErrorContains(t, r.Register(query.QueryState, h), "already registered")
	assert.ErrorContains(t, r.Register("", h), "name is required")
	assert.ErrorContains(t, r.Register("x", nil), "handler is required")
	assert.Equal(t, []string{"checkpoint", "current_node", "next_node", "path", "state"}, r.Names())
}

func TestRegistry_Errors(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	_, err := r.Execute(ctx, "run-1", "nope")
	assert.ErrorIs(t, err, query.ErrUnknownQuery)

	_, err = r.Execute(ctx, "run-2", query.QueryCurrentNode)
	assert.ErrorIs(t, err, query.ErrRunNotFound)

	_, err = r.Execute(ctx, "", query.QueryCurrentNode)
	assert.ErrorContains(t, err, "run id is required")
}

func TestDecode_BadState(t *testing.T) {
	_, err := query.Decode[progress](query.Snapshot{RunID: "run-1", State: json.RawMessage(`[1,2]`)})
	assert.ErrorContains(t, err, "decode state of run run-1")
}
