package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
)

func linearGraph(t *testing.T, failAt string, failErr error) *CompiledGraph[State] {
	t.Helper()
	node := func(name string) NodeFunc[State] {
		if name == failAt {
			return makeFailingNode(failErr)
		}
		return makeTrackingNode(name)
	}
	compiled, err := NewGraph[State]().
		AddNode("a", node("a")).
		AddNode("b", node("b")).
		AddNode("c", node("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}

// TestCheckpointing_SavesEveryNode tests checkpoint history after a run.
func TestCheckpointing_SavesEveryNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearGraph(t, "", nil)

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)

	infos, err := store.List(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].NodeID)
	assert.Equal(t, "c", infos[2].NodeID)

	latest, err := store.Latest(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, END, latest.NextNode)
	assert.Equal(t, "b", latest.PrevNodeID)
}

// TestCheckpointing_RequiresRunID tests configuration validation.
func TestCheckpointing_RequiresRunID(t *testing.T) {
	compiled := linearGraph(t, "", nil)

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(checkpoint.NewMemoryStore()))
	assert.ErrorIs(t, err, ErrRunIDRequired)
}

// TestResume_AfterFailure tests continuing after a node failed.
func TestResume_AfterFailure(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	_, err := linearGraph(t, "c", errors.New("flaky")).
		Run(testCtx(), State{}, WithCheckpointing(store), WithRunID("run-2"))
	require.Error(t, err)

	result, err := linearGraph(t, "", nil).Resume(testCtx(), store, "run-2")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result.Progress)

	infos, err := store.List(context.Background(), "run-2")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, 3, infos[2].Sequence)
}

// TestResume_ReplayNode tests re-executing the checkpointed node.
func TestResume_ReplayNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	_, err := linearGraph(t, "c", errors.New("flaky")).
		Run(testCtx(), State{}, WithCheckpointing(store), WithRunID("run-3"))
	require.Error(t, err)

	result, err := linearGraph(t, "", nil).Resume(testCtx(), store, "run-3", WithReplayNode())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b", "c"}, result.Progress)
}

// TestResume_CompletedRun tests that a finished run returns its state.
func TestResume_CompletedRun(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearGraph(t, "", nil)

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store), WithRunID("run-4"))
	require.NoError(t, err)

	result, err := compiled.Resume(testCtx(), store, "run-4")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result.Progress)
}

// TestResume_Errors tests resume failure modes.
func TestResume_Errors(t *testing.T) {
	ctx := context.Background()
	compiled := linearGraph(t, "", nil)

	t.Run("no checkpoints", func(t *testing.T) {
		_, err := compiled.Resume(testCtx(), checkpoint.NewMemoryStore(), "missing")
		assert.ErrorIs(t, err, ErrNoCheckpoints)
	})

	t.Run("version mismatch", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		cp := checkpoint.New("run", "a", 1, json.RawMessage(`{}`), "b")
		cp.Version = checkpoint.Version + 1
		require.NoError(t, store.Save(ctx, cp))

		_, err := compiled.Resume(testCtx(), store, "run")
		assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
	})

	t.Run("bad state", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Save(ctx, checkpoint.New("run", "a", 1, json.RawMessage(`"text"`), "b")))

		_, err := compiled.Resume(testCtx(), store, "run")
		assert.ErrorIs(t, err, ErrDeserializeState)
	})

	t.Run("unknown node", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Save(ctx, checkpoint.New("run", "a", 1, json.RawMessage(`{}`), "ghost")))

		_, err := compiled.Resume(testCtx(), store, "run")
		assert.ErrorIs(t, err, ErrInvalidResumeNode)
	})
}
