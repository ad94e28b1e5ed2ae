package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/internal/config"
	"github.com/randalmurphal/schemaflow/internal/repository"
)

const clarification = "Which tables do you need?"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeAnthropic answers every Messages API call with a pre-assessment
// that asks for clarification.
func fakeAnthropic(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		text, err := json.Marshal(map[string]string{"decision": "insufficient", "response": clarification})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content":     []map[string]string{{"type": "text", "text": string(text)}},
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, llmURL, apiKey string) string {
	t.Helper()
	t.Setenv(config.EnvAnthropicAPIKey, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "schemaflow.yaml")
	content := fmt.Sprintf(`
storage:
  path: %q
  checkpoint_path: %q
llm:
  api_key: %q
  base_url: %q
log:
  level: error
`, filepath.Join(dir, "schemaflow.db"), filepath.Join(dir, "checkpoints.db"), apiKey, llmURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGraphCmd(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")
	out, err := execute(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart TD")
	assert.Contains(t, out, "__start__([start]) --> webSearch")
	assert.Contains(t, out, "executeDDL -.-> designSchema")

	file := filepath.Join(t.TempDir(), "graph.mmd")
	out, err = execute(t, "graph", "--output", file)
	require.NoError(t, err)
	assert.Contains(t, out, "graph written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flowchart TD")
}

func TestChatCmd_RequiresAPIKey(t *testing.T) {
	cfg := writeConfig(t, "", "")
	_, err := execute(t, "chat", "--config", cfg, "--new", "hello")
	assert.ErrorIs(t, err, errNoAPIKey)
}

func TestChatCmd_RequiresSession(t *testing.T) {
	_, err := execute(t, "chat", "hello")
	assert.ErrorContains(t, err, "--new or both --session and --schema")
}

func TestChatThenQuery(t *testing.T) {
	cfg := writeConfig(t, fakeAnthropic(t).URL, "test-key")

	out, err := execute(t, "chat", "--config", cfg, "--new", "Build", "me", "an", "app")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] webSearch -> preAssessment")
	assert.Contains(t, out, "[3] finalizeArtifacts -> __end__")
	assert.Contains(t, out, clarification)

	m := regexp.MustCompile(`run (\S+) \(schema version`).FindStringSubmatch(out)
	require.Len(t, m, 2)
	runID := m[1]

	out, err = execute(t, "query", "--config", cfg, runID)
	require.NoError(t, err)
	assert.Equal(t, "status: \"completed\"\n", out)

	out, err = execute(t, "query", "--config", cfg, runID, "path", "response")
	require.NoError(t, err)
	assert.Contains(t, out, `"finalizeArtifacts"`)
	assert.Contains(t, out, `"finalResponse": "`+clarification+`"`)

	_, err = execute(t, "query", "--config", cfg, "missing-run")
	assert.Error(t, err)
}

func TestQueryCmd_List(t *testing.T) {
	cfg := writeConfig(t, "", "")
	out, err := execute(t, "query", "--config", cfg, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "status\n")
	assert.Contains(t, out, "current_node\n")
}

func TestReplayCmd_UnknownSession(t *testing.T) {
	cfg := writeConfig(t, fakeAnthropic(t).URL, "test-key")
	_, err := execute(t, "replay", "--config", cfg, "--session", "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = execute(t, "replay", "--config", cfg)
	assert.ErrorContains(t, err, "--session is required")
}
