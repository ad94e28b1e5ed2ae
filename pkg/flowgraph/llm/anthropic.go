package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ferrors "github.com/randalmurphal/schemaflow/pkg/flowgraph/errors"
)

const (
	// DefaultAnthropicURL is the Messages API endpoint.
	DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	// DefaultAnthropicModel is used when neither client nor request name one.
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// AnthropicClient implements Client over the Anthropic Messages API.
// Transient failures (429, 5xx, 529) are retried with backoff.
type AnthropicClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	http      *http.Client
	retry     ferrors.RetryConfig
	logger    *slog.Logger
}

// AnthropicOption configures AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL points the client at another endpoint, such as a test server.
func WithBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.url = url }
}

// WithModel sets the default model for requests that name none.
func WithModel(model string) AnthropicOption {
	return func(c *AnthropicClient) { c.model = model }
}

// WithMaxTokens sets the default max_tokens.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) { c.maxTokens = n }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClient) { c.http = hc }
}

// WithRetry replaces the retry policy for transient failures.
func WithRetry(cfg ferrors.RetryConfig) AnthropicOption {
	return func(c *AnthropicClient) { c.retry = cfg }
}

// WithLogger sets the logger used to report retried requests.
func WithLogger(logger *slog.Logger) AnthropicOption {
	return func(c *AnthropicClient) { c.logger = logger }
}

// NewAnthropicClient creates a client authenticating with apiKey.
func NewAnthropicClient(apiKey string, opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:    apiKey,
		url:       DefaultAnthropicURL,
		model:     DefaultAnthropicModel,
		maxTokens: defaultMaxTokens,
		http:      &http.Client{Timeout: 120 * time.Second},
		retry:     ferrors.DefaultRetry,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body := c.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("anthropic request failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
				slog.Duration("wait", wait))
		}
	}

	res := ferrors.WithRetryContext(ctx, retry, func(ctx context.Context) (*CompletionResponse, error) {
		return c.send(ctx, body.Model, payload)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

func (c *AnthropicClient) send(ctx context.Context, model string, payload []byte) (*CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil {
			return nil, ferrors.Transient(err, "anthropic request")
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, ferrors.Transient(err, "read anthropic response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ferrors.HTTPError{
			StatusCode: httpResp.StatusCode,
			Message:    truncate(string(respBody), 200),
			Endpoint:   c.url,
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ferrors.JSONParseError{Input: truncate(string(respBody), 200), Message: err.Error()}
	}

	resp := &CompletionResponse{
		Model:        parsed.Model,
		FinishReason: parsed.StopReason,
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	if resp.Model == "" {
		resp.Model = model
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// buildRequest converts the provider-neutral request. Tool results become
// tool_result blocks on a user turn; consecutive results share one turn.
func (c *AnthropicClient) buildRequest(req CompletionRequest) anthropicRequest {
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.maxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	for _, tool := range req.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, anthropicTool{Name: tool.Name, Description: tool.Description, InputSchema: schema})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += m.Content
		case RoleTool:
			block := anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == string(RoleUser) && body.Messages[n-1].hasToolResults() {
				body.Messages[n-1].Content = append(body.Messages[n-1].Content, block)
				continue
			}
			body.Messages = append(body.Messages, anthropicMessage{Role: string(RoleUser), Content: []anthropicBlock{block}})
		case RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
			body.Messages = append(body.Messages, anthropicMessage{Role: string(RoleAssistant), Content: blocks})
		default:
			body.Messages = append(body.Messages, anthropicMessage{
				Role:    string(RoleUser),
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}
	return body
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

func (m anthropicMessage) hasToolResults() bool {
	for _, b := range m.Content {
		if b.Type == "tool_result" {
			return true
		}
	}
	return false
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
