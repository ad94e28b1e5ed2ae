// Package message models the conversation threaded through a workflow run.
package message

import (
	"encoding/json"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/llm"
)

// Kind is the closed set of message variants.
type Kind string

const (
	KindHuman Kind = "human"
	KindAI    Kind = "ai"
	KindTool  Kind = "tool"
)

// ToolCall is a tool request carried by an AI message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"args"`
}

// Message is one conversation turn.
type Message struct {
	Kind    Kind   `json:"type"`
	Content string `json:"content"`

	// ToolCalls is set on AI messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// AdditionalKwargs holds provider-specific fields. Some providers put
	// their tool calls under "tool_calls" here instead of ToolCalls.
	AdditionalKwargs map[string]json.RawMessage `json:"additional_kwargs,omitempty"`

	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Human returns a user message.
func Human(content string) Message {
	return Message{Kind: KindHuman, Content: content}
}

// AI returns an assistant message, optionally carrying tool calls.
func AI(content string, calls ...ToolCall) Message {
	return Message{Kind: KindAI, Content: content, ToolCalls: calls}
}

// Tool answers the call identified by callID.
func Tool(callID, name, content string) Message {
	return Message{Kind: KindTool, Content: content, ToolCallID: callID, Name: name}
}

// providerToolCall is the OpenAI-style encoding found in AdditionalKwargs.
type providerToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
	// Some providers use a flat shape instead.
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Calls returns the message's tool calls from whichever encoding carries
// them. The direct field wins when both are present.
func (m Message) Calls() []ToolCall {
	if m.Kind != KindAI {
		return nil
	}
	if len(m.ToolCalls) > 0 {
		return m.ToolCalls
	}
	raw, ok := m.AdditionalKwargs["tool_calls"]
	if !ok {
		return nil
	}
	var encoded []providerToolCall
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil
	}
	calls := make([]ToolCall, 0, len(encoded))
	for _, pc := range encoded {
		call := ToolCall{ID: pc.ID, Name: pc.Name, Arguments: pc.Args}
		if pc.Function.Name != "" {
			call.Name = pc.Function.Name
			call.Arguments = json.RawMessage(pc.Function.Arguments)
		}
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage(`{}`)
		}
		calls = append(calls, call)
	}
	return calls
}

// HasToolCalls reports whether m is an AI message requesting at least one
// tool, in either encoding.
func HasToolCalls(m Message) bool {
	return len(m.Calls()) > 0
}

// Last returns the final message, if any.
func Last(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Append returns a new slice; msgs is never modified.
func Append(msgs []Message, more ...Message) []Message {
	out := make([]Message, 0, len(msgs)+len(more))
	out = append(out, msgs...)
	return append(out, more...)
}

// ToLLM converts the conversation for an llm.Client.
func ToLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case KindHuman:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case KindAI:
			lm := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
			for _, c := range m.Calls() {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
			}
			out = append(out, lm)
		case KindTool:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
		}
	}
	return out
}

// FromLLM builds the AI message for a completion.
func FromLLM(resp *llm.CompletionResponse) Message {
	msg := Message{Kind: KindAI, Content: resp.Content}
	for _, c := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return msg
}

// HistoryEntry is a prior chat turn supplied by the caller, as [role, content].
type HistoryEntry [2]string

// FromHistory converts caller history. "assistant" and "ai" map to AI
// messages, everything else to human.
func FromHistory(history []HistoryEntry) []Message {
	out := make([]Message, 0, len(history))
	for _, h := range history {
		switch h[0] {
		case "assistant", "ai":
			out = append(out, AI(h[1]))
		default:
			out = append(out, Human(h[1]))
		}
	}
	return out
}
