package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolHandler executes one tool call, given the raw JSON arguments string
// the model produced, and returns the JSON result to feed back as the
// tool-role message content.
type ToolHandler func(ctx context.Context, arguments string) (string, error)

// ToolSet collects the tools available to one chat completion and drives
// the call/execute/resubmit loop their use requires.
type ToolSet struct {
	defs     []ToolDefinition
	handlers map[string]ToolHandler
}

// NewToolSet returns an empty ToolSet.
func NewToolSet() *ToolSet {
	return &ToolSet{handlers: make(map[string]ToolHandler)}
}

// Register adds a tool. params is reflected into a JSON-Schema object
// (typically a pointer to the struct the handler will unmarshal arguments
// into) describing the function's parameters.
func (ts *ToolSet) Register(name, description string, params interface{}, handler ToolHandler) {
	ts.defs = append(ts.defs, ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  SchemaOf(params),
		},
	})
	ts.handlers[name] = handler
}

// Definitions returns the tool definitions to attach to a ChatRequest.
func (ts *ToolSet) Definitions() []ToolDefinition {
	return ts.defs
}

// SchemaOf reflects a Go value into a JSON-Schema object suitable for
// ToolFunction.Parameters. Definitions are inlined rather than expressed as
// $ref so the resulting schema is self-contained for providers that don't
// resolve references.
func SchemaOf(v interface{}) map[string]interface{} {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""

	raw, err := schema.MarshalJSON()
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return m
}

// maxToolRounds bounds the call/execute/resubmit cycle so a model stuck
// requesting tools it never stops calling can't loop forever.
const maxToolRounds = 8

// RunToolLoop sends req, and for as long as the response carries tool calls,
// executes each one and resubmits the conversation with the results
// appended, until the model answers without requesting a tool or
// maxToolRounds is exceeded. A ToolChoice of "required" applies to the
// first round only; later rounds are sent with ToolChoice cleared so the
// model can answer. It enforces the required message ordering: one
// assistant message carrying ToolCalls, followed by exactly one tool
// message per call, each stamped with the matching ToolCallID.
//
// Each ToolCall's Arguments field is the raw JSON string the model
// produced; handlers are responsible for unmarshaling it into their own
// parameter type and returning a plain JSON object as the result — never an
// opaque wrapper — since that result is re-serialized verbatim as the next
// tool message's content.
func (ts *ToolSet) RunToolLoop(ctx context.Context, provider Provider, req ChatRequest) (*ChatResponse, error) {
	req.Tools = ts.defs
	messages := append([]Message(nil), req.Messages...)

	for round := 0; round < maxToolRounds; round++ {
		req.Messages = messages
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("tool loop round %d: %w", round, err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			messages = append(messages, Message{
				Role:       "tool",
				Content:    ts.invoke(ctx, call),
				ToolCallID: call.ID,
			})
		}
		if req.ToolChoice == "required" {
			req.ToolChoice = ""
		}
	}

	return nil, fmt.Errorf("llm: tool loop exceeded %d rounds without a final answer", maxToolRounds)
}

func (ts *ToolSet) invoke(ctx context.Context, call ToolCall) string {
	handler, ok := ts.handlers[call.Name]
	if !ok {
		return fmt.Sprintf(`{"error":"unknown tool %s"}`, call.Name)
	}

	result, err := handler(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf(`{"error":%s}`, jsonString(err.Error()))
	}
	return result
}

func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
