package llm

import (
	"context"
	"encoding/json"
	"testing"
)

// fakeToolProvider scripts a fixed sequence of ChatResponses, one per call,
// so tests can drive RunToolLoop through a specific number of rounds.
type fakeToolProvider struct {
	responses []*ChatResponse
	calls     []ChatRequest
}

func (f *fakeToolProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls = append(f.calls, req)
	resp := f.responses[len(f.calls)-1]
	return resp, nil
}

func (f *fakeToolProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

type searchArgs struct {
	Query string `json:"query"`
}

// TestRunToolLoopUnwrapsArguments is the round-trip test the strict
// tool-calling contract calls for: Arguments arrives as a JSON string and
// must be parsed into a plain struct, and the handler's JSON result must
// flow back as a plain mapping, not a wrapper, in the next tool message.
func TestRunToolLoopUnwrapsArguments(t *testing.T) {
	provider := &fakeToolProvider{
		responses: []*ChatResponse{
			{
				Content: "",
				ToolCalls: []ToolCall{
					{ID: "call_1", Type: "function", Name: "search", Arguments: `{"query":"chat noir"}`},
				},
			},
			{Content: "Le chat est noir."},
		},
	}

	var gotQuery string
	ts := NewToolSet()
	ts.Register("search", "search the corpus", searchArgs{}, func(ctx context.Context, arguments string) (string, error) {
		var args searchArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			t.Fatalf("unmarshal tool arguments: %v", err)
		}
		gotQuery = args.Query
		return `{"results":["chunk-1","chunk-2"]}`, nil
	})

	resp, err := ts.RunToolLoop(context.Background(), provider, ChatRequest{
		Messages: []Message{{Role: "user", Content: "Le chat est-il noir ?"}},
	})
	if err != nil {
		t.Fatalf("RunToolLoop: %v", err)
	}
	if resp.Content != "Le chat est noir." {
		t.Errorf("final content = %q, want %q", resp.Content, "Le chat est noir.")
	}
	if gotQuery != "chat noir" {
		t.Errorf("handler saw query = %q, want %q", gotQuery, "chat noir")
	}

	if len(provider.calls) != 2 {
		t.Fatalf("provider.calls = %d, want 2", len(provider.calls))
	}
	second := provider.calls[1].Messages
	if len(second) != 3 {
		t.Fatalf("second call had %d messages, want 3 (user, assistant-tool-call, tool-result)", len(second))
	}
	if second[1].Role != "assistant" || len(second[1].ToolCalls) != 1 {
		t.Fatalf("second message = %+v, want assistant message carrying the tool call", second[1])
	}
	if second[2].Role != "tool" || second[2].ToolCallID != "call_1" {
		t.Fatalf("third message = %+v, want tool result stamped with call_1", second[2])
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(second[2].Content), &result); err != nil {
		t.Fatalf("tool result is not a plain JSON mapping: %v", err)
	}
	if _, ok := result["results"]; !ok {
		t.Errorf("tool result missing expected key, got %v", result)
	}
}

func TestRunToolLoopNoToolCalls(t *testing.T) {
	provider := &fakeToolProvider{
		responses: []*ChatResponse{{Content: "bonjour"}},
	}
	ts := NewToolSet()

	resp, err := ts.RunToolLoop(context.Background(), provider, ChatRequest{
		Messages: []Message{{Role: "user", Content: "salut"}},
	})
	if err != nil {
		t.Fatalf("RunToolLoop: %v", err)
	}
	if resp.Content != "bonjour" {
		t.Errorf("content = %q, want %q", resp.Content, "bonjour")
	}
	if len(provider.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(provider.calls))
	}
}

func TestRunToolLoopUnknownTool(t *testing.T) {
	provider := &fakeToolProvider{
		responses: []*ChatResponse{
			{ToolCalls: []ToolCall{{ID: "call_1", Name: "missing", Arguments: `{}`}}},
			{Content: "ok"},
		},
	}
	ts := NewToolSet()

	resp, err := ts.RunToolLoop(context.Background(), provider, ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if err != nil {
		t.Fatalf("RunToolLoop: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want %q", resp.Content, "ok")
	}
	toolMsg := provider.calls[1].Messages[2]
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(toolMsg.Content), &result); err != nil {
		t.Fatalf("unknown-tool result is not valid JSON: %v", err)
	}
	if _, ok := result["error"]; !ok {
		t.Errorf("expected an error key, got %v", result)
	}
}

func TestRunToolLoopExceedsMaxRounds(t *testing.T) {
	responses := make([]*ChatResponse, maxToolRounds)
	for i := range responses {
		responses[i] = &ChatResponse{ToolCalls: []ToolCall{{ID: "call_x", Name: "loop", Arguments: `{}`}}}
	}
	provider := &fakeToolProvider{responses: responses}

	ts := NewToolSet()
	ts.Register("loop", "never stops", struct{}{}, func(ctx context.Context, arguments string) (string, error) {
		return `{}`, nil
	})

	_, err := ts.RunToolLoop(context.Background(), provider, ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected an error when the tool loop never terminates")
	}
}
