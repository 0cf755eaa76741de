package assistants_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/assistants"
	"github.com/effective-security/toolbridge/chatmodel"
	"github.com/effective-security/toolbridge/encoding"
	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/effective-security/toolbridge/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sysPrompt = prompts.NewPromptTemplate("You are a test assistant.")

// scriptedModel replays canned responses and records every transcript it
// was sent.
type scriptedModel struct {
	provider  llms.ProviderType
	responses []*llms.ContentResponse
	calls     int
	sent      [][]llms.Message
	lastOpts  []llms.CallOption
}

func (m *scriptedModel) GetProviderType() llms.ProviderType {
	if m.provider == "" {
		return llms.ProviderOpenAI
	}
	return m.provider
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.sent = append(m.sent, messages)
	m.lastOpts = options
	if m.calls >= len(m.responses) {
		return m.responses[len(m.responses)-1], nil
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				ID:   id,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      name,
					Arguments: args,
				},
			}},
		}},
	}
}

// fnTool is a test tool backed by a function.
type fnTool struct {
	name string
	fn   func(ctx context.Context, input string) (string, error)
}

func (t *fnTool) Name() string        { return t.name }
func (t *fnTool) Description() string { return "test tool " + t.name }
func (t *fnTool) Parameters() any     { return nil }
func (t *fnTool) Call(ctx context.Context, input string) (string, error) {
	return t.fn(ctx, input)
}

func TestRunPlainText(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("hello there")}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithName("Echo")

	resp, err := a.Call(context.Background(), &assistants.CallInput{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Choices[0].Content)
	require.Equal(t, 1, model.calls)

	// system prompt followed by the user input
	sent := model.sent[0]
	require.GreaterOrEqual(t, len(sent), 2)
	assert.Equal(t, llms.RoleSystem, sent[0].Role)
	assert.Equal(t, llms.RoleHuman, sent[1].Role)
}

func TestRunTypedOutput(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse(`{"content":"done"}`)}}
	a := assistants.NewAssistant[chatmodel.OutputResult](model, sysPrompt)

	var out chatmodel.OutputResult
	_, err := a.Run(context.Background(), &assistants.CallInput{Input: "do it"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Content)
}

func TestRunToolLoop(t *testing.T) {
	var gotArgs string
	echo := &fnTool{name: "echo", fn: func(_ context.Context, input string) (string, error) {
		gotArgs = input
		return "echoed: hi", nil
	}}

	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call_1", "echo", `{"text":"hi"}`),
		textResponse("the tool said: echoed: hi"),
	}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithTools(echo)

	resp, err := a.Call(context.Background(), &assistants.CallInput{Input: "run echo"})
	require.NoError(t, err)
	assert.Equal(t, "the tool said: echoed: hi", resp.Choices[0].Content)
	assert.Equal(t, `{"text":"hi"}`, gotArgs)
	require.Equal(t, 2, model.calls)

	// the second transcript carries the tool call and its response
	second := model.sent[1]
	var sawCall, sawResponse bool
	for _, msg := range second {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llms.ToolCall:
				sawCall = p.ID == "call_1"
			case llms.ToolCallResponse:
				sawResponse = p.ToolCallID == "call_1" && p.Content == "echoed: hi" && !p.IsError
			}
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawResponse)
}

func TestToolFailureSurfacedAsData(t *testing.T) {
	broken := &fnTool{name: "lookup", fn: func(_ context.Context, _ string) (string, error) {
		return "", errors.New("boom")
	}}

	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call_1", "lookup", `{}`),
		textResponse("could not look it up"),
	}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithTools(broken)

	resp, err := a.Call(context.Background(), &assistants.CallInput{Input: "look up"})
	require.NoError(t, err)
	assert.Equal(t, "could not look it up", resp.Choices[0].Content)

	second := model.sent[1]
	var sawError bool
	for _, msg := range second {
		for _, part := range msg.Parts {
			if p, ok := part.(llms.ToolCallResponse); ok {
				sawError = p.IsError && strings.Contains(p.Content, "boom")
			}
		}
	}
	assert.True(t, sawError)
}

func TestToolNotFoundSurfacedAsData(t *testing.T) {
	echo := &fnTool{name: "echo", fn: func(_ context.Context, input string) (string, error) {
		return input, nil
	}}

	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call_1", "translate", `{}`),
		textResponse("never mind"),
	}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithTools(echo)

	_, err := a.Call(context.Background(), &assistants.CallInput{Input: "translate this"})
	require.NoError(t, err)

	second := model.sent[1]
	var sawNotFound bool
	for _, msg := range second {
		for _, part := range msg.Parts {
			if p, ok := part.(llms.ToolCallResponse); ok {
				sawNotFound = p.IsError &&
					strings.Contains(p.Content, "Tool `translate` not found") &&
					strings.Contains(p.Content, "echo")
			}
		}
	}
	assert.True(t, sawNotFound)
}

func TestLoopExceeded(t *testing.T) {
	echo := &fnTool{name: "echo", fn: func(_ context.Context, input string) (string, error) {
		return input, nil
	}}

	// the model never stops asking for tools
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call_1", "echo", `{}`),
	}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt,
		assistants.WithMode(encoding.ModePlainText),
		assistants.WithMaxIterations(3)).
		WithName("Loopy").
		WithTools(echo)

	_, err := a.Call(context.Background(), &assistants.CallInput{Input: "go"})
	require.Error(t, err)

	var loopErr *assistants.LoopExceededError
	require.True(t, errors.As(err, &loopErr))
	assert.Equal(t, "Loopy", loopErr.Assistant)
	assert.Equal(t, 3, loopErr.Iterations)
	assert.Equal(t, 3, len(model.sent))
}

func TestConcurrentToolCalls(t *testing.T) {
	// every call blocks until all three have started
	var started sync.WaitGroup
	started.Add(3)
	var running atomic.Int32
	barrier := func(ctx context.Context, input string) (string, error) {
		running.Add(1)
		started.Done()
		started.Wait()
		return "ok", nil
	}

	model := &scriptedModel{responses: []*llms.ContentResponse{
		{
			Choices: []*llms.ContentChoice{{
				StopReason: "tool_calls",
				ToolCalls: []llms.ToolCall{
					{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "a", Arguments: `{}`}},
					{ID: "c2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "b", Arguments: `{}`}},
					{ID: "c3", Type: "function", FunctionCall: &llms.FunctionCall{Name: "c", Arguments: `{}`}},
				},
			}},
		},
		textResponse("all done"),
	}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithTools(
			&fnTool{name: "a", fn: barrier},
			&fnTool{name: "b", fn: barrier},
			&fnTool{name: "c", fn: barrier},
		)

	_, err := a.Call(context.Background(), &assistants.CallInput{Input: "fan out"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), running.Load())

	// responses come back in request order
	second := model.sent[1]
	var ids []string
	for _, msg := range second {
		for _, part := range msg.Parts {
			if p, ok := part.(llms.ToolCallResponse); ok {
				ids = append(ids, p.ToolCallID)
			}
		}
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
}

func TestFunctionCallingUnsupported(t *testing.T) {
	echo := &fnTool{name: "echo", fn: func(_ context.Context, input string) (string, error) {
		return input, nil
	}}

	model := &scriptedModel{
		provider:  llms.ProviderAzureAD,
		responses: []*llms.ContentResponse{textResponse("hi")},
	}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithTools(echo)

	_, err := a.Call(context.Background(), &assistants.CallInput{Input: "hi"})
	assert.ErrorContains(t, err, "does not support function calling")
}

func TestGetSystemPrompt(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("x")}}
	tmpl := prompts.NewPromptTemplate("You are {{.persona}}.", "persona")
	a := assistants.NewAssistant[chatmodel.OutputResult](model, tmpl,
		assistants.WithMode(encoding.ModeJSON))

	out, err := a.GetSystemPrompt(context.Background(), "", map[string]any{"persona": "a librarian"})
	require.NoError(t, err)
	assert.Contains(t, out, "You are a librarian.")
	// json mode has no response format, so the schema rides in the prompt
	assert.Contains(t, out, "# OUTPUT SCHEMA")
}

func TestAssistantTool(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse(`{"content":"42"}`)}}
	inner := assistants.NewAssistant[chatmodel.OutputResult](model, sysPrompt).
		WithName("Calculator").
		WithDescription("Computes answers.")

	tool, err := assistants.NewAssistantTool[chatmodel.InputRequest, chatmodel.OutputResult](inner)
	require.NoError(t, err)
	assert.Equal(t, "Calculator", tool.Name())

	out, err := tool.Call(context.Background(), `{"input":"what is 6 x 7"}`)
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = tool.Call(context.Background(), "{bad json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, chatmodel.ErrFailedUnmarshalInput))
}

func TestGetDescriptions(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("x")}}
	a := assistants.NewAssistant[chatmodel.String](model, sysPrompt, assistants.WithMode(encoding.ModePlainText)).
		WithName("Echo").
		WithDescription("Echoes input.")

	out := assistants.GetDescriptions(a)
	assert.Contains(t, out, "`Echo`: Echoes input.")

	m := assistants.MapAssistants(a)
	require.Len(t, m, 1)
	assert.Equal(t, a, m["Echo"])
}
