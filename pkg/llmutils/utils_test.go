package llmutils_test

import (
	"bytes"
	"testing"

	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/effective-security/toolbridge/pkg/llmutils"
	"github.com/stretchr/testify/assert"
)

func TestCleanJSON(t *testing.T) {
	tcases := []struct {
		in  string
		exp string
	}{
		{`Sure, here you go: {"a":1}`, `{"a":1}`},
		{`{"a":1} hope that helps!`, `{"a":1}`},
		{"```json\n[1,2,3]\n```", `[1,2,3]`},
		{`no json here`, `no json here`},
		{`[1,2] and {"a":1}`, `[1,2] and {"a":1}`},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.exp, string(llmutils.CleanJSON([]byte(tc.in))), "input: %s", tc.in)
	}
}

func TestTrimBackticks(t *testing.T) {
	assert.Equal(t, `{"a":1}`, llmutils.TrimBackticks("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, llmutils.TrimBackticks("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, llmutils.TrimBackticks(`{"a":1}`))
}

func TestMergeInputs(t *testing.T) {
	res := llmutils.MergeInputs(
		map[string]any{"a": 1, "b": 2},
		map[string]any{"b": 3, "c": 4},
	)
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, res)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", llmutils.Stringify("plain"))
	got := llmutils.Stringify(map[string]string{"a": "b"})
	assert.Contains(t, got, "```json")
	assert.Contains(t, got, `"a": "b"`)
}

func TestCountTokens(t *testing.T) {
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 5, "TotalTokens": 15}},
			{GenerationInfo: map[string]any{"PromptTokens": 1, "CompletionTokens": 2, "TotalTokens": 3}},
		},
	}
	in, out, total := llmutils.CountTokens(resp)
	assert.Equal(t, int64(11), in)
	assert.Equal(t, int64(7), out)
	assert.Equal(t, int64(18), total)
}

func TestFindLastUserQuestion(t *testing.T) {
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "first"),
		llms.MessageFromTextParts(llms.RoleAI, "answer"),
		llms.MessageFromTextParts(llms.RoleHuman, "second"),
		llms.MessageFromTextParts(llms.RoleAI, "answer2"),
	}
	assert.Equal(t, "second", llmutils.FindLastUserQuestion(msgs))
	assert.Empty(t, llmutils.FindLastUserQuestion(nil))
}

func TestEnsureEndsWithNewline(t *testing.T) {
	assert.Equal(t, "abc\n", llmutils.EnsureEndsWithNewline("  abc  "))
	assert.Equal(t, "", llmutils.EnsureEndsWithNewline("   "))
}

func TestPrintMessages(t *testing.T) {
	var buf bytes.Buffer
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "hello"),
		{
			Role: llms.RoleAI,
			Parts: []llms.ContentPart{
				llms.ToolCall{ID: "call_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`}},
			},
		},
		{
			Role: llms.RoleTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{ToolCallID: "call_1", Name: "echo", Content: "hi"},
			},
		},
	}
	llmutils.PrintMessages(&buf, msgs)
	out := buf.String()
	assert.Contains(t, out, "HUMAN: hello")
	assert.Contains(t, out, "ToolCall ID=call_1")
	assert.Contains(t, out, "ToolCallResponse ID=call_1")
}

func TestCountMessagesContentSize(t *testing.T) {
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "12345"),
	}
	assert.Equal(t, uint64(len("human")+5), llmutils.CountMessagesContentSize(msgs))
}
