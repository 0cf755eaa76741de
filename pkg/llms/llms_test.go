package llms_test

import (
	"testing"

	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCapabilities(t *testing.T) {
	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityFunctionCalling))
	assert.True(t, llms.ProviderAzure.Supports(llms.CapabilityJSONSchema))

	// the AD proxy only passes text through
	assert.True(t, llms.ProviderAzureAD.Supports(llms.CapabilityText))
	assert.False(t, llms.ProviderAzureAD.Supports(llms.CapabilityFunctionCalling))

	// unknown providers support nothing
	assert.False(t, llms.ProviderType("OTHER").Supports(llms.CapabilityText))
}

func TestMessageHelpers(t *testing.T) {
	msg := llms.MessageFromTextParts(llms.RoleHuman, "first", "second")
	assert.Equal(t, llms.RoleHuman, msg.Role)
	require.Len(t, msg.Parts, 2)

	call := llms.ToolCall{
		ID:   "call_1",
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "search",
			Arguments: `{"q":"go"}`,
		},
	}
	msg = llms.MessageFromToolCalls(llms.RoleAI, call)
	require.Len(t, msg.Parts, 1)
	tc, ok := msg.Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "search", tc.FunctionCall.Name)

	msg = llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
		ToolCallID: "call_1",
		Name:       "search",
		Content:    "results",
	})
	require.Len(t, msg.Parts, 1)
	tr, ok := msg.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "results", tr.Content)
}

func TestCallOptions(t *testing.T) {
	var opts llms.CallOptions
	for _, opt := range []llms.CallOption{
		llms.WithModel("gpt-5"),
		llms.WithMaxTokens(256),
		llms.WithTemperature(0.1),
		llms.WithStopWords([]string{"STOP"}),
		llms.WithSeed(42),
		llms.WithTools([]llms.Tool{{Type: "function"}}),
	} {
		opt(&opts)
	}

	assert.Equal(t, "gpt-5", opts.Model)
	assert.Equal(t, 256, opts.MaxTokens)
	assert.InDelta(t, 0.1, opts.Temperature, 1e-9)
	assert.Equal(t, []string{"STOP"}, opts.StopWords)
	assert.Equal(t, 42, opts.Seed)
	require.Len(t, opts.Tools, 1)
}
