package assistants_test

import (
	"context"
	"testing"

	"github.com/effective-security/toolbridge/assistants"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelSamplingHandler(t *testing.T) {
	model := &scriptedModel{
		provider:  llms.ProviderOpenAI,
		responses: []*llms.ContentResponse{textResponse("the capital is Paris")},
	}
	handler := assistants.NewModelSamplingHandler(model)

	res, err := handler(context.Background(), &mcp.CreateMessageParams{
		SystemPrompt: "Answer briefly.",
		Messages: []mcp.SamplingMessage{
			{Role: "user", Content: mcp.NewTextContent("What is the capital of France?")},
			{Role: "assistant", Content: mcp.NewTextContent("Which France?")},
			{Role: "user", Content: mcp.NewTextContent("The country.")},
		},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant", res.Role)
	assert.Equal(t, "the capital is Paris", res.Content.Text)

	require.Len(t, model.sent, 1)
	transcript := model.sent[0]
	require.Len(t, transcript, 4)
	assert.Equal(t, llms.RoleSystem, transcript[0].Role)
	assert.Equal(t, llms.RoleHuman, transcript[1].Role)
	assert.Equal(t, llms.RoleAI, transcript[2].Role)
	assert.Equal(t, llms.RoleHuman, transcript[3].Role)
}

func TestModelSamplingHandlerEmpty(t *testing.T) {
	model := &scriptedModel{
		provider:  llms.ProviderOpenAI,
		responses: []*llms.ContentResponse{{}},
	}
	handler := assistants.NewModelSamplingHandler(model)

	_, err := handler(context.Background(), &mcp.CreateMessageParams{
		Messages: []mcp.SamplingMessage{
			{Role: "user", Content: mcp.NewTextContent("hello")},
		},
	})
	assert.EqualError(t, err, "sampling request returned no choices")
}
