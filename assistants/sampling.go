package assistants

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/pkg/llms"
)

// NewModelSamplingHandler bridges a peer's sampling request to the model.
// Install the result with mcp.Client.SetSamplingHandler so the peer can ask
// this side for completions.
func NewModelSamplingHandler(model llms.Model) mcp.SamplingHandler {
	return func(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
		var history []llms.Message
		if params.SystemPrompt != "" {
			history = append(history, llms.MessageFromTextParts(llms.RoleSystem, params.SystemPrompt))
		}
		for _, msg := range params.Messages {
			role := llms.RoleHuman
			if msg.Role == "assistant" {
				role = llms.RoleAI
			}
			history = append(history, llms.MessageFromTextParts(role, msg.Content.Text))
		}

		var opts []llms.CallOption
		if params.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
		}
		if params.Temperature > 0 {
			opts = append(opts, llms.WithTemperature(params.Temperature))
		}
		if len(params.StopSequences) > 0 {
			opts = append(opts, llms.WithStopWords(params.StopSequences))
		}

		resp, err := model.GenerateContent(ctx, history, opts...)
		if err != nil {
			return nil, errors.WithMessage(err, "sampling request failed")
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("sampling request returned no choices")
		}

		choice := resp.Choices[0]
		return &mcp.CreateMessageResult{
			Role:       "assistant",
			Content:    mcp.NewTextContent(choice.Content),
			StopReason: choice.StopReason,
		}, nil
	}
}
