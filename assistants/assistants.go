// Package assistants runs the agent loop: send the transcript to the
// model, execute the tool calls it requests, feed the results back, and
// repeat until the model answers with text or the iteration limit is hit.
package assistants

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/toolbridge/chatmodel"
	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/effective-security/toolbridge/pkg/prompts"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge", "assistants")

// LoopExceededError reports a run that did not converge to a text answer
// within the iteration limit.
type LoopExceededError struct {
	Assistant  string
	Iterations int
}

func (e *LoopExceededError) Error() string {
	return fmt.Sprintf("assistant %s: loop exceeded after %d iterations", e.Assistant, e.Iterations)
}

// CallInput is the input of a single run.
type CallInput struct {
	// Input is the user message.
	Input string
	// PromptInputs are values for the system prompt template.
	PromptInputs map[string]any
	// Messages are extra transcript messages appended after the input.
	Messages []llms.Message
	// Options override the assistant configuration for this call.
	Options []Option
}

type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant, to be used in the prompt of other Assistants or LLMs.
	// Should not exceed LLM model limit.
	Description() string
	// FormatPrompt renders the system prompt from the given values.
	FormatPrompt(values map[string]any) (prompts.PromptValue, error)
	GetPromptInputVariables() []string
}

type TypeableAssistant[O chatmodel.ContentProvider] interface {
	IAssistant
	// Run executes the assistant with the given input.
	Run(ctx context.Context, input *CallInput, optionalOutputType *O) (*llms.ContentResponse, error)
}

// IAssistantTool is a tool backed by another assistant. The run loop
// passes call options through when it detects this interface.
type IAssistantTool interface {
	CallAssistant(ctx context.Context, input string, options ...Option) (string, error)
}

func GetDescriptions(list ...IAssistant) string {
	var ts strings.Builder
	for _, item := range list {
		ts.WriteString(fmt.Sprintf("- `%s`: %s\n", item.Name(), item.Description()))
	}
	return ts.String()
}

func MapAssistants(list ...IAssistant) map[string]IAssistant {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]IAssistant, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return m
}
