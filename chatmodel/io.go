package chatmodel

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
)

// InputRequest is the generic input for an agent run.
type InputRequest struct {
	Input string `json:"input" yaml:"input" jsonschema:"title=Input,description=The input message to process."`
}

func NewInputRequest(input string) *InputRequest {
	return &InputRequest{Input: input}
}

func (r *InputRequest) ParseInput(raw string) error {
	err := json.Unmarshal([]byte(raw), r)
	if err != nil {
		return errors.WithMessage(ErrFailedUnmarshalInput, err.Error())
	}
	return nil
}

// GetContent gets the content of the message for the chat history
func (r InputRequest) GetContent() string {
	return r.Input
}

func (InputRequest) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Title = "Input Request"
}

// OutputResult is the generic output of an agent run.
type OutputResult struct {
	Content string `json:"content" yaml:"content" jsonschema:"title=Content,description=The content of the response."`
}

func NewOutputResult(content string) *OutputResult {
	return &OutputResult{Content: content}
}

// GetContent gets the content of the message for the chat history
func (r OutputResult) GetContent() string {
	return r.Content
}

var (
	_ ContentProvider = InputRequest{}
	_ ContentProvider = OutputResult{}
)
