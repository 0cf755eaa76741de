// Package prompts renders system prompts from Go text templates with
// named input variables.
package prompts

import (
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/pkg/llms"
)

// PromptValue is the rendered form of a prompt.
type PromptValue interface {
	String() string
	Messages() []llms.Message
}

// FormatPrompter renders a prompt from input values.
type FormatPrompter interface {
	FormatPrompt(values map[string]any) (PromptValue, error)
	GetInputVariables() []string
}

// StringPromptValue is a prompt value that is a string.
type StringPromptValue string

func (v StringPromptValue) String() string {
	return string(v)
}

// Messages returns a single system message with the rendered text.
func (v StringPromptValue) Messages() []llms.Message {
	return []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, string(v)),
	}
}

// PromptTemplate renders a Go text template with the given input
// variables. Missing variables fail the render.
type PromptTemplate struct {
	Template       string
	InputVariables []string
}

var _ FormatPrompter = (*PromptTemplate)(nil)

func NewPromptTemplate(tmpl string, inputVariables ...string) *PromptTemplate {
	return &PromptTemplate{
		Template:       tmpl,
		InputVariables: inputVariables,
	}
}

func (p *PromptTemplate) GetInputVariables() []string {
	return p.InputVariables
}

func (p *PromptTemplate) FormatPrompt(values map[string]any) (PromptValue, error) {
	for _, name := range p.InputVariables {
		if _, ok := values[name]; !ok {
			return nil, errors.Newf("missing prompt input: %s", name)
		}
	}

	t, err := template.New("prompt").Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid prompt template")
	}
	var buf strings.Builder
	if err := t.Execute(&buf, values); err != nil {
		return nil, errors.WithMessage(err, "failed to render prompt")
	}
	return StringPromptValue(buf.String()), nil
}
