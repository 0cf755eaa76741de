package prompts

import (
	"strings"

	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/effective-security/toolbridge/pkg/llmutils"
)

// ChatPromptValue is a rendered multi-message prompt.
type ChatPromptValue []llms.Message

var _ PromptValue = ChatPromptValue{}

// String renders the transcript in the message-printing format.
func (v ChatPromptValue) String() string {
	var buf strings.Builder
	llmutils.PrintMessages(&buf, v)
	return buf.String()
}

// Messages returns the rendered messages.
func (v ChatPromptValue) Messages() []llms.Message {
	return v
}

// MessageFormatter renders one or more chat messages from input values.
type MessageFormatter interface {
	FormatMessages(values map[string]any) ([]llms.Message, error)
	GetInputVariables() []string
}

type messagePromptTemplate struct {
	role   llms.Role
	prompt *PromptTemplate
}

var _ MessageFormatter = (*messagePromptTemplate)(nil)

func NewSystemMessagePromptTemplate(tmpl string, inputVariables []string) MessageFormatter {
	return &messagePromptTemplate{
		role:   llms.RoleSystem,
		prompt: &PromptTemplate{Template: tmpl, InputVariables: inputVariables},
	}
}

func NewHumanMessagePromptTemplate(tmpl string, inputVariables []string) MessageFormatter {
	return &messagePromptTemplate{
		role:   llms.RoleHuman,
		prompt: &PromptTemplate{Template: tmpl, InputVariables: inputVariables},
	}
}

func NewAIMessagePromptTemplate(tmpl string, inputVariables []string) MessageFormatter {
	return &messagePromptTemplate{
		role:   llms.RoleAI,
		prompt: &PromptTemplate{Template: tmpl, InputVariables: inputVariables},
	}
}

func (m *messagePromptTemplate) GetInputVariables() []string {
	return m.prompt.InputVariables
}

func (m *messagePromptTemplate) FormatMessages(values map[string]any) ([]llms.Message, error) {
	v, err := m.prompt.FormatPrompt(values)
	if err != nil {
		return nil, err
	}
	return []llms.Message{llms.MessageFromTextParts(m.role, v.String())}, nil
}

// ChatPromptTemplate renders an ordered list of message templates.
type ChatPromptTemplate struct {
	formatters []MessageFormatter
}

var _ FormatPrompter = (*ChatPromptTemplate)(nil)

func NewChatPromptTemplate(formatters []MessageFormatter) *ChatPromptTemplate {
	return &ChatPromptTemplate{formatters: formatters}
}

func (p *ChatPromptTemplate) GetInputVariables() []string {
	var vars []string
	seen := map[string]bool{}
	for _, f := range p.formatters {
		for _, name := range f.GetInputVariables() {
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}
	return vars
}

func (p *ChatPromptTemplate) FormatPrompt(values map[string]any) (PromptValue, error) {
	var messages ChatPromptValue
	for _, f := range p.formatters {
		msgs, err := f.FormatMessages(values)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}
	return messages, nil
}
