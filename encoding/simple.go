package encoding

import (
	"strings"

	"github.com/effective-security/toolbridge/chatmodel"
)

// SimpleOutputParser returns the model's reply as trimmed text, with no
// schema and no format instructions.
type SimpleOutputParser struct{}

var _ chatmodel.OutputParser[chatmodel.String] = (*SimpleOutputParser)(nil)

func NewSimpleOutputParser() *SimpleOutputParser {
	return &SimpleOutputParser{}
}

func (p *SimpleOutputParser) Parse(text string) (*chatmodel.String, error) {
	return chatmodel.NewString(strings.TrimSpace(text)), nil
}

func (p *SimpleOutputParser) GetFormatInstructions() string { return "" }

func (p *SimpleOutputParser) Type() string { return "simple_parser" }
