package chatmodel

import "strings"

// String wraps plain text output so it satisfies the content and parsing
// contracts without a struct schema.
type String struct {
	value string
}

var (
	_ ContentProvider = String{}
	_ InputParser     = (*String)(nil)
)

func NewString(str string) *String {
	return &String{value: str}
}

// GetContent implements ContentProvider.
func (s String) GetContent() string { return s.value }

func (s String) String() string { return s.value }

func (s String) Bytes() []byte { return []byte(s.value) }

// ParseInput implements InputParser; the raw text is taken verbatim.
func (s *String) ParseInput(raw string) error {
	s.value = raw
	return nil
}

// Unmarshal accepts either a bare string or a JSON-quoted one.
func (s *String) Unmarshal(bs []byte) error {
	s.value = strings.Trim(string(bs), "\"")
	return nil
}
