package encoding

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

type stringer interface {
	String() string
}

type rawUnmarshaler interface {
	Unmarshal(bs []byte) error
}

// TextEncoder passes text through unchanged. String-like values are used
// verbatim; anything else falls back to JSON. It carries no format
// instructions, so the prompt stays untouched.
type TextEncoder struct{}

func NewTextEncoder() *TextEncoder {
	return new(TextEncoder)
}

func (e *TextEncoder) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case stringer:
		return []byte(t.String()), nil
	case string:
		return []byte(t), nil
	case *string:
		return []byte(*t), nil
	case []byte:
		return t, nil
	case *[]byte:
		return *t, nil
	}
	bs, err := json.Marshal(v)
	return bs, errors.WithStack(err)
}

func (e *TextEncoder) Unmarshal(bs []byte, ret any) error {
	switch t := ret.(type) {
	case rawUnmarshaler:
		return t.Unmarshal(bs)
	case *string:
		*t = string(bs)
		return nil
	case *[]byte:
		*t = bs
		return nil
	}
	return errors.WithStack(json.Unmarshal(bs, ret))
}

func (e *TextEncoder) Validate(any) error { return nil }

func (e *TextEncoder) GetFormatInstructions() string { return "" }
