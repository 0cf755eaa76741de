package schema

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// ResponseFormat is the structured-output declaration sent to the model.
type ResponseFormat struct {
	Type       string                    `json:"type"`
	JSONSchema *ResponseFormatJSONSchema `json:"json_schema,omitempty"`
}

type ResponseFormatJSONSchema struct {
	Name   string                            `json:"name"`
	Strict bool                              `json:"strict"`
	Schema *ResponseFormatJSONSchemaProperty `json:"schema"`
}

type ResponseFormatJSONSchemaProperty struct {
	Type                 string                                       `json:"type"`
	Title                string                                       `json:"title,omitempty"`
	Description          string                                       `json:"description,omitempty"`
	Enum                 []any                                        `json:"enum,omitempty"`
	Default              any                                          `json:"default,omitempty"`
	Examples             []any                                        `json:"examples,omitempty"`
	Items                *ResponseFormatJSONSchemaProperty            `json:"items,omitempty"`
	Properties           map[string]*ResponseFormatJSONSchemaProperty `json:"properties,omitempty"`
	AdditionalProperties *bool                                        `json:"additionalProperties,omitempty"`
	Required             []string                                     `json:"required,omitempty"`
	Ref                  string                                       `json:"$ref,omitempty"`
}

// NewResponseFormat derives a json_schema response format from the given
// type. Strict mode is passed through to the declaration; the schema shape
// is the same either way.
func NewResponseFormat(t reflect.Type, strict bool) (*ResponseFormat, error) {
	sc, err := New(t)
	if err != nil {
		return nil, err
	}
	return &ResponseFormat{
		Type: "json_schema",
		JSONSchema: &ResponseFormatJSONSchema{
			Name:   t.Name(),
			Strict: strict,
			Schema: convertProperty(sc.Parameters),
		},
	}, nil
}

func boolPtr(v bool) *bool { return &v }

// convertProperty maps the reflected schema onto the response-format
// property shape. Objects declare additionalProperties explicitly, true
// when the source schema carries a sub-schema for them, false otherwise.
func convertProperty(in *jsonschema.Schema) *ResponseFormatJSONSchemaProperty {
	if in == nil {
		return nil
	}

	out := &ResponseFormatJSONSchemaProperty{
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Enum:        in.Enum,
		Default:     in.Default,
		Examples:    in.Examples,
		Required:    in.Required,
		Ref:         in.Ref,
	}

	switch {
	case in.AdditionalProperties != nil:
		out.AdditionalProperties = boolPtr(true)
	case in.Type == "object":
		out.AdditionalProperties = boolPtr(false)
	}

	if in.Properties != nil {
		out.Properties = make(map[string]*ResponseFormatJSONSchemaProperty, in.Properties.Len())
		for pair := in.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties[pair.Key] = convertProperty(pair.Value)
		}
	}
	if in.Items != nil {
		out.Items = convertProperty(in.Items)
	}

	return out
}
