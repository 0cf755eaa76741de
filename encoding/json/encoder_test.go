package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Search struct {
	Topic string `json:"topic" jsonschema:"title=Topic,description=Topic of the search" validate:"required"`
	Query string `json:"query" jsonschema:"title=Query,description=Query to search for relevant content" validate:"required"`
}

func TestFormatInstructions(t *testing.T) {
	enc, err := NewEncoder(Search{})
	require.NoError(t, err)

	out := enc.GetFormatInstructions()
	assert.Contains(t, out, "Respond with JSON in the following JSON schema:")
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"topic"`)
	assert.Contains(t, out, `"query"`)
	assert.Contains(t, out, "Make sure to return an instance of the JSON, not the schema itself.")
}

func TestUnmarshal(t *testing.T) {
	enc, err := NewEncoder(Search{})
	require.NoError(t, err)

	var s Search
	err = enc.Unmarshal([]byte("Sure, here you go:\n```json\n{\"topic\":\"golang\",\"query\":\"what is golang\"}\n```"), &s)
	require.NoError(t, err)
	assert.Equal(t, "golang", s.Topic)
	assert.Equal(t, "what is golang", s.Query)

	js, err := enc.Marshal(&s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"golang","query":"what is golang"}`, string(js))
}

func TestValidate(t *testing.T) {
	enc, err := NewEncoder(Search{})
	require.NoError(t, err)

	assert.Error(t, enc.Validate(Search{Topic: "golang"}))
	assert.NoError(t, enc.Validate(Search{Topic: "golang", Query: "what is golang"}))
}
