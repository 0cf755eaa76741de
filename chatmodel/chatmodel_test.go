package chatmodel

import (
	"context"
	goerr "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatContextBasics(t *testing.T) {
	t.Parallel()
	c := NewChatContext("cid", 123)
	require.NotNil(t, c)
	assert.Equal(t, "cid", c.GetChatID())
	assert.Equal(t, 123, c.AppData())
	assert.NotEmpty(t, c.RunID())

	c.SetChatID("newid")
	assert.Equal(t, "newid", c.GetChatID())

	val, ok := c.GetMetadata("not-found")
	assert.Nil(t, val)
	assert.False(t, ok)
	c.SetMetadata("foo", 1)
	v, ok := c.GetMetadata("foo")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestNewChatContextDefaultIDs(t *testing.T) {
	t.Parallel()
	c := NewChatContext("", nil)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.GetChatID())
	assert.NotEmpty(t, c.RunID())
	assert.NotEqual(t, c.GetChatID(), c.RunID())
}

func TestContextPlumbing(t *testing.T) {
	t.Parallel()
	c := NewChatContext("y", nil)
	ctx := WithChatContext(context.Background(), c)
	assert.Equal(t, c, GetChatContext(ctx))
	assert.Equal(t, "y", GetChatID(ctx))

	newctx, err := SetChatID(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, "bar", GetChatID(newctx))

	assert.Nil(t, GetChatContext(context.Background()))
	assert.Empty(t, GetChatID(context.Background()))
}

func TestSetChatIDError(t *testing.T) {
	t.Parallel()
	_, err := SetChatID(context.Background(), "fail")
	require.Error(t, err)
	assert.True(t, goerr.Is(err, ErrInvalidChatContext))
}

func TestNewChatIDUnique(t *testing.T) {
	id1 := NewChatID()
	id2 := NewChatID()
	assert.NotEqual(t, id1, id2)
}

func TestErrFailedUnmarshalInput(t *testing.T) {
	err := ErrFailedUnmarshalInput
	assert.True(t, goerr.Is(err, ErrFailedUnmarshalInput))
	assert.True(t, goerr.Is(errors.WithStack(err), ErrFailedUnmarshalInput))
	assert.True(t, goerr.Is(errors.Wrap(err, "test"), ErrFailedUnmarshalInput))
	assert.False(t, goerr.Is(err, ErrInvalidChatContext))
}

func TestInputRequest(t *testing.T) {
	t.Parallel()
	r := &InputRequest{}
	require.NoError(t, r.ParseInput(`{"input":"hello"}`))
	assert.Equal(t, "hello", r.Input)
	assert.Equal(t, "hello", r.GetContent())

	err := r.ParseInput("{broken}")
	require.Error(t, err)
	assert.True(t, goerr.Is(err, ErrFailedUnmarshalInput))

	ri := NewInputRequest("bar")
	assert.Equal(t, "bar", ri.Input)

	schema := &jsonschema.Schema{}
	InputRequest{}.JSONSchemaExtend(schema)
	assert.Equal(t, "Input Request", schema.Title)
}

func TestOutputResult(t *testing.T) {
	t.Parallel()
	r := OutputResult{Content: "foo"}
	assert.Equal(t, "foo", r.GetContent())

	nr := NewOutputResult("baz")
	assert.Equal(t, "baz", nr.Content)
}

func TestString(t *testing.T) {
	t.Parallel()
	s := NewString("foo")
	assert.Equal(t, "foo", s.String())
	assert.Equal(t, "foo", s.GetContent())
	assert.Equal(t, []byte("foo"), s.Bytes())

	require.NoError(t, s.ParseInput("bar"))
	assert.Equal(t, "bar", s.String())

	var u String
	require.NoError(t, u.Unmarshal([]byte("\"quoted\"")))
	assert.Equal(t, "quoted", u.String())
}

func TestStringify(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "foo", Stringify(NewString("foo")))
	assert.Equal(t, "bar", Stringify(OutputResult{Content: "bar"}))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]int{"a": 1}))
	assert.Equal(t, []byte(`{"a":1}`), ToBytes(map[string]int{"a": 1}))
}
