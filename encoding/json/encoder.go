// Package json encodes typed values for the model and decodes the model's
// JSON replies, tolerating the code fences and prose models wrap them in.
package json

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/pkg/llmutils"
	"github.com/effective-security/toolbridge/pkg/schema"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Encoder marshals and unmarshals one request type, carrying its derived
// JSON schema for prompt instructions.
type Encoder struct {
	schema *schema.Schema
}

func NewEncoder(req any) (*Encoder, error) {
	sc, err := schema.New(reflect.TypeOf(req))
	if err != nil {
		return nil, err
	}
	return &Encoder{schema: sc}, nil
}

// Schema returns the derived schema of the request type.
func (e *Encoder) Schema() *schema.Schema {
	return e.schema
}

func (e *Encoder) Marshal(req any) ([]byte, error) {
	bs, err := json.Marshal(req)
	return bs, errors.WithStack(err)
}

// Unmarshal decodes a model reply. Fences and surrounding prose are
// stripped before decoding.
func (e *Encoder) Unmarshal(bs []byte, ret any) error {
	return errors.WithStack(json.Unmarshal(llmutils.CleanJSON(bs), ret))
}

func (e *Encoder) Validate(req any) error {
	return validate.Struct(req)
}

func (e *Encoder) GetFormatInstructions() string {
	return fmt.Sprintf("\nRespond with JSON in the following JSON schema:\n```json\n%s\n```\n"+
		"Make sure to return an instance of the JSON, not the schema itself.\n"+
		"Use the exact field names as they are defined in the schema.\n",
		e.schema.String())
}
