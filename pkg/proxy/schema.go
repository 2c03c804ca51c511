package proxy

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const nativeRequestSchemaURL = "https://ccod.schemas.local/proxy/native_request.schema.json"

// nativeRequestSchema is the strict-mode shape a NativeRequest body must
// satisfy before it is forwarded upstream. It only constrains what the
// translator actually reads; anything else in the body passes through
// untouched.
const nativeRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["model", "max_tokens", "messages"],
	"properties": {
		"model": {"type": "string", "minLength": 1},
		"max_tokens": {"type": "integer", "minimum": 1},
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string", "enum": ["user", "assistant", "system"]}
				}
			}
		}
	}
}`

// bodySchema compiles and holds the schema used to reject malformed
// request bodies before they reach the translator, when strict
// validation is enabled.
type bodySchema struct {
	compiled *jsonschema.Schema
}

func newBodySchema() (*bodySchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(nativeRequestSchemaURL, strings.NewReader(nativeRequestSchema)); err != nil {
		return nil, fmt.Errorf("proxy: load request schema: %w", err)
	}
	compiled, err := c.Compile(nativeRequestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: compile request schema: %w", err)
	}
	return &bodySchema{compiled: compiled}, nil
}

// Validate checks a decoded JSON body against the native request
// schema. v is expected to be the result of json.Unmarshal into
// map[string]any or any, per jsonschema/v5's validation contract.
func (s *bodySchema) Validate(v any) error {
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("proxy: request failed schema validation: %w", err)
	}
	return nil
}
