package parksapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema compiles a raw JSON Schema document. Interceptors compile
// their declared response schema once at registration time.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	return schema, nil
}

// validateResponseBody checks a response body against its declared schema.
// The returned error carries the schema diff; validation failures are
// terminal and never retried.
func validateResponseBody(schema *jsonschema.Schema, body []byte) error {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%w: response body is not valid JSON: %v", ErrValidationFailed, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}
