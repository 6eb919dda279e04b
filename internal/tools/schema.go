package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
)

// SchemaValidator validates a tool call's arguments against the tool's
// registered JSON Schema. Dispatcher.Dispatch and Dispatcher.Start do not
// call it; arguments are checked only where a caller calls Validate.
type SchemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator returns an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and stores the JSON Schema for a tool name. schema must
// be a valid JSON Schema document.
func (v *SchemaValidator) Register(name string, schema json.RawMessage) error {
	c := jsonschema.NewCompiler()
	url := "mem://" + name
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return ikerr.Wrap(ikerr.Parse, "tools.SchemaValidator.Register", "compile schema for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return ikerr.Wrap(ikerr.Parse, "tools.SchemaValidator.Register", "compile schema for %s: %w", name, err)
	}
	v.schemas[name] = compiled
	return nil
}

// Validate checks args against the registered schema for name. A tool
// with no registered schema is always considered valid.
func (v *SchemaValidator) Validate(name string, args json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ikerr.Wrap(ikerr.Parse, "tools.SchemaValidator.Validate", "invalid JSON arguments for %s: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return ikerr.Wrap(ikerr.InvalidArg, "tools.SchemaValidator.Validate", "%s", fmt.Sprintf("arguments for %s fail schema: %v", name, err))
	}
	return nil
}
