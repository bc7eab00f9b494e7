package ibl

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateParams checks params against action's declared JSON Schema
// before a handler ever sees them, so a malformed invocation surfaces as
// InvalidInput instead of a panic or a confusing handler-level error.
// Both sides are round-tripped through encoding/json first since the
// schema compiler wants JSON-native values (float64 numbers, not ints).
func validateParams(node, actionName string, schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal action schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return fmt.Errorf("parse action schema: %w", err)
	}

	resourceURL := fmt.Sprintf("ibl://%s/%s", node, actionName)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("compile action schema: %w", err)
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(paramBytes))
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}

	if err := compiled.Validate(instance); err != nil {
		return &InvalidInputError{
			Node:    node,
			Action:  actionName,
			Message: err.Error(),
			Cause:   err,
		}
	}
	return nil
}
