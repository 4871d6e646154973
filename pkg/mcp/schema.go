package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/corralproject/corral/pkg/faults"
)

// compileSchema compiles a capability's advertised parameter schema.
// Adapters publish a JSON-schema subset (type, required, enum, properties);
// the full compiler accepts that and more.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateParams checks params against a compiled schema. A nil schema
// validates nothing. Params round-trip through JSON first so Go-native
// values (ints, nested structs) compare the way the adapter's schema
// expects.
func validateParams(op string, schema *jsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}

	buf, err := json.Marshal(params)
	if err != nil {
		return faults.E(faults.SchemaInvalid, op, fmt.Errorf("params not serializable: %w", err))
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return faults.E(faults.SchemaInvalid, op, err)
	}

	if err := schema.Validate(doc); err != nil {
		return faults.E(faults.SchemaInvalid, op, err)
	}
	return nil
}
