// SPDX-License-Identifier: Apache-2.0

package fieldextract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/finchley/docflow/internal/inference"
)

// entitySchema constrains the model server's entity payload before any value
// derived from it reaches a Document. A server that returns out-of-range
// scores or unknown entity types is treated as down.
var entitySchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"text", "type"},
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "minLength": 1},
			"type": map[string]any{
				"type": "string",
				"enum": []any{"organization", "person", "money", "date"},
			},
			"score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"start": map[string]any{"type": "integer", "minimum": 0},
			"end":   map[string]any{"type": "integer", "minimum": 0},
		},
	},
}

var compiledEntitySchema = mustCompileSchema(entitySchema)

func mustCompileSchema(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("entities.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema resource: %v", err))
	}
	schema, err := compiler.Compile("entities.json")
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

func validateEntities(ents []inference.Entity) error {
	b, err := json.Marshal(ents)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal entities: %w", err)
	}
	if err := compiledEntitySchema.Validate(v); err != nil {
		return fmt.Errorf("entity payload does not match schema: %w", err)
	}
	return nil
}
