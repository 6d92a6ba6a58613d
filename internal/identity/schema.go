package identity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// toJSONSchema compiles a capability's ParamSchema map into a JSON Schema
// document, giving §4.1's InvalidArgument check real schema semantics
// instead of ad hoc type-tag comparisons.
func toJSONSchema(capability models.Capability) map[string]any {
	properties := make(map[string]any, len(capability.Parameters))
	var required []string
	for name, p := range capability.Parameters {
		prop := map[string]any{"type": jsonSchemaType(p.Type)}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// jsonSchemaType maps the descriptor's coarse type tags onto JSON Schema
// primitive type names. Unknown tags fall through as "string" rather than
// rejecting the whole schema, matching the source's permissive duck typing
// for any tag it doesn't specifically recognize.
func jsonSchemaType(tag string) string {
	switch tag {
	case "string", "number", "integer", "boolean", "object", "array", "null":
		return tag
	case "":
		return "string"
	default:
		return "string"
	}
}

// validateParameters compiles capability's schema and validates parameters
// against it, returning a normalized copy (defaults applied for any missing
// optional field) on success.
func validateParameters(capability models.Capability, parameters map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(parameters))
	for k, v := range parameters {
		normalized[k] = v
	}
	for name, p := range capability.Parameters {
		if _, present := normalized[name]; !present && p.Default != nil {
			normalized[name] = p.Default
		}
	}

	if len(capability.Parameters) == 0 {
		return normalized, nil
	}

	raw := toJSONSchema(capability)
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resource := "mem://" + capability.Name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	paramsJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	var instance any
	if err := json.Unmarshal(paramsJSON, &instance); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("parameters invalid: %w", err)
	}

	return normalized, nil
}
