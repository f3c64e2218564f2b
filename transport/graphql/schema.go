package graphql

import (
	"strings"

	"github.com/utcp-go/utcp/tool"
)

// introspectionType mirrors the recursive __Type shape GraphQL introspection
// returns for an argument or field type, unwrapped through NON_NULL and LIST
// wrappers down to the named SCALAR/ENUM/INPUT_OBJECT leaf.
type introspectionType struct {
	Kind   string             `json:"kind"`
	Name   *string            `json:"name"`
	OfType *introspectionType `json:"ofType"`
}

type introspectionArg struct {
	Name string            `json:"name"`
	Type introspectionType `json:"type"`
}

type introspectionField struct {
	Name        string             `json:"name"`
	Description *string            `json:"description"`
	Args        []introspectionArg `json:"args"`
}

// unwrap walks past NON_NULL/LIST wrappers to the named leaf type and
// reports whether the original type was non-null.
func unwrap(t introspectionType) (name string, isList, required bool) {
	cur := t
	if cur.Kind == "NON_NULL" {
		required = true
		if cur.OfType != nil {
			cur = *cur.OfType
		}
	}
	if cur.Kind == "LIST" {
		isList = true
		if cur.OfType != nil {
			cur = *cur.OfType
		}
		if cur.Kind == "NON_NULL" && cur.OfType != nil {
			cur = *cur.OfType
		}
	}
	if cur.Name != nil {
		name = *cur.Name
	}
	return name, isList, required
}

// jsonSchemaType maps a GraphQL scalar name to its JSON-schema type keyword.
func jsonSchemaType(graphqlName string) string {
	switch strings.ToUpper(graphqlName) {
	case "INT", "FLOAT":
		return "number"
	case "BOOLEAN":
		return "boolean"
	case "ID", "STRING":
		return "string"
	default:
		return "object"
	}
}

// fieldToTool converts one introspected query/mutation/subscription field
// into a Tool whose Inputs schema reflects the field's declared arguments.
func fieldToTool(providerName string, f introspectionField) tool.Tool {
	desc := ""
	if f.Description != nil {
		desc = *f.Description
	}
	properties := make(map[string]interface{})
	var required []string
	for _, a := range f.Args {
		name, isList, isRequired := unwrap(a.Type)
		schemaType := jsonSchemaType(name)
		prop := map[string]interface{}{"type": schemaType}
		if isList {
			prop = map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": schemaType}}
		}
		properties[a.Name] = prop
		if isRequired {
			required = append(required, a.Name)
		}
	}
	return tool.Tool{
		Name:        f.Name,
		Description: desc,
		Inputs: tool.Schema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}
