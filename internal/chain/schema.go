package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"tododapp.mini/tdm/internal/types"
)

// Payload schemas describe shape only. Title and description lengths are
// deliberately unbounded: length limits are a client concern.
var payloadSchemaSources = map[types.TxType]string{
	types.TxCreateTodoList: `{
		"type": "object"
	}`,
	types.TxCreateTask: `{
		"type": "object",
		"required": ["list_id", "title"],
		"properties": {
			"list_id": {"type": "string", "minLength": 1},
			"title": {"type": ["string", "null"], "contentEncoding": "base64"},
			"description": {"type": ["string", "null"], "contentEncoding": "base64"}
		}
	}`,
	types.TxCompleteTask: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1}
		}
	}`,
}

type payloadSchemas struct {
	byType map[types.TxType]*jsonschema.Schema
}

func compilePayloadSchemas() (*payloadSchemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertContent = true

	out := &payloadSchemas{byType: make(map[types.TxType]*jsonschema.Schema)}
	for txType, src := range payloadSchemaSources {
		url := fmt.Sprintf("mem://payload/%s.json", txType)
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", txType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", txType, err)
		}
		out.byType[txType] = schema
	}
	return out, nil
}

func (p *payloadSchemas) validate(txType types.TxType, payload json.RawMessage) error {
	schema, ok := p.byType[txType]
	if !ok {
		return fmt.Errorf("unknown transaction type %q", txType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s payload: %s", txType, firstSchemaCause(err))
	}
	return nil
}

// firstSchemaCause walks to the deepest validation error, which names the
// offending field instead of the root.
func firstSchemaCause(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
