package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's Schema() once and reuses it across
// calls; compiling a JSON Schema document on every tool invocation would
// dominate the cost of trivial tools.
type schemaCache struct {
	mu     sync.Mutex
	byTool map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byTool: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compiled(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byTool[toolName]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	resourceName := toolName + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	c.byTool[toolName] = compiled
	return compiled, nil
}

// validate reports the first validation error, if any, for params against
// tool's declared Schema(). An empty or malformed schema document is
// treated as "anything goes" rather than rejecting every call -- a tool
// author's broken Schema() shouldn't take the tool offline.
func (c *schemaCache) validate(tool Tool, params json.RawMessage) error {
	schema := tool.Schema()
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}

	compiled, err := c.compiled(tool.Name(), schema)
	if err != nil {
		return nil
	}

	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("arguments do not match tool schema: %w", err)
	}
	return nil
}
