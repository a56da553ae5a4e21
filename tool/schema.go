package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles each tool's InputSchema exactly once and reuses the
// compiled form across every invocation, mirroring the teacher's "compile
// patterns once at filter construction" design note (spec §9) applied to
// JSON Schema instead of regexes.
type schemaCache struct {
	mu     sync.Mutex
	byJSON map[string]*jsonschema.Schema
}

var globalSchemaCache = &schemaCache{byJSON: make(map[string]*jsonschema.Schema)}

// compile returns the compiled schema for raw, compiling and caching it on
// first use. A nil/empty schema compiles to nil (no validation).
func (c *schemaCache) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	key := string(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byJSON[key]; ok {
		return s, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool: invalid input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const resourceID = "mem://tool-input-schema"
	if err := compiler.AddResource(resourceID, doc); err != nil {
		return nil, fmt.Errorf("tool: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("tool: compile input schema: %w", err)
	}
	c.byJSON[key] = schema
	return schema, nil
}

// ValidateArguments validates raw JSON arguments against schema (as compiled
// and cached by the package-level schema cache). A nil schema always
// validates.
func ValidateArguments(schema json.RawMessage, rawArgs []byte) error {
	compiled, err := globalSchemaCache.compile(schema)
	if err != nil {
		return err
	}
	if compiled == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(rawArgs, &doc); err != nil {
		return fmt.Errorf("tool: invalid arguments JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool: arguments do not satisfy schema: %w", err)
	}
	return nil
}
