package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
// Schemas are compiled in ctx, so values validated against them must
// come from the same context.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	builtin := sr.ctx.CompileString(builtinSettingsSchema, cue.Filename("schema.cue"))
	if err := builtin.Err(); err != nil {
		panic(fmt.Sprintf("config: built-in schema does not compile: %v", err))
	}

	for name, def := range map[string]string{
		"settings":     "#Settings",
		"project":      "#Project",
		"forkDefaults": "#ForkDefaults",
	} {
		sr.schemas[name] = builtin.LookupPath(cue.ParsePath(def))
	}
}

// RegisterSchema compiles and registers a CUE schema under name. When the
// source declares a definition called #<name>, that definition is the
// schema; otherwise the whole value is.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def := val.LookupPath(cue.ParsePath("#" + name)); def.Exists() {
		val = def
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and checks the result is
// concrete. The unified value is returned even when it is invalid, so
// callers can report every error it carries.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return val, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinSettingsSchema constrains a settings file before it is decoded.
// Definitions are closed, so misspelled fields are reported by CUE.
const builtinSettingsSchema = `
#HeapSize: =~"^[0-9]+[kKmMgGtT]?$"

#Project: {
	// Directory relative to the build directory
	dir?: string

	// Build script relative to dir
	script?: =~"\\.star$"
}

#ForkDefaults: {
	executable?:       string
	workingDir?:       string
	maxHeapSize?:      #HeapSize
	minHeapSize?:      #HeapSize
	systemProperties?: {[string]: string}
	jvmArgs?:          [...string]
	environment?:      {[string]: string}
}

#Settings: {
	build: {
		name:         string & !=""
		homeDir?:     string
		userHomeDir?: string
		properties?:  {[string]: string}
	}

	// Project paths start with a colon; ":" is the root project
	projects: {[=~"^:"]: #Project}

	forkDefaults?: #ForkDefaults

	policies?: [...string]

	history?: {
		enabled?: bool
		path?:    string
	}

	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error"
		format?: "console" | "json"
	}
}
`
