// Package schemas provides JSON Schema validation for structured data
// artifacts produced by pipeline stages.
package schemas

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed *.schema.json
var schemaFiles embed.FS

var (
	compiled   = make(map[string]*gojsonschema.Schema)
	compiledMu sync.Mutex
)

// ValidationError represents a schema validation failure with field paths.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s validation failed:\n", ve.Schema))
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// ValidateEvidence validates a decoded evidence array against the evidence
// schema. The value is the output of JSON extraction, not raw bytes.
func ValidateEvidence(value any) error {
	return validate("evidence.schema.json", value)
}

// ValidateClaims validates a decoded claims table against the claims schema.
func ValidateClaims(value any) error {
	return validate("claims.schema.json", value)
}

func validate(filename string, value any) error {
	schema, err := load(filename)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("failed to validate against %s: %w", filename, err)
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Schema: strings.TrimSuffix(filename, ".schema.json")}
	for _, desc := range result.Errors() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return ve
}

func load(filename string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if schema, ok := compiled[filename]; ok {
		return schema, nil
	}

	raw, err := schemaFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("schema %q not found: %w", filename, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %q: %w", filename, err)
	}
	compiled[filename] = schema
	return schema, nil
}
