package schemas

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// SessionStateSchemaFile is the repo-relative path of the session document
// schema.
const SessionStateSchemaFile = "schemas/session_state.schema.json"

// StateValidator validates session aggregates against the session document
// schema. The schema is loaded once at construction.
type StateValidator struct {
	schema string
}

// NewStateValidator loads the schema from the given path. An empty path uses
// the default repo-relative location.
func NewStateValidator(schemaPath string) (*StateValidator, error) {
	if schemaPath == "" {
		schemaPath = ResolveSchemaPath(SessionStateSchemaFile)
		if schemaPath == "" {
			return nil, fmt.Errorf("session state schema not found: %s", SessionStateSchemaFile)
		}
	}
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, &SchemaLoadError{Path: schemaPath, Message: "could not read schema", Cause: err}
	}
	return &StateValidator{schema: string(data)}, nil
}

// NewStateValidatorFromString builds a validator from schema content already
// in memory.
func NewStateValidatorFromString(schemaContent string) *StateValidator {
	return &StateValidator{schema: schemaContent}
}

// Validate checks one session aggregate against the schema.
func (v *StateValidator) Validate(state *types.EnhancedSessionState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize session state: %w", err)
	}
	return ValidateJSONString(v.schema, string(doc))
}
