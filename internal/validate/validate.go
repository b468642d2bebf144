// Package validate checks operator and customer input before it reaches
// settings or the recognition service.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var branchIDPattern = regexp.MustCompile(`^BRANCH_\d{3}$`)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &FieldError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// BranchID accepts ids of the form BRANCH_000.
func BranchID(v string) error {
	if err := required("branch_id", v); err != nil {
		return err
	}
	if !branchIDPattern.MatchString(v) {
		return &FieldError{Field: "branch_id", Message: "must look like BRANCH_XXX (for example BRANCH_001)"}
	}
	return nil
}

// CustomerName requires at least 2 characters after trimming.
func CustomerName(v string) error {
	if err := required("customer_name", v); err != nil {
		return err
	}
	if len([]rune(strings.TrimSpace(v))) < 2 {
		return &FieldError{Field: "customer_name", Message: "must be at least 2 characters"}
	}
	return nil
}

// OrderDetails requires at least 3 characters after trimming.
func OrderDetails(v string) error {
	if err := required("order_details", v); err != nil {
		return err
	}
	if len([]rune(strings.TrimSpace(v))) < 3 {
		return &FieldError{Field: "order_details", Message: "must be at least 3 characters"}
	}
	return nil
}

// ServerHost requires a non-blank host.
func ServerHost(v string) error {
	return required("server_host", v)
}

// Port accepts a decimal port number in 1..65535.
func Port(field, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 || n > 65535 {
		return &FieldError{Field: field, Message: "must be a number from 1 to 65535"}
	}
	return nil
}

const settingsSchemaURL = "https://facekiosk.local/schemas/settings-update.schema.json"

const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "minProperties": 1,
  "properties": {
    "branch_id":   {"type": "string", "pattern": "^BRANCH_[0-9]{3}$"},
    "server_host": {"type": "string", "minLength": 1},
    "server_port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "http_port":   {"type": "integer", "minimum": 1, "maximum": 65535}
  }
}`

// SettingsSchema validates partial settings updates.
type SettingsSchema struct {
	schema *jsonschema.Schema
}

// NewSettingsSchema compiles the settings update schema.
func NewSettingsSchema() (*SettingsSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(settingsSchemaURL, strings.NewReader(settingsSchema)); err != nil {
		return nil, fmt.Errorf("settings schema load failed: %w", err)
	}
	compiled, err := c.Compile(settingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("settings schema compile failed: %w", err)
	}
	return &SettingsSchema{schema: compiled}, nil
}

// Decode parses a JSON settings update and validates it.
func (s *SettingsSchema) Decode(data []byte) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid settings update: %w", err)
	}
	return doc.(map[string]any), nil
}
