package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
)

// Schema defines the structure and validation rules for a node's merged inputs
type Schema struct {
	// Properties defines the schema for each input
	Properties map[string]PropertySchema `json:"properties,omitempty"`

	// Required lists required input names
	Required []string `json:"required,omitempty"`

	// AdditionalProperties indicates if extra inputs are allowed
	AdditionalProperties bool `json:"additional_properties"`
}

type PropertySchema struct {
	// Type is the property type: string, number, integer, boolean, array or object
	Type string `json:"type"`

	// Description explains the property
	Description string `json:"description,omitempty"`

	// Pattern is a regex pattern for string validation
	Pattern string `json:"pattern,omitempty"`

	// Enum lists allowed values
	Enum []any `json:"enum,omitempty"`

	// Minimum value for numbers
	Minimum *float64 `json:"minimum,omitempty"`

	// Maximum value for numbers
	Maximum *float64 `json:"maximum,omitempty"`

	// Items defines the schema for array items
	Items *PropertySchema `json:"items,omitempty"`

	// Properties defines nested object properties
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// Validate checks values against the schema.
func (s *Schema) Validate(values map[string]any) error {
	if s == nil {
		return nil
	}

	for _, required := range s.Required {
		if _, exists := values[required]; !exists {
			return fmt.Errorf("%w: missing required input: %s", ErrSchemaViolation, required)
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if propSchema, exists := s.Properties[key]; exists {
			if err := validateProperty(values[key], propSchema); err != nil {
				return fmt.Errorf("%w: invalid value for %s: %w", ErrSchemaViolation, key, err)
			}
		} else if !s.AdditionalProperties {
			return fmt.Errorf("%w: additional input not allowed: %s", ErrSchemaViolation, key)
		}
	}

	return nil
}

func (s *Schema) compile() error {
	if s == nil {
		return nil
	}
	for name, prop := range s.Properties {
		if err := prop.compile(); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
	}
	return nil
}

func (p PropertySchema) compile() error {
	switch p.Type {
	case "", "string", "number", "integer", "boolean", "array", "object":
	default:
		return fmt.Errorf("unknown type %q", p.Type)
	}
	if p.Pattern != "" {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	if p.Items != nil {
		if err := p.Items.compile(); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	}
	for name, nested := range p.Properties {
		if err := nested.compile(); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
	}
	return nil
}

// validateProperty validates a single property against its schema
func validateProperty(value any, schema PropertySchema) error {
	if len(schema.Enum) > 0 && !inEnum(value, schema.Enum) {
		return fmt.Errorf("value %v not in enum", value)
	}

	switch schema.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string value")
		}
		if schema.Pattern != "" {
			matched, err := regexp.MatchString(schema.Pattern, str)
			if err != nil {
				return err
			}
			if !matched {
				return fmt.Errorf("value does not match pattern %q", schema.Pattern)
			}
		}

	case "number", "integer":
		num, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected number value")
		}
		if schema.Type == "integer" && num != float64(int64(num)) {
			return fmt.Errorf("expected integer value")
		}
		if schema.Minimum != nil && num < *schema.Minimum {
			return fmt.Errorf("value below minimum: %v", *schema.Minimum)
		}
		if schema.Maximum != nil && num > *schema.Maximum {
			return fmt.Errorf("value above maximum: %v", *schema.Maximum)
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean value")
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array value")
		}
		if schema.Items != nil {
			for i, item := range arr {
				if err := validateProperty(item, *schema.Items); err != nil {
					return fmt.Errorf("invalid array item at index %d: %w", i, err)
				}
			}
		}

	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object value")
		}
		for key, propSchema := range schema.Properties {
			if val, exists := obj[key]; exists {
				if err := validateProperty(val, propSchema); err != nil {
					return fmt.Errorf("invalid property %s: %w", key, err)
				}
			}
		}
	}

	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(value any, enum []any) bool {
	vf, vNum := toFloat(value)
	for _, candidate := range enum {
		if vNum {
			if cf, ok := toFloat(candidate); ok && cf == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(value, candidate) {
			return true
		}
	}
	return false
}
