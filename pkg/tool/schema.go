// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// ParamType is the closed set of parameter types a tool may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeFloat   ParamType = "float"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeEnum    ParamType = "enum"
)

// Constraints narrows the accepted values for one parameter. All fields
// are optional; nil fields are not checked.
type Constraints struct {
	MinValue  *float64
	MaxValue  *float64
	MinLength *int
	MaxLength *int
	Pattern   string
	Custom    func(value any) error
}

// ParameterDef declares one tool parameter.
type ParameterDef struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
	EnumValues  []string
	Constraints *Constraints
}

// Schema is a tool's immutable parameter contract.
type Schema struct {
	Parameters []ParameterDef
	Returns    ParamType
}

// ApplyDefaults returns params with declared defaults filled in for
// absent parameters, required or optional. The input map is not modified.
func (s *Schema) ApplyDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, def := range s.Parameters {
		if _, present := out[def.Name]; !present && def.Default != nil {
			out[def.Name] = def.Default
		}
	}
	return out
}

// Validate checks params against the schema. With failFast the first
// violation is returned alone; otherwise all violations are joined.
func (s *Schema) Validate(params map[string]any, failFast bool) error {
	var errs []error
	fail := func(err error) bool {
		errs = append(errs, err)
		return failFast
	}

	for _, def := range s.Parameters {
		value, present := params[def.Name]
		if !present {
			if def.Required && def.Default == nil {
				if fail(gerrors.Validation(def.Name, "required parameter missing")) {
					break
				}
			}
			continue
		}
		if err := checkType(def, value); err != nil {
			if fail(err) {
				break
			}
			continue
		}
		if err := checkConstraints(def, value); err != nil {
			if fail(err) {
				break
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if failFast {
		return errs[0]
	}
	return errors.Join(errs...)
}

func checkType(def ParameterDef, value any) error {
	switch def.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return typeError(def.Name, "string", value)
		}
	case TypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return typeError(def.Name, "integer", value)
			}
		default:
			return typeError(def.Name, "integer", value)
		}
	case TypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
		default:
			return typeError(def.Name, "float", value)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeError(def.Name, "boolean", value)
		}
	case TypeArray:
		if _, ok := value.([]any); !ok {
			return typeError(def.Name, "array", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return typeError(def.Name, "object", value)
		}
	case TypeEnum:
		str, ok := value.(string)
		if !ok {
			return typeError(def.Name, "enum", value)
		}
		if !slices.Contains(def.EnumValues, str) {
			return gerrors.Validation(def.Name,
				fmt.Sprintf("value %q not in enum %v", str, def.EnumValues))
		}
	default:
		return gerrors.Validation(def.Name, fmt.Sprintf("unknown parameter type %q", def.Type))
	}
	return nil
}

func checkConstraints(def ParameterDef, value any) error {
	c := def.Constraints
	if c == nil {
		return nil
	}

	if num, ok := asFloat(value); ok {
		if c.MinValue != nil && num < *c.MinValue {
			return gerrors.Validation(def.Name, fmt.Sprintf("value %v below minimum %v", num, *c.MinValue))
		}
		if c.MaxValue != nil && num > *c.MaxValue {
			return gerrors.Validation(def.Name, fmt.Sprintf("value %v above maximum %v", num, *c.MaxValue))
		}
	}

	if str, ok := value.(string); ok {
		if c.MinLength != nil && len(str) < *c.MinLength {
			return gerrors.Validation(def.Name, fmt.Sprintf("length %d below minimum %d", len(str), *c.MinLength))
		}
		if c.MaxLength != nil && len(str) > *c.MaxLength {
			return gerrors.Validation(def.Name, fmt.Sprintf("length %d above maximum %d", len(str), *c.MaxLength))
		}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return gerrors.Validation(def.Name, fmt.Sprintf("invalid pattern %q", c.Pattern))
			}
			if !re.MatchString(str) {
				return gerrors.Validation(def.Name, fmt.Sprintf("value does not match pattern %q", c.Pattern))
			}
		}
	}

	if c.Custom != nil {
		if err := c.Custom(value); err != nil {
			return gerrors.Validation(def.Name, err.Error())
		}
	}
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func typeError(field, want string, got any) error {
	return gerrors.Validation(field, fmt.Sprintf("expected %s, got %T", want, got))
}

// JSONSchema exports the tool schema as a JSON Schema document, the
// shape protocol clients expect in kernel_info and tool listings.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, def := range s.Parameters {
		prop := &jsonschema.Schema{Description: def.Description}
		switch def.Type {
		case TypeString:
			prop.Type = "string"
		case TypeInteger:
			prop.Type = "integer"
		case TypeFloat:
			prop.Type = "number"
		case TypeBoolean:
			prop.Type = "boolean"
		case TypeArray:
			prop.Type = "array"
		case TypeObject:
			prop.Type = "object"
		case TypeEnum:
			prop.Type = "string"
			for _, v := range def.EnumValues {
				prop.Enum = append(prop.Enum, v)
			}
		}
		if def.Default != nil {
			prop.Default = def.Default
		}
		if c := def.Constraints; c != nil {
			if c.Pattern != "" {
				prop.Pattern = c.Pattern
			}
			if c.MinLength != nil {
				v := uint64(*c.MinLength)
				prop.MinLength = &v
			}
			if c.MaxLength != nil {
				v := uint64(*c.MaxLength)
				prop.MaxLength = &v
			}
			if c.MinValue != nil {
				prop.Minimum = json.Number(fmt.Sprintf("%v", *c.MinValue))
			}
			if c.MaxValue != nil {
				prop.Maximum = json.Number(fmt.Sprintf("%v", *c.MaxValue))
			}
		}
		props.Set(def.Name, prop)
		if def.Required {
			required = append(required, def.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
