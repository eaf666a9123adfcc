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

package builtin

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/tool"
)

// NewJSON creates the JSON processing tool. Operations: parse (default)
// decodes the input, format re-indents it, validate only checks it.
func NewJSON() (*tool.BaseTool, error) {
	return tool.New(tool.Config{
		Name:        "json",
		Description: "Parses, validates and formats JSON documents",
		Version:     "1.0.0",
		Category:    tool.CategoryData,
		Security:    tool.SecuritySafe,
		Schema: &tool.Schema{
			Parameters: []tool.ParameterDef{
				{Name: "input", Type: tool.TypeString, Required: true, Description: "JSON document"},
				{
					Name:       "operation",
					Type:       tool.TypeEnum,
					EnumValues: []string{"parse", "format", "validate"},
					Default:    "parse",
				},
			},
			Returns: tool.TypeObject,
		},
		Handler: func(_ context.Context, params map[string]any) (*component.Output, error) {
			input, _ := params["input"].(string)
			operation, _ := params["operation"].(string)

			var decoded any
			if err := json.Unmarshal([]byte(input), &decoded); err != nil {
				return nil, gerrors.Wrap(gerrors.KindComponent, "invalid JSON", err)
			}

			switch operation {
			case "validate":
				return component.NewOutput("valid"), nil
			case "format":
				pretty, err := json.MarshalIndent(decoded, "", "  ")
				if err != nil {
					return nil, gerrors.Wrap(gerrors.KindComponent, "format JSON", err)
				}
				return component.NewOutput(string(pretty)), nil
			default:
				out := component.NewOutput(input)
				out.Fields = map[string]any{"data": decoded}
				return out, nil
			}
		},
	})
}
