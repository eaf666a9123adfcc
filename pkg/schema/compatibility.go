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

package schema

import (
	"fmt"
	"reflect"

	"github.com/Masterminds/semver/v3"
)

// CompatibilityLevel classifies an upgrade.
type CompatibilityLevel string

const (
	BackwardCompatible CompatibilityLevel = "backward_compatible"
	BreakingChange     CompatibilityLevel = "breaking_change"
)

// RiskLevel grades the danger of applying a migration.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

// FieldChange records what happened to one field between versions.
type FieldChange struct {
	Field    string `json:"field"`
	Change   string `json:"change"` // added, removed, modified
	Breaking bool   `json:"breaking"`
	Detail   string `json:"detail,omitempty"`
}

// CompatibilityResult is the outcome of comparing two schema versions.
// Compatible holds exactly when BreakingChanges is empty.
type CompatibilityResult struct {
	Compatible        bool                   `json:"compatible"`
	Level             CompatibilityLevel     `json:"level"`
	BreakingChanges   []string               `json:"breaking_changes,omitempty"`
	Warnings          []string               `json:"warnings,omitempty"`
	FieldChanges      map[string]FieldChange `json:"field_changes,omitempty"`
	MigrationRequired bool                   `json:"migration_required"`
	Risk              RiskLevel              `json:"risk"`
}

// Check compares from → to and reports compatibility.
func Check(from, to *StateSchema) *CompatibilityResult {
	result := &CompatibilityResult{
		Compatible:   true,
		Level:        BackwardCompatible,
		FieldChanges: map[string]FieldChange{},
		Risk:         RiskLow,
	}

	breaking := func(msg string, risk RiskLevel) {
		result.BreakingChanges = append(result.BreakingChanges, msg)
		result.Risk = maxRisk(result.Risk, risk)
	}

	if to.Version.Major() > from.Version.Major() {
		breaking(fmt.Sprintf("major version bump %s -> %s", from.Version, to.Version), RiskHigh)
	}
	if to.Version.LessThan(from.Version) {
		breaking(fmt.Sprintf("downgrade %s -> %s", from.Version, to.Version), RiskHigh)
	}

	for name, fromField := range from.Fields {
		toField, present := to.Fields[name]
		if !present {
			change := FieldChange{Field: name, Change: "removed"}
			if fromField.Required && fromField.Default == nil {
				change.Breaking = true
				change.Detail = "removed field was required without default"
				breaking(fmt.Sprintf("field %q removed (required without default)", name), RiskHigh)
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("field %q removed", name))
				result.MigrationRequired = true
				result.Risk = maxRisk(result.Risk, RiskMedium)
			}
			result.FieldChanges[name] = change
			continue
		}

		if fromField.Type != toField.Type {
			result.FieldChanges[name] = FieldChange{
				Field: name, Change: "modified", Breaking: true,
				Detail: fmt.Sprintf("type changed %s -> %s", fromField.Type, toField.Type),
			}
			breaking(fmt.Sprintf("field %q type changed %s -> %s", name, fromField.Type, toField.Type), RiskCritical)
			continue
		}

		switch {
		case !fromField.Required && toField.Required:
			result.FieldChanges[name] = FieldChange{
				Field: name, Change: "modified", Breaking: true,
				Detail: "optional became required",
			}
			breaking(fmt.Sprintf("field %q became required", name), RiskHigh)
		case fromField.Required && !toField.Required:
			result.FieldChanges[name] = FieldChange{
				Field: name, Change: "modified", Detail: "required became optional",
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("field %q became optional", name))
		case !reflect.DeepEqual(fromField.Default, toField.Default):
			result.FieldChanges[name] = FieldChange{
				Field: name, Change: "modified", Detail: "default value changed",
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("field %q default changed", name))
			result.MigrationRequired = true
			result.Risk = maxRisk(result.Risk, RiskMedium)
		}
	}

	for name, toField := range to.Fields {
		if _, present := from.Fields[name]; present {
			continue
		}
		change := FieldChange{Field: name, Change: "added"}
		if toField.Required && toField.Default == nil {
			change.Breaking = true
			change.Detail = "added field is required without default"
			breaking(fmt.Sprintf("field %q added as required without default", name), RiskHigh)
		} else {
			result.MigrationRequired = true
			result.Risk = maxRisk(result.Risk, RiskMedium)
		}
		result.FieldChanges[name] = change
	}

	if !dependenciesEqual(from.Dependencies, to.Dependencies) {
		result.Warnings = append(result.Warnings, "dependency list changed")
	}

	if len(result.BreakingChanges) > 0 {
		result.Compatible = false
		result.Level = BreakingChange
		result.MigrationRequired = true
	}
	return result
}

func dependenciesEqual(a, b []*semver.Version) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
