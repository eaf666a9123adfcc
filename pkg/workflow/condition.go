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

package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// EvalContext is what conditions evaluate over: the workflow's current
// shared state and the results of prior steps keyed by step name.
type EvalContext struct {
	SharedData  map[string]any
	StepResults map[string]StepResult
}

// Condition is a node of the closed condition expression tree.
// Evaluation never panics; an unknown step id evaluates to false and
// an unsupported custom expression yields an error, not false.
type Condition interface {
	Evaluate(ctx context.Context, ec *EvalContext) (bool, error)
	Describe() string
}

// Always is true.
type Always struct{}

func (Always) Evaluate(context.Context, *EvalContext) (bool, error) { return true, nil }
func (Always) Describe() string                                     { return "always" }

// Never is false.
type Never struct{}

func (Never) Evaluate(context.Context, *EvalContext) (bool, error) { return false, nil }
func (Never) Describe() string                                     { return "never" }

// SharedDataEquals compares a shared-state value against an expected
// literal.
type SharedDataEquals struct {
	Key   string
	Value any
}

func (c SharedDataEquals) Evaluate(_ context.Context, ec *EvalContext) (bool, error) {
	v, ok := ec.SharedData[c.Key]
	return ok && reflect.DeepEqual(v, c.Value), nil
}

func (c SharedDataEquals) Describe() string {
	return fmt.Sprintf("shared_data.%s == %v", c.Key, c.Value)
}

// SharedDataExists checks presence of a shared-state key.
type SharedDataExists struct {
	Key string
}

func (c SharedDataExists) Evaluate(_ context.Context, ec *EvalContext) (bool, error) {
	_, ok := ec.SharedData[c.Key]
	return ok, nil
}

func (c SharedDataExists) Describe() string {
	return fmt.Sprintf("shared_data.%s exists", c.Key)
}

// StepSucceeded is true when the named prior step succeeded. Unknown
// step ids evaluate to false.
type StepSucceeded struct {
	ID string
}

func (c StepSucceeded) Evaluate(_ context.Context, ec *EvalContext) (bool, error) {
	result, ok := ec.StepResults[c.ID]
	return ok && result.Success, nil
}

func (c StepSucceeded) Describe() string {
	return fmt.Sprintf("step_result.%s.success", c.ID)
}

// StepFailed is true when the named prior step ran and failed.
type StepFailed struct {
	ID string
}

func (c StepFailed) Evaluate(_ context.Context, ec *EvalContext) (bool, error) {
	result, ok := ec.StepResults[c.ID]
	return ok && !result.Success, nil
}

func (c StepFailed) Describe() string {
	return fmt.Sprintf("step_result.%s.failed", c.ID)
}

// StepResultEquals compares a prior step's output to an expected value.
type StepResultEquals struct {
	ID       string
	Expected any
}

func (c StepResultEquals) Evaluate(_ context.Context, ec *EvalContext) (bool, error) {
	result, ok := ec.StepResults[c.ID]
	return ok && reflect.DeepEqual(result.Output, c.Expected), nil
}

func (c StepResultEquals) Describe() string {
	return fmt.Sprintf("step_result.%s.output == %v", c.ID, c.Expected)
}

// And is true when all children are true. Empty And is vacuously true.
// Evaluation short-circuits on the first false.
type And struct {
	Conditions []Condition
}

func (c And) Evaluate(ctx context.Context, ec *EvalContext) (bool, error) {
	for _, child := range c.Conditions {
		ok, err := child.Evaluate(ctx, ec)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c And) Describe() string { return describeJoin("and", c.Conditions) }

// Or is true when any child is true. Empty Or is false. Evaluation
// short-circuits on the first true.
type Or struct {
	Conditions []Condition
}

func (c Or) Evaluate(ctx context.Context, ec *EvalContext) (bool, error) {
	for _, child := range c.Conditions {
		ok, err := child.Evaluate(ctx, ec)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c Or) Describe() string { return describeJoin("or", c.Conditions) }

// Not inverts its child.
type Not struct {
	Condition Condition
}

func (c Not) Evaluate(ctx context.Context, ec *EvalContext) (bool, error) {
	ok, err := c.Condition.Evaluate(ctx, ec)
	return !ok, err
}

func (c Not) Describe() string { return "not(" + c.Condition.Describe() + ")" }

// Custom evaluates an expression through a pluggable evaluator. The
// default evaluator compiles the expression as CEL over `shared_data`
// and `step_result` bindings.
type Custom struct {
	Expression  string
	Description string

	// Evaluator overrides the package default when set.
	Evaluator CustomEvaluator
}

// CustomEvaluator turns an expression plus eval context into a boolean.
type CustomEvaluator interface {
	EvaluateExpression(ctx context.Context, expression string, ec *EvalContext) (bool, error)
}

func (c Custom) Evaluate(ctx context.Context, ec *EvalContext) (bool, error) {
	evaluator := c.Evaluator
	if evaluator == nil {
		evaluator = defaultCELEvaluator
	}
	ok, err := evaluator.EvaluateExpression(ctx, c.Expression, ec)
	if err != nil {
		return false, gerrors.Wrap(gerrors.KindValidation,
			fmt.Sprintf("condition %q evaluation failed", c.Expression), err)
	}
	return ok, nil
}

func (c Custom) Describe() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Expression
}

func describeJoin(op string, conditions []Condition) string {
	out := op + "("
	for i, c := range conditions {
		if i > 0 {
			out += ", "
		}
		out += c.Describe()
	}
	return out + ")"
}
