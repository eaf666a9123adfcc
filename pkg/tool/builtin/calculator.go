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

// Package builtin provides the tools shipped with the runtime.
package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/tool"
)

// NewCalculator creates the arithmetic expression tool. It evaluates
// +, -, *, / and parentheses over decimal numbers.
func NewCalculator() (*tool.BaseTool, error) {
	return tool.New(tool.Config{
		Name:        "calculator",
		Description: "Evaluates arithmetic expressions",
		Version:     "1.0.0",
		Category:    tool.CategoryUtility,
		Security:    tool.SecuritySafe,
		Schema: &tool.Schema{
			Parameters: []tool.ParameterDef{
				{Name: "input", Type: tool.TypeString, Required: true, Description: "Arithmetic expression"},
			},
			Returns: tool.TypeString,
		},
		Handler: func(_ context.Context, params map[string]any) (*component.Output, error) {
			expr, _ := params["input"].(string)
			value, err := evalExpression(expr)
			if err != nil {
				return nil, gerrors.Wrap(gerrors.KindComponent, "calculator", err)
			}
			return component.NewOutput(formatNumber(value)), nil
		},
	})
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// exprParser is a recursive-descent parser over the usual precedence:
// expr := term (('+'|'-') term)* ; term := factor (('*'|'/') factor)* ;
// factor := number | '(' expr ')' | '-' factor.
type exprParser struct {
	input string
	pos   int
}

func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek('+'):
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.peek('-'):
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek('*'):
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.peek('/'):
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	switch {
	case p.peek('('):
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if !p.peek(')') {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case p.peek('-'):
		p.pos++
		value, err := p.parseFactor()
		return -value, err
	default:
		return p.parseNumber()
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsDigit(c) || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func (p *exprParser) peek(c byte) bool {
	return p.pos < len(p.input) && p.input[p.pos] == c
}

func (p *exprParser) skipSpace() {
	p.pos += len(p.input[p.pos:]) - len(strings.TrimLeft(p.input[p.pos:], " \t"))
}
