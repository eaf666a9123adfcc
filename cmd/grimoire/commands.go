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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/kernel"
	"github.com/kadirpekel/grimoire/pkg/tool/builtin"
)

// newKernel builds a kernel with the in-process expression executor.
// Real script engines are injected by hosting processes; the CLI ships
// with arithmetic evaluation so run/repl work out of the box.
func newKernel(app *appContext) (*kernel.Kernel, error) {
	calc, err := builtin.NewCalculator()
	if err != nil {
		return nil, err
	}
	executor := kernel.ExecFunc(func(ctx context.Context, code string, stream kernel.StreamFunc) (*kernel.ScriptResult, error) {
		input := component.NewInput(code).WithParameter("input", strings.TrimSpace(code))
		out, err := calc.Execute(ctx, input)
		if err != nil {
			return nil, err
		}
		if !out.Success() {
			return nil, gerrors.New(gerrors.KindComponent, out.Error.Message)
		}
		stream("stdout", out.Text+"\n")
		return &kernel.ScriptResult{Value: out.Text}, nil
	})
	return kernel.New(app.cfg, kernel.WithScriptExecutor(executor))
}

type serveCmd struct{}

func (c *serveCmd) Run(ctx context.Context, app *appContext) error {
	k, err := newKernel(app)
	if err != nil {
		return err
	}
	return k.Serve(ctx)
}

type runCmd struct {
	Script string `arg:"" help:"Path to the script to execute."`
}

func (c *runCmd) Run(ctx context.Context, app *appContext) error {
	code, err := os.ReadFile(c.Script)
	if err != nil {
		return gerrors.Wrap(gerrors.KindValidation, "read script", err)
	}

	k, err := newKernel(app)
	if err != nil {
		return err
	}
	if err := k.Start(ctx); err != nil {
		return err
	}
	defer k.Shutdown(ctx)

	result, err := k.ExecuteScript(ctx, string(code), func(_, text string) {
		fmt.Print(text)
	})
	if err != nil {
		return err
	}
	if result.Value != nil {
		fmt.Println(result.Value)
	}
	return nil
}

type replCmd struct{}

func (c *replCmd) Run(ctx context.Context, app *appContext) error {
	k, err := newKernel(app)
	if err != nil {
		return err
	}
	if err := k.Start(ctx); err != nil {
		return err
	}
	defer k.Shutdown(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("grimoire repl (exit to quit)")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "" {
			continue
		}
		result, err := k.ExecuteScript(ctx, line, func(_, text string) {
			fmt.Print(text)
		})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if result.Value != nil {
			fmt.Println("=>", result.Value)
		}
	}
}

type debugCmd struct {
	Script string `arg:"" help:"Path to the script to debug."`
}

func (c *debugCmd) Run(ctx context.Context, app *appContext) error {
	code, err := os.ReadFile(c.Script)
	if err != nil {
		return gerrors.Wrap(gerrors.KindValidation, "read script", err)
	}

	k, err := newKernel(app)
	if err != nil {
		return err
	}
	if err := k.Start(ctx); err != nil {
		return err
	}
	defer k.Shutdown(ctx)

	sub := k.Bus().Subscribe("kernel.**")
	defer k.Bus().Unsubscribe(sub)

	result, err := k.ExecuteScript(ctx, string(code), func(_, text string) {
		fmt.Print(text)
	})
	if err != nil {
		return err
	}
	fmt.Println(result.Value)
	return nil
}
