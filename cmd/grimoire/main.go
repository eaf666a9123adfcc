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

// Command grimoire is the thin CLI shell over the kernel: serve, run,
// repl and debug. Exit codes: 0 ok, 1 user error, 2 config error,
// 3 internal error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/grimoire/pkg/config"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/logger"
)

type cli struct {
	Config   string `short:"c" help:"Path to the YAML config file."`
	LogLevel string `help:"Log level override (debug, info, warn, error)."`

	Serve serveCmd `cmd:"" help:"Bind the kernel listeners and serve clients."`
	Run   runCmd   `cmd:"" help:"Execute a script once and exit."`
	Repl  replCmd  `cmd:"" help:"Start an interactive REPL."`
	Debug debugCmd `cmd:"" help:"Run a script under the debug protocol."`
}

type appContext struct {
	cfg *config.Config
}

func main() {
	var flags cli
	parser := kong.Must(&flags,
		kong.Name("grimoire"),
		kong.Description("Scriptable agent-orchestration runtime."),
		kong.UsageOnError(),
	)

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kctx.BindTo(ctx, (*context.Context)(nil)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	if err := kctx.Run(&appContext{cfg: cfg}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func loadConfig(flags cli) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.Config != "" {
		cfg, err = config.Load(flags.Config)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	return cfg, nil
}

func exitCode(err error) int {
	switch gerrors.KindOf(err) {
	case gerrors.KindValidation:
		return 1
	case gerrors.KindConfiguration:
		return 2
	default:
		return 3
	}
}
