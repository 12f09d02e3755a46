// Package cli описывает команды исполняемого файла devstash.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"devstash/internal/app"
	"devstash/internal/config"
	"devstash/internal/core"
	"devstash/internal/telemetry"
	"devstash/pkg/logger"
)

// Source источник вызовов из командной строки.
const Source = "cli"

// ErrInvocationFailed возвращается invoke, если команда ответила ошибкой.
var ErrInvocationFailed = errors.New("invocation failed")

// Options параметры корневой команды.
type Options struct {
	Mode    core.BuildMode
	Version string
	Logger  *slog.Logger

	// Modules подменяет модули приложения (тесты).
	Modules []core.Module
	Stdin   io.Reader
}

// New создает корневую CLI-команду. Без подкоманды запускает backend.
func New(opts Options) *cobra.Command {
	if opts.Logger == nil {
		opts.Logger = logger.New()
	}
	var configPath string

	root := &cobra.Command{
		Use:           "devstash",
		Short:         "Backend devstash: мост команд web-view",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := start(cmd, opts, configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.Run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к конфигу (yaml или toml)")

	root.AddCommand(newVersionCmd(opts))
	root.AddCommand(newCommandsCmd(opts, &configPath))
	root.AddCommand(newInvokeCmd(opts, &configPath))
	return root
}

func newVersionCmd(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", opts.Version, opts.Mode)
		},
	}
}

func newCommandsCmd(opts Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Показать зарегистрированные команды",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := start(cmd, opts, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			for _, name := range a.Commands() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newInvokeCmd(opts Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <command> [json-args]",
		Short: "Выполнить команду в процессе и напечатать ответ",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv := core.Invocation{Command: args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("args for %s are not valid json", args[0])
				}
				inv.Args = json.RawMessage(args[1])
			}

			a, cleanup, err := start(cmd, opts, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := a.Invoke(cmd.Context(), Source, inv)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if resp.Err != nil {
				return fmt.Errorf("%s: %w: %s", inv.Command, ErrInvocationFailed, resp.Err.Kind)
			}
			return nil
		},
	}
}

// start загружает конфиг, включает трейсинг и проводит bootstrap.
func start(cmd *cobra.Command, opts Options, configPath string) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, "devstash", opts.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a := app.New(app.Options{
		Mode:    opts.Mode,
		Config:  cfg,
		Logger:  opts.Logger,
		Modules: opts.Modules,
		Stdin:   opts.Stdin,
		Stdout:  cmd.OutOrStdout(),
	})
	cleanup := func() {
		if err := a.Close(); err != nil {
			opts.Logger.Warn("close app", "err", err)
		}
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			opts.Logger.Warn("telemetry shutdown", "err", err)
		}
	}
	if err := a.Bootstrap(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}
