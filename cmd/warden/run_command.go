package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"warden/internal/watchdog"
	"warden/internal/watchdogrun"
)

// exitCodeError carries a watchdog exit code through cobra so main can
// terminate the process with it.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("watchdog exited with code %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

func (e *exitCodeError) Code() int { return e.code }

// Message returns the text to print before exiting, empty when the exit
// code alone tells the story.
func (e *exitCodeError) Message() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var daemonsFlag string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts := watchdogrun.Options{
				LogLevel:    logLevel,
				Daemons:     splitDaemonList(daemonsFlag),
				SocketPath:  ctx.socketOverride(),
				SanitizeFDs: true,
			}
			code, err := watchdogrun.Run(cmd.Context(), cfg, opts)
			if code == watchdog.ExitClean && err == nil {
				return nil
			}
			return &exitCodeError{code: code, err: err}
		},
	}

	cmd.Flags().StringVar(&daemonsFlag, "daemons", "", "Comma-separated subset of daemons to supervise")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func splitDaemonList(value string) []string {
	var names []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
