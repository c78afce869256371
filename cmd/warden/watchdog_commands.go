package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/ipc"
	"warden/internal/watchdogctl"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 30 * time.Second
)

func newWatchdogCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start [daemon]",
		Short: "Start the watchdog, or resume supervision of one daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if len(args) == 1 {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.StartDaemon(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, formatDaemonAction(resp))
					return nil
				})
			}

			exe, err := watchdogExecutable()
			if err != nil {
				return err
			}
			result, err := watchdogctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				launchOptions(ctx),
				startWaitTimeout,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Watchdog not running, launching...")
			}
			switch result.State {
			case watchdogctl.StartStateStarted:
				fmt.Fprintln(stdout, "Watchdog started")
			case watchdogctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Watchdog already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop [daemon]",
		Short: "Stop the watchdog and every daemon, or one daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if len(args) == 1 {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.StopDaemon(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, formatDaemonAction(resp))
					return nil
				})
			}

			result, err := watchdogctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), stopGracePeriod)
			if errors.Is(err, watchdogctl.ErrWatchdogNotRunning) {
				fmt.Fprintln(stdout, "Watchdog is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping daemons...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping watchdog process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Watchdog stopped")
			return nil
		},
		Args: cobra.MaximumNArgs(1),
	}

	restartCmd := &cobra.Command{
		Use:   "restart [daemon]",
		Short: "Restart the watchdog, or one daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if len(args) == 1 {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.RestartDaemon(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, formatDaemonAction(resp))
					return nil
				})
			}

			exe, err := watchdogExecutable()
			if err != nil {
				return err
			}
			result, err := watchdogctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				launchOptions(ctx),
				stopGracePeriod,
				startWaitTimeout,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping watchdog process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Watchdog stopped")
			}
			fmt.Fprintln(stdout, "Watchdog restarted")
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd}
}

func formatDaemonAction(resp *ipc.DaemonActionResponse) string {
	if resp == nil {
		return "No response from watchdog"
	}
	if msg := strings.TrimSpace(resp.Message); msg != "" {
		return msg
	}
	if resp.Applied {
		return "Request applied"
	}
	return "Request not applied"
}

func watchdogExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func launchOptions(ctx *commandContext) watchdogctl.LaunchOptions {
	opts := watchdogctl.LaunchOptions{}
	if socket := ctx.socketOverride(); socket != "" {
		opts.SocketPath = socket
	}
	if path := ctx.configPath(); path != "" {
		opts.ConfigPath = path
	}
	return opts
}
