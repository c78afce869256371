package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/ipc"
)

func newPingCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping [daemon]",
		Short: "Probe the watchdog, or one daemon over its control socket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if len(args) == 0 {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.Ping()
					if err != nil {
						return fmt.Errorf("ping watchdog: %w", err)
					}
					fmt.Fprintf(stdout, "Watchdog answering (pid %d)\n", resp.PID)
					return nil
				})
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := args[0]
			if _, ok := cfg.Daemons[name]; !ok {
				return fmt.Errorf("unknown daemon %q", name)
			}

			control := ipc.NewDaemonControl(cfg.DaemonSocketPath(name))
			pingCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			if err := control.Ping(pingCtx); err != nil {
				return fmt.Errorf("ping %s: %w", name, err)
			}
			fmt.Fprintf(stdout, "%s answering (%s)\n", name, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Ping deadline")
	return cmd
}
