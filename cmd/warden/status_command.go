package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"warden/internal/watchdogctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watchdog and daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			resp, err := watchdogctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, resp)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Watchdog", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if resp.Running {
				fmt.Fprintln(stdout, renderStatusLine("State", statusOK, fmt.Sprintf("Running (pid %d)", resp.PID), colorize))
			} else if resp.RunID != "" {
				fmt.Fprintln(stdout, renderStatusLine("State", statusWarn, "Not running (showing last recorded run)", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("State", statusWarn, "Not running", colorize))
			}
			if resp.RunID != "" {
				fmt.Fprintln(stdout, renderStatusLine("Run", statusInfo, resp.RunID, colorize))
			}
			if !resp.StartedAt.IsZero() {
				fmt.Fprintln(stdout, renderStatusLine("Started", statusInfo, resp.StartedAt.Format(time.RFC3339), colorize))
			}
			if resp.LogPath != "" {
				fmt.Fprintln(stdout, renderStatusLine("Log", statusInfo, resp.LogPath, colorize))
			}
			if resp.DatabasePath != "" {
				fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, resp.DatabasePath, colorize))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Daemons", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if len(resp.Daemons) == 0 {
				fmt.Fprintln(stdout, "No daemons recorded")
				return nil
			}

			rows := make([][]string, 0, len(resp.Daemons))
			for _, d := range resp.Daemons {
				rows = append(rows, []string{
					d.Name,
					stateLabel(d.State),
					formatPID(d.PID),
					formatUptime(d.StartedAt),
					yesNo(d.Healthy),
					strconv.Itoa(d.Restarts),
					dashWhenEmpty(d.LastError),
				})
			}
			table := renderTable(
				[]string{"Daemon", "State", "PID", "Uptime", "Healthy", "Restarts", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(stdout, table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	return cmd
}

func stateLabel(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return "-"
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(state, "_", " "))
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func formatUptime(startedAt time.Time) string {
	if startedAt.IsZero() {
		return "-"
	}
	uptime := time.Since(startedAt)
	if uptime < 0 {
		return "-"
	}
	return uptime.Round(time.Second).String()
}

func dashWhenEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
