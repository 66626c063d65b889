package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vellum/internal/hostctl"
	"vellum/internal/ipc"
)

func newHostCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the vellum host",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := hostExecutable()
			if err != nil {
				return err
			}

			result, err := hostctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				hostLaunchOptions(ctx, startLogLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Launching host...")
			}
			switch result.State {
			case hostctl.StartStateStarted:
				fmt.Fprintln(stdout, "Host started")
			case hostctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Host already running")
			case hostctl.StartStateRequested:
				echoStartRequested(stdout, result.Message)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Log level for the launched host (debug, info, warn, error)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the vellum host (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := hostctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, hostctl.ErrHostNotRunning) {
				fmt.Fprintln(stdout, "Host is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ShutdownAcknowledged {
				fmt.Fprintln(stdout, "Stopping host...")
			} else {
				fmt.Fprintln(stdout, "Stop requested")
			}
			echoForcedKill(stdout, result)
			fmt.Fprintln(stdout, "Host stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the vellum host",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := hostExecutable()
			if err != nil {
				return err
			}

			result, err := hostctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				hostLaunchOptions(ctx, restartLogLevel),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				echoForcedKill(stdout, result.Stop)
				fmt.Fprintln(stdout, "Host stopped")
			}
			if result.Start.State == hostctl.StartStateRequested {
				echoStartRequested(stdout, result.Start.Message)
			} else {
				fmt.Fprintln(stdout, "Host restarted")
			}
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Log level for the relaunched host (debug, info, warn, error)")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show host, engine, and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := hostctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, statusResp)
			}
			stdout := cmd.OutOrStdout()
			printStatusReport(stdout, statusResp, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the status snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func echoStartRequested(w io.Writer, message string) {
	if msg := strings.TrimSpace(message); msg != "" {
		fmt.Fprintln(w, msg)
		return
	}
	fmt.Fprintln(w, "Start requested")
}

func echoForcedKill(w io.Writer, result hostctl.StopResult) {
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(w, "Forced host process %d to exit\n", result.PID)
	}
}

func printSection(w io.Writer, title string, colorize bool) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(w, line)
	}
}

func printStatusReport(w io.Writer, resp *ipc.StatusResponse, colorize bool) {
	printSection(w, "System Status", colorize)
	for _, check := range resp.SystemChecks {
		fmt.Fprintln(w, renderStatusLine(check.Label, statusKindFromSeverity(check.Severity), check.Detail, colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Dependencies", colorize)
	for _, line := range dependencyLines(resp.Dependencies, resp.DependencySummary, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	printSection(w, "Session", colorize)
	if resp.Session == nil {
		fmt.Fprintln(w, "No active session")
		if end := resp.LastEnd; end != nil {
			fmt.Fprintln(w, renderStatusLine("Last session", statusInfo, lastEndDetail(end), colorize))
		}
		return
	}
	for _, line := range sessionLines(resp.Session, colorize) {
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	printSection(w, "Messages", colorize)
	rows := buildMessageStatRows(resp.Session.Messages)
	fmt.Fprintln(w, renderTable([]string{"Kind", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func dependencyLines(deps []ipc.DependencyStatus, summary ipc.DependencySummary, colorize bool) []string {
	lines := []string{renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize)}
	var missing []string
	for _, dep := range deps {
		state, kind := dependencyState(dep)
		lines = append(lines, renderStatusLine(dep.Name, kind, state, colorize))
		if !dep.Available {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func dependencyState(dep ipc.DependencyStatus) (string, statusKind) {
	if dep.Available {
		if dep.Command != "" {
			return "Ready (" + dep.Command + ")", statusOK
		}
		return "Ready", statusOK
	}
	detail := strings.TrimSpace(dep.Detail)
	if detail == "" {
		detail = "not available"
	}
	return detail, statusKindFromSeverity(dep.Severity)
}

func sessionLines(session *ipc.SessionView, colorize bool) []string {
	stateKind := statusInfo
	switch session.State {
	case "connected":
		stateKind = statusOK
	case "shutting down", "closed":
		stateKind = statusWarn
	}

	engine := session.EngineVersion
	if engine == "" {
		engine = "unknown"
	}
	if session.EnginePID > 0 {
		engine = fmt.Sprintf("%s (pid %d)", engine, session.EnginePID)
	}

	ui := "Detached"
	uiKind := statusInfo
	if session.UIAttached {
		ui = fmt.Sprintf("Attached %dx%d", session.UIWidth, session.UIHeight)
		uiKind = statusOK
	}

	return []string{
		renderStatusLine("Target", statusInfo, fmt.Sprintf("%s via %s", session.Target, session.Transport), colorize),
		renderStatusLine("State", stateKind, session.State, colorize),
		renderStatusLine("Started", statusInfo, session.StartedAt.Local().Format("2006-01-02 15:04:05"), colorize),
		renderStatusLine("Engine", statusInfo, engine, colorize),
		renderStatusLine("Channel", statusInfo, strconv.FormatInt(session.ChannelID, 10), colorize),
		renderStatusLine("UI", uiKind, ui, colorize),
		renderStatusLine("Pending calls", statusInfo, strconv.Itoa(session.PendingCalls), colorize),
		renderStatusLine("Write backlog", statusInfo, strconv.Itoa(session.WriteBacklog), colorize),
	}
}

func lastEndDetail(end *ipc.EndView) string {
	detail := end.Reason
	if detail == "" {
		detail = "ended"
	}
	if end.ExitCode != nil {
		detail = fmt.Sprintf("%s (exit %d)", detail, *end.ExitCode)
	}
	if !end.At.IsZero() {
		detail = fmt.Sprintf("%s at %s", detail, end.At.Local().Format("2006-01-02 15:04:05"))
	}
	return detail
}

func buildMessageStatRows(stats ipc.StatsView) [][]string {
	return [][]string{
		{"Requests", strconv.FormatInt(stats.Requests, 10)},
		{"Responses", strconv.FormatInt(stats.Responses, 10)},
		{"Notifications", strconv.FormatInt(stats.Notifications, 10)},
		{"Drops", strconv.FormatInt(stats.Drops, 10)},
	}
}

func hostExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return exe, nil
}

func hostLaunchOptions(ctx *commandContext, logLevel string) hostctl.LaunchOptions {
	opts := hostctl.LaunchOptions{LogLevel: strings.TrimSpace(logLevel)}
	if ctx.configFlag != nil {
		if path := strings.TrimSpace(*ctx.configFlag); path != "" {
			opts.ConfigPath = path
		}
	}
	return opts
}
