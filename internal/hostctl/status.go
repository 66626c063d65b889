package hostctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vellum/internal/config"
	"vellum/internal/ipc"
	"vellum/internal/journal"
	"vellum/internal/preflight"
)

// BuildStatusSnapshot collects host status and applies offline fallbacks for
// journal history and dependency checks.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}

	statusResp := fetchStatus(socketPath)
	if !statusResp.Running && statusResp.Session == nil {
		fillOfflineDefaults(ctx, statusResp, socketPath, cfg)
	}

	if len(statusResp.Dependencies) == 0 {
		statusResp.Dependencies = ResolveDependencies(ctx, cfg)
	}
	for i := range statusResp.Dependencies {
		dep := &statusResp.Dependencies[i]
		if strings.TrimSpace(dep.Severity) == "" {
			dep.Severity = dependencySeverity(*dep)
		}
	}

	statusResp.SystemChecks = BuildSystemChecks(cfg, statusResp)
	statusResp.DependencySummary = BuildDependencySummary(statusResp.Dependencies)
	return statusResp, nil
}

func fetchStatus(socketPath string) *ipc.StatusResponse {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return &ipc.StatusResponse{}
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil || resp == nil {
		return &ipc.StatusResponse{}
	}
	return resp
}

// fillOfflineDefaults backfills paths and the last session end from config
// and the journal when no live host answered.
func fillOfflineDefaults(ctx context.Context, resp *ipc.StatusResponse, socketPath string, cfg *config.Config) {
	if resp.ControlSocket == "" {
		resp.ControlSocket = socketPath
	}
	if resp.LockPath == "" {
		resp.LockPath = cfg.LockFilePath()
	}
	if resp.JournalPath == "" {
		resp.JournalEnabled = cfg.Journal.Enabled
		resp.JournalPath = cfg.Journal.Path
	}
	if resp.LastEnd == nil && resp.JournalEnabled {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		resp.LastEnd = lastRecordedEnd(queryCtx, cfg)
	}
}

// lastRecordedEnd reads the newest finished session straight from the journal
// so `vellum status` can explain an exit after the host is gone.
func lastRecordedEnd(ctx context.Context, cfg *config.Config) *ipc.EndView {
	store, err := journal.Open(cfg)
	if err != nil {
		return nil
	}
	defer store.Close()

	sessions, err := store.Sessions(ctx, 1)
	if err != nil || len(sessions) == 0 {
		return nil
	}
	newest := sessions[0]
	if newest.EndedAt == nil {
		return nil
	}
	return &ipc.EndView{
		Reason:   newest.EndReason,
		ExitCode: newest.ExitCode,
		At:       *newest.EndedAt,
	}
}

func dependencySeverity(dep ipc.DependencyStatus) string {
	switch {
	case dep.Available:
		return "ok"
	case dep.Optional:
		return "warn"
	default:
		return "error"
	}
}

// ResolveDependencies returns current dependency availability for status output.
func ResolveDependencies(ctx context.Context, cfg *config.Config) []ipc.DependencyStatus {
	if cfg == nil {
		return nil
	}

	checks := preflight.CheckSystemDeps(ctx, cfg)
	statuses := make([]ipc.DependencyStatus, len(checks))
	for i, check := range checks {
		statuses[i] = ipc.DependencyStatus{
			Name:        check.Name,
			Command:     check.Command,
			Description: check.Description,
			Optional:    check.Optional,
			Available:   check.Available,
			Detail:      check.Detail,
		}
		statuses[i].Severity = dependencySeverity(statuses[i])
	}
	return statuses
}

// BuildSystemChecks resolves status lines combining runtime state and config.
func BuildSystemChecks(cfg *config.Config, resp *ipc.StatusResponse) []ipc.StatusLine {
	lines := []ipc.StatusLine{hostCheck(resp), engineCheck(resp)}
	if line, ok := uiCheck(resp); ok {
		lines = append(lines, line)
	}
	return append(lines, journalCheck(cfg, resp))
}

func hostReachable(resp *ipc.StatusResponse) bool {
	return resp != nil && (resp.HostPID > 0 || resp.Running)
}

func hostCheck(resp *ipc.StatusResponse) ipc.StatusLine {
	switch {
	case hostReachable(resp) && resp.Running:
		return ipc.StatusLine{Label: "Vellum", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", resp.HostPID)}
	case hostReachable(resp):
		return ipc.StatusLine{Label: "Vellum", Severity: "ok", Detail: fmt.Sprintf("Idle (pid %d)", resp.HostPID)}
	default:
		return ipc.StatusLine{Label: "Vellum", Severity: "warn", Detail: "Not running (run `vellum start`)"}
	}
}

func engineCheck(resp *ipc.StatusResponse) ipc.StatusLine {
	switch {
	case resp != nil && resp.Session != nil:
		s := resp.Session
		detail := fmt.Sprintf("nvim %s via %s (channel %d)", s.EngineVersion, s.Transport, s.ChannelID)
		return ipc.StatusLine{Label: "Engine", Severity: "ok", Detail: detail}
	case hostReachable(resp):
		return ipc.StatusLine{Label: "Engine", Severity: "info", Detail: "No session (run `vellum start`)"}
	default:
		return ipc.StatusLine{Label: "Engine", Severity: "info", Detail: "Unavailable (host not running)"}
	}
}

func uiCheck(resp *ipc.StatusResponse) (ipc.StatusLine, bool) {
	if resp == nil || resp.Session == nil {
		return ipc.StatusLine{}, false
	}
	if resp.Session.UIAttached {
		detail := fmt.Sprintf("%dx%d grid attached", resp.Session.UIWidth, resp.Session.UIHeight)
		return ipc.StatusLine{Label: "UI", Severity: "ok", Detail: detail}, true
	}
	return ipc.StatusLine{Label: "UI", Severity: "info", Detail: "Detached"}, true
}

func journalCheck(cfg *config.Config, resp *ipc.StatusResponse) ipc.StatusLine {
	enabled := cfg != nil && cfg.Journal.Enabled
	if resp != nil && resp.JournalPath != "" {
		enabled = resp.JournalEnabled
	}
	if enabled {
		return ipc.StatusLine{Label: "Journal", Severity: "ok", Detail: "Recording"}
	}
	return ipc.StatusLine{Label: "Journal", Severity: "info", Detail: "Disabled"}
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []ipc.DependencyStatus) ipc.DependencySummary {
	if len(deps) == 0 {
		return ipc.DependencySummary{Severity: "info", Detail: "No dependency checks configured"}
	}

	summary := ipc.DependencySummary{Total: len(deps), Severity: "ok"}
	for _, dep := range deps {
		switch {
		case dep.Available:
			summary.Available++
		case dep.Optional:
			summary.MissingOptional++
		default:
			summary.MissingRequired++
		}
	}
	switch {
	case summary.MissingRequired > 0:
		summary.Severity = "error"
	case summary.MissingOptional > 0:
		summary.Severity = "warn"
	}

	summary.Detail = fmt.Sprintf("%d/%d available", summary.Available, summary.Total)
	if summary.Available < summary.Total {
		summary.Detail = fmt.Sprintf("%d/%d available (missing: %d required, %d optional)",
			summary.Available, summary.Total, summary.MissingRequired, summary.MissingOptional)
	}
	return summary
}
