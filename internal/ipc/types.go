package ipc

import (
	"time"

	"vellum/internal/logging"
)

// StartRequest brings up an engine session on the host.
type StartRequest struct{}

// StartResponse indicates whether a session was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the engine session; the host keeps serving.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ShutdownRequest stops the session and asks the host process to exit.
type ShutdownRequest struct{}

// ShutdownResponse indicates whether the host accepted the shutdown.
type ShutdownResponse struct {
	Terminating bool   `json:"terminating"`
	Message     string `json:"message"`
}

// StatusRequest fetches host status.
type StatusRequest struct{}

// StatsView tallies journaled traffic by kind.
type StatsView struct {
	Requests      int64 `json:"requests"`
	Responses     int64 `json:"responses"`
	Notifications int64 `json:"notifications"`
	Drops         int64 `json:"drops"`
}

// SessionView is the wire form of a live session snapshot.
type SessionView struct {
	ID            string    `json:"id"`
	Transport     string    `json:"transport"`
	Target        string    `json:"target"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	EnginePID     int       `json:"engine_pid"`
	ChannelID     int64     `json:"channel_id"`
	EngineVersion string    `json:"engine_version"`
	UIAttached    bool      `json:"ui_attached"`
	UIWidth       int       `json:"ui_width"`
	UIHeight      int       `json:"ui_height"`
	PendingCalls  int       `json:"pending_calls"`
	WriteBacklog  int       `json:"write_backlog"`
	RedrawBatches int64     `json:"redraw_batches"`
	RedrawEvents  int64     `json:"redraw_events"`
	Messages      StatsView `json:"messages"`
}

// EndView is the wire form of the last session end.
type EndView struct {
	Reason   string    `json:"reason"`
	ExitCode *int64    `json:"exit_code,omitempty"`
	At       time.Time `json:"at"`
}

// DependencyStatus describes availability of an external dependency.
// Severity is filled client-side when the snapshot is assembled.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is a rendered readiness row (label, ok/warn/error/info, detail).
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missing_required"`
	MissingOptional int    `json:"missing_optional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// StatusResponse represents combined host/session status information.
// SystemChecks and DependencySummary are derived fields populated by the
// snapshot builder, not by the host itself.
type StatusResponse struct {
	Running           bool               `json:"running"`
	HostPID           int                `json:"host_pid"`
	RunID             string             `json:"run_id"`
	LogPath           string             `json:"log_path"`
	LockPath          string             `json:"lock_path"`
	ControlSocket     string             `json:"control_socket"`
	JournalEnabled    bool               `json:"journal_enabled"`
	JournalPath       string             `json:"journal_path"`
	JournalDrops      int64              `json:"journal_drops"`
	Session           *SessionView       `json:"session"`
	LastEnd           *EndView           `json:"last_end"`
	Dependencies      []DependencyStatus `json:"dependencies"`
	SystemChecks      []StatusLine       `json:"system_checks,omitempty"`
	DependencySummary DependencySummary  `json:"dependency_summary"`
}

// InfoRequest fetches the engine api summary.
type InfoRequest struct{}

// InfoResponse summarizes the engine's api handshake.
type InfoResponse struct {
	ChannelID int64    `json:"channel_id"`
	Version   string   `json:"version"`
	Build     string   `json:"build"`
	APILevel  int64    `json:"api_level"`
	Functions int      `json:"functions"`
	UIEvents  int      `json:"ui_events"`
	UIOptions []string `json:"ui_options"`
}

// CallRequest invokes an api method on the engine.
type CallRequest struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// CallResponse carries the decoded result of a call.
type CallResponse struct {
	Result any `json:"result"`
}

// CommandRequest runs an ex command and waits for completion.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse acknowledges a command.
type CommandResponse struct{}

// InputRequest queues raw key input; the engine never acknowledges it.
type InputRequest struct {
	Keys string `json:"keys"`
}

// InputResponse acknowledges queued input.
type InputResponse struct{}

// AttachUIRequest attaches the remote UI. Zero dimensions use the
// configured defaults.
type AttachUIRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AttachUIResponse reports the grid the UI attached with.
type AttachUIResponse struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetachUIRequest detaches the remote UI.
type DetachUIRequest struct{}

// DetachUIResponse acknowledges a detach.
type DetachUIResponse struct{}

// ResizeUIRequest resizes the attached UI grid.
type ResizeUIRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResizeUIResponse acknowledges a resize.
type ResizeUIResponse struct{}

// QuitRequest asks the engine to quit; Force discards unsaved changes.
type QuitRequest struct {
	Force bool `json:"force"`
}

// QuitResponse acknowledges a quit request.
type QuitResponse struct{}

// SessionRecord is the wire form of a journaled session.
type SessionRecord struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	Transport     string     `json:"transport"`
	Target        string     `json:"target"`
	EnginePID     int64      `json:"engine_pid"`
	ChannelID     int64      `json:"channel_id"`
	EngineVersion string     `json:"engine_version"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
	ExitCode      *int64     `json:"exit_code,omitempty"`
}

// MessageRecord is the wire form of a journaled envelope.
type MessageRecord struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Method    string    `json:"method"`
	MsgID     *int64    `json:"msg_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalSessionsRequest lists recorded sessions, newest first.
type JournalSessionsRequest struct {
	Limit int `json:"limit"`
}

// JournalSessionsResponse contains session records.
type JournalSessionsResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

// JournalMessagesRequest fetches recent traffic for a session. An empty
// session id resolves to the live session, then the newest recorded one.
type JournalMessagesRequest struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

// JournalMessagesResponse contains the resolved session id, its traffic in
// chronological order, and the kind tallies.
type JournalMessagesResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []MessageRecord `json:"messages"`
	Stats     StatsView       `json:"stats"`
}

// JournalClearRequest removes all journaled sessions and messages.
type JournalClearRequest struct{}

// JournalClearResponse reports the number of removed sessions.
type JournalClearResponse struct {
	Removed int64 `json:"removed"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// EventsRequest selects a window of structured log events. Since is a
// sequence cursor; Tail with a zero cursor returns the most recent events
// instead of the oldest retained ones.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_millis"`
	Component  string `json:"component,omitempty"`
	Tail       bool   `json:"tail"`
}

// EventsResponse carries structured log events and the cursor to resume from.
type EventsResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}
