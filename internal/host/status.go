package host

import (
	"context"
	"errors"
	"os"
	"time"

	"vellum/internal/journal"
	"vellum/internal/msgrpc"
)

// ErrJournalDisabled is returned by journal queries when no store is open.
var ErrJournalDisabled = errors.New("host: journal is disabled")

// SessionStatus is a point-in-time view of the engine session.
type SessionStatus struct {
	ID            string
	Transport     string
	Target        string
	State         string
	StartedAt     time.Time
	EnginePID     int
	ChannelID     int64
	EngineVersion string
	UIAttached    bool
	UIWidth       int
	UIHeight      int
	PendingCalls  int
	WriteBacklog  int
	RedrawBatches int64
	RedrawEvents  int64
	Messages      journal.Stats
}

// Status is a point-in-time view of the host.
type Status struct {
	Running        bool
	HostPID        int
	RunID          string
	LogPath        string
	LockPath       string
	ControlSocket  string
	JournalEnabled bool
	JournalPath    string
	JournalDrops   int64
	Session        *SessionStatus
	LastEnd        *EndState
}

// Status snapshots the host and its session.
func (h *Host) Status(ctx context.Context) Status {
	h.mu.Lock()
	sess := h.sess
	lastEnd := h.lastEnd
	h.mu.Unlock()

	status := Status{
		HostPID:        os.Getpid(),
		RunID:          h.runID,
		LogPath:        h.logPath,
		LockPath:       h.lockPath,
		ControlSocket:  h.cfg.ControlSocketPath(),
		JournalEnabled: h.store != nil,
		JournalDrops:   h.journalDrops.Load(),
		LastEnd:        lastEnd,
	}
	if h.store != nil {
		status.JournalPath = h.store.Path()
	}
	if sess == nil {
		return status
	}

	state := sess.client.State()
	status.Running = state == msgrpc.Connected

	sess.uiMu.Lock()
	uiAttached, uiWidth, uiHeight := sess.uiAttached, sess.uiWidth, sess.uiHeight
	sess.uiMu.Unlock()

	view := &SessionStatus{
		ID:            sess.id,
		Transport:     sess.transport,
		Target:        sess.target,
		State:         state.String(),
		StartedAt:     sess.startedAt,
		ChannelID:     sess.info.ChannelID,
		EngineVersion: sess.info.Version(),
		UIAttached:    uiAttached,
		UIWidth:       uiWidth,
		UIHeight:      uiHeight,
		PendingCalls:  sess.client.PendingCalls(),
		WriteBacklog:  sess.client.Session().WriteBacklog(),
		RedrawBatches: sess.redrawBatches.Load(),
		RedrawEvents:  sess.redrawEvents.Load(),
	}
	if sess.proc != nil {
		view.EnginePID = sess.proc.PID()
	}
	if h.store != nil {
		if stats, err := h.store.StatsForSession(ctx, sess.id); err == nil {
			view.Messages = stats
		}
	}
	status.Session = view
	return status
}

// LogPath names the log file of the serving process.
func (h *Host) LogPath() string { return h.logPath }

// JournalSessions lists recorded sessions, newest first.
func (h *Host) JournalSessions(ctx context.Context, limit int) ([]*journal.Session, error) {
	if h.store == nil {
		return nil, ErrJournalDisabled
	}
	return h.store.Sessions(ctx, limit)
}

// JournalMessages returns recent traffic for a session along with the id it
// resolved. An empty session id resolves to the live session, falling back
// to the newest recorded one.
func (h *Host) JournalMessages(ctx context.Context, sessionID string, limit int) (string, []*journal.Message, error) {
	if h.store == nil {
		return "", nil, ErrJournalDisabled
	}
	if sessionID == "" {
		resolved, err := h.resolveJournalSession(ctx)
		if err != nil {
			return "", nil, err
		}
		sessionID = resolved
	}
	messages, err := h.store.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return "", nil, err
	}
	return sessionID, messages, nil
}

// JournalStats tallies traffic for a session, resolved like JournalMessages.
func (h *Host) JournalStats(ctx context.Context, sessionID string) (journal.Stats, error) {
	if h.store == nil {
		return journal.Stats{}, ErrJournalDisabled
	}
	if sessionID == "" {
		resolved, err := h.resolveJournalSession(ctx)
		if err != nil {
			return journal.Stats{}, err
		}
		sessionID = resolved
	}
	return h.store.StatsForSession(ctx, sessionID)
}

// JournalClear removes every recorded session and message.
func (h *Host) JournalClear(ctx context.Context) (int64, error) {
	if h.store == nil {
		return 0, ErrJournalDisabled
	}
	return h.store.Clear(ctx)
}

func (h *Host) resolveJournalSession(ctx context.Context) (string, error) {
	if sess := h.currentSession(); sess != nil {
		return sess.id, nil
	}
	sessions, err := h.store.Sessions(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", errors.New("host: no sessions recorded")
	}
	return sessions[0].ID, nil
}
