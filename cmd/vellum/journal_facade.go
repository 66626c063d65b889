package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"vellum/internal/config"
	"vellum/internal/ipc"
	"vellum/internal/journal"
)

// journalAPI is the query surface shared by the IPC path and the direct
// store fallback, so journal commands work whether or not the host is up.
type journalAPI interface {
	Sessions(ctx context.Context, limit int) ([]ipc.SessionRecord, error)
	Messages(ctx context.Context, sessionID string, limit int) (*ipc.JournalMessagesResponse, error)
	Clear(ctx context.Context) (int64, error)
}

func (c *commandContext) withJournal(fn func(api journalAPI) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err == nil {
		defer client.Close()
		return fn(&journalIPCAdapter{client: client})
	}
	if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) && !os.IsNotExist(err) {
		return wrapDialError(err, socket)
	}

	cfg := c.configValue()
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.Journal.Enabled {
		return errors.New("journal is disabled; enable journal.enabled in the configuration")
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()
	return fn(&journalStoreAdapter{store: store})
}

// --- IPC adapter ---

type journalIPCAdapter struct {
	client *ipc.Client
}

func (a *journalIPCAdapter) Sessions(_ context.Context, limit int) ([]ipc.SessionRecord, error) {
	resp, err := a.client.JournalSessions(limit)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (a *journalIPCAdapter) Messages(_ context.Context, sessionID string, limit int) (*ipc.JournalMessagesResponse, error) {
	return a.client.JournalMessages(sessionID, limit)
}

func (a *journalIPCAdapter) Clear(_ context.Context) (int64, error) {
	resp, err := a.client.JournalClear()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// --- Store adapter ---

type journalStoreAdapter struct {
	store *journal.Store
}

func (a *journalStoreAdapter) Sessions(ctx context.Context, limit int) ([]ipc.SessionRecord, error) {
	sessions, err := a.store.Sessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	records := make([]ipc.SessionRecord, 0, len(sessions))
	for _, sess := range sessions {
		records = append(records, sessionRecordFromModel(sess))
	}
	return records, nil
}

func (a *journalStoreAdapter) Messages(ctx context.Context, sessionID string, limit int) (*ipc.JournalMessagesResponse, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		sessions, err := a.store.Sessions(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, errors.New("no sessions recorded")
		}
		id = sessions[0].ID
	}

	messages, err := a.store.RecentMessages(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	stats, err := a.store.StatsForSession(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &ipc.JournalMessagesResponse{
		SessionID: id,
		Messages:  make([]ipc.MessageRecord, 0, len(messages)),
		Stats: ipc.StatsView{
			Requests:      stats.Requests,
			Responses:     stats.Responses,
			Notifications: stats.Notifications,
			Drops:         stats.Drops,
		},
	}
	for _, msg := range messages {
		resp.Messages = append(resp.Messages, ipc.MessageRecord{
			ID:        msg.ID,
			Direction: msg.Direction,
			Kind:      msg.Kind,
			Method:    msg.Method,
			MsgID:     msg.MsgID,
			Detail:    msg.Detail,
			CreatedAt: msg.CreatedAt,
		})
	}
	return resp, nil
}

func (a *journalStoreAdapter) Clear(ctx context.Context) (int64, error) {
	return a.store.Clear(ctx)
}

func sessionRecordFromModel(sess *journal.Session) ipc.SessionRecord {
	return ipc.SessionRecord{
		ID:            sess.ID,
		RunID:         sess.RunID,
		Transport:     sess.Transport,
		Target:        sess.Target,
		EnginePID:     sess.EnginePID,
		ChannelID:     sess.ChannelID,
		EngineVersion: sess.EngineVersion,
		StartedAt:     sess.StartedAt,
		EndedAt:       sess.EndedAt,
		EndReason:     sess.EndReason,
		ExitCode:      sess.ExitCode,
	}
}
