package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vellum/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.RuntimeDir = filepath.Join(base, "runtime")
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(base, "journal", "vellum.db")
	cfg.Journal.RetentionDays = 14
	return cfg
}

func mustOpen(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close journal: %v", err)
		}
	})
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()

	session := &Session{
		ID:        "s-1",
		RunID:     "20260825-120000.000",
		Transport: TransportSpawn,
		Target:    "nvim --embed",
		EnginePID: 4321,
	}
	if err := store.BeginSession(ctx, session); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if session.StartedAt.IsZero() {
		t.Fatal("BeginSession did not default StartedAt")
	}

	active, err := store.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active == nil || active.ID != "s-1" {
		t.Fatalf("active session = %+v, want s-1", active)
	}
	if !active.Active() {
		t.Fatal("session with no end mark should report active")
	}
	if active.EnginePID != 4321 {
		t.Fatalf("engine pid = %d, want 4321", active.EnginePID)
	}

	if err := store.RecordHandshake(ctx, "s-1", 7, "0.11.3"); err != nil {
		t.Fatalf("record handshake: %v", err)
	}
	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ChannelID != 7 || got.EngineVersion != "0.11.3" {
		t.Fatalf("handshake fields = (%d, %q), want (7, 0.11.3)", got.ChannelID, got.EngineVersion)
	}

	code := int64(0)
	if err := store.EndSession(ctx, "s-1", "engine exited", &code); err != nil {
		t.Fatalf("end session: %v", err)
	}
	got, err = store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session after end: %v", err)
	}
	if got.Active() {
		t.Fatal("ended session still reports active")
	}
	if got.EndReason != "engine exited" {
		t.Fatalf("end reason = %q", got.EndReason)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", got.ExitCode)
	}
	if got.EndedAt == nil || got.EndedAt.Before(got.StartedAt) {
		t.Fatalf("ended at = %v, started at = %v", got.EndedAt, got.StartedAt)
	}

	active, err = store.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session after end: %v", err)
	}
	if active != nil {
		t.Fatalf("active session = %+v, want none", active)
	}
}

func TestGetSessionMissing(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	got, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"s-old", "s-mid", "s-new"} {
		session := &Session{
			ID:        id,
			RunID:     "run",
			Transport: TransportSocket,
			Target:    "/tmp/nvim.sock",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.BeginSession(ctx, session); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}

	all, err := store.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	for i, want := range []string{"s-new", "s-mid", "s-old"} {
		if all[i].ID != want {
			t.Fatalf("sessions[%d] = %s, want %s", i, all[i].ID, want)
		}
	}

	limited, err := store.Sessions(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "s-new" || limited[1].ID != "s-mid" {
		t.Fatalf("limited sessions = %v", limited)
	}
}

func TestRecordAndListMessages(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()

	session := &Session{ID: "s-1", RunID: "run", Transport: TransportSpawn, Target: "nvim --embed"}
	if err := store.BeginSession(ctx, session); err != nil {
		t.Fatalf("begin session: %v", err)
	}

	msgid := int64(3)
	traffic := []*Message{
		{SessionID: "s-1", Direction: DirectionOutbound, Kind: KindRequest, Method: "nvim_get_api_info", MsgID: &msgid},
		{SessionID: "s-1", Direction: DirectionInbound, Kind: KindResponse, MsgID: &msgid},
		{SessionID: "s-1", Direction: DirectionInbound, Kind: KindNotification, Method: "redraw"},
		{SessionID: "s-1", Direction: DirectionInbound, Kind: KindNotification, Method: "redraw"},
		{SessionID: "s-1", Direction: DirectionInbound, Kind: KindDrop, Detail: "int64(5)"},
	}
	for i, msg := range traffic {
		if err := store.RecordMessage(ctx, msg); err != nil {
			t.Fatalf("record message %d: %v", i, err)
		}
		if msg.ID == 0 {
			t.Fatalf("message %d has no row id", i)
		}
	}

	all, err := store.RecentMessages(ctx, "s-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d messages, want 5", len(all))
	}
	if all[0].Method != "nvim_get_api_info" || all[4].Kind != KindDrop {
		t.Fatalf("messages out of order: first=%+v last=%+v", all[0], all[4])
	}
	if all[0].MsgID == nil || *all[0].MsgID != 3 {
		t.Fatalf("request msgid = %v, want 3", all[0].MsgID)
	}
	if all[2].MsgID != nil {
		t.Fatalf("notification msgid = %v, want nil", all[2].MsgID)
	}

	recent, err := store.RecentMessages(ctx, "s-1", 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Method != "redraw" || recent[1].Kind != KindDrop {
		t.Fatalf("recent window wrong: %+v", recent)
	}

	stats, err := store.StatsForSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("session stats: %v", err)
	}
	want := Stats{Requests: 1, Responses: 1, Notifications: 2, Drops: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if stats.Total() != 5 {
		t.Fatalf("total = %d, want 5", stats.Total())
	}
}

func TestPruneRemovesOldEndedSessions(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()

	oldEnded := &Session{
		ID:        "s-old",
		RunID:     "run",
		Transport: TransportSpawn,
		Target:    "nvim --embed",
		StartedAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	oldActive := &Session{
		ID:        "s-stuck",
		RunID:     "run",
		Transport: TransportSpawn,
		Target:    "nvim --embed",
		StartedAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	fresh := &Session{
		ID:        "s-fresh",
		RunID:     "run",
		Transport: TransportSpawn,
		Target:    "nvim --embed",
	}
	for _, session := range []*Session{oldEnded, oldActive, fresh} {
		if err := store.BeginSession(ctx, session); err != nil {
			t.Fatalf("begin %s: %v", session.ID, err)
		}
	}
	if err := store.RecordMessage(ctx, &Message{SessionID: "s-old", Direction: DirectionInbound, Kind: KindNotification, Method: "redraw"}); err != nil {
		t.Fatalf("record message: %v", err)
	}
	if err := store.EndSession(ctx, "s-old", "engine exited", nil); err != nil {
		t.Fatalf("end old session: %v", err)
	}
	if err := store.EndSession(ctx, "s-fresh", "stopped", nil); err != nil {
		t.Fatalf("end fresh session: %v", err)
	}

	removed, err := store.Prune(ctx, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d sessions, want 1", removed)
	}

	if got, err := store.GetSession(ctx, "s-old"); err != nil || got != nil {
		t.Fatalf("old ended session survived prune: %+v, %v", got, err)
	}
	// Sessions without an end mark stay regardless of age.
	if got, err := store.GetSession(ctx, "s-stuck"); err != nil || got == nil {
		t.Fatalf("old active session pruned: %v", err)
	}
	if got, err := store.GetSession(ctx, "s-fresh"); err != nil || got == nil {
		t.Fatalf("fresh session pruned: %v", err)
	}

	// Message rows follow their session out.
	msgs, err := store.RecentMessages(ctx, "s-old", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d orphan messages, want 0", len(msgs))
	}

	if removed, err := store.Prune(ctx, 0); err != nil || removed != 0 {
		t.Fatalf("prune with zero retention = (%d, %v), want no-op", removed, err)
	}
}

func TestClear(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()

	for _, id := range []string{"s-1", "s-2"} {
		if err := store.BeginSession(ctx, &Session{ID: id, RunID: "run", Transport: TransportSpawn, Target: "nvim --embed"}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		if err := store.RecordMessage(ctx, &Message{SessionID: id, Direction: DirectionInbound, Kind: KindNotification, Method: "redraw"}); err != nil {
			t.Fatalf("record message: %v", err)
		}
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("cleared %d sessions, want 2", removed)
	}
	sessions, err := store.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions after clear, want 0", len(sessions))
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testConfig(t)

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	ctx := context.Background()
	if err := store.BeginSession(ctx, &Session{ID: "s-1", RunID: "run", Transport: TransportSocket, Target: "/tmp/nvim.sock"}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	reopened := mustOpen(t, cfg)
	got, err := reopened.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session after reopen: %v", err)
	}
	if got == nil || got.Target != "/tmp/nvim.sock" {
		t.Fatalf("session after reopen = %+v", got)
	}
}

func TestSchemaVersionMismatch(t *testing.T) {
	cfg := testConfig(t)

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := store.db.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatalf("bump schema version: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	if _, err := Open(cfg); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("reopen error = %v, want schema mismatch", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Path = ""
	if _, err := Open(cfg); err == nil {
		t.Fatal("open with empty journal path should fail")
	}
}

func TestBeginSessionValidation(t *testing.T) {
	store := mustOpen(t, testConfig(t))
	ctx := context.Background()

	if err := store.BeginSession(ctx, nil); err == nil {
		t.Fatal("nil session accepted")
	}
	if err := store.BeginSession(ctx, &Session{RunID: "run"}); err == nil {
		t.Fatal("empty session id accepted")
	}
	if err := store.RecordMessage(ctx, &Message{Direction: DirectionInbound, Kind: KindDrop}); err == nil {
		t.Fatal("message without session id accepted")
	}
}
