// Package host runs the engine side of a vellum process: it owns the event
// loop, spawns or dials the editor engine, journals the session, and exposes
// the lifecycle the control socket drives. One host holds at most one live
// engine session; stopping a session and starting a fresh one is allowed, a
// torn stream is never silently reattached.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"vellum/internal/config"
	"vellum/internal/eventloop"
	"vellum/internal/journal"
	"vellum/internal/logging"
	"vellum/internal/msgrpc"
	"vellum/internal/nvim"
	"vellum/internal/transport"
)

const (
	// handshakeTimeout bounds the api-info exchange after attach.
	handshakeTimeout = 15 * time.Second
	// stopGrace is how long a quit command may take before the engine
	// process is killed.
	stopGrace = 5 * time.Second
	// killGrace bounds the wait for the teardown cascade after a kill.
	killGrace = 2 * time.Second
	// exitWait bounds how long session-end bookkeeping waits for the
	// engine's exit status.
	exitWait = 3 * time.Second
)

var (
	// ErrEngineNotRunning is returned by engine operations without a live
	// session.
	ErrEngineNotRunning = errors.New("host: no engine session running")
	// ErrEngineRunning is returned by Start while a session is still live.
	ErrEngineRunning = errors.New("host: engine session already running")
)

// Host coordinates the engine session and enforces single-instance execution.
type Host struct {
	cfg     *config.Config
	base    *slog.Logger
	log     *slog.Logger
	store   *journal.Store
	loop    *eventloop.Loop
	runID   string
	logPath string

	lockPath string
	lock     *flock.Flock

	// lifeMu serializes Start, Stop, and Close.
	lifeMu sync.Mutex
	locked bool
	closed bool

	mu      sync.Mutex
	sess    *engineSession
	lastEnd *EndState

	jmu          sync.RWMutex
	jch          chan journal.Message
	jclosed      bool
	jwg          sync.WaitGroup
	journalDrops atomic.Int64
}

// EndState describes how the most recent engine session finished.
type EndState struct {
	Reason   string
	ExitCode *int64
	At       time.Time
}

// engineSession bundles one attached engine. The identity fields are set
// before the session is published and never change afterwards.
type engineSession struct {
	id        string
	transport string
	target    string
	client    *nvim.Client
	proc      *transport.Process
	startedAt time.Time
	info      nvim.Info

	redrawBatches atomic.Int64
	redrawEvents  atomic.Int64

	stopping       atomic.Bool
	closeRequested atomic.Bool

	failMu    sync.Mutex
	streamErr error

	// exited is closed by watchEngine once the exit status is known.
	exited   chan struct{}
	exitCode int64

	// ended is closed after end-of-session bookkeeping has been recorded.
	ended   chan struct{}
	endOnce sync.Once

	uiMu       sync.Mutex
	uiAttached bool
	uiWidth    int
	uiHeight   int
}

// New constructs a host with an idle event loop. store may be nil when
// journaling is disabled; runID and logPath describe the serving process.
func New(cfg *config.Config, logger *slog.Logger, store *journal.Store, runID, logPath string) (*Host, error) {
	if cfg == nil {
		return nil, errors.New("host requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	loop, err := eventloop.New(logger)
	if err != nil {
		return nil, fmt.Errorf("create event loop: %w", err)
	}
	go loop.Run()

	lockPath := cfg.LockFilePath()
	h := &Host{
		cfg:      cfg,
		base:     logger,
		log:      logging.NewComponentLogger(logger, "host"),
		store:    store,
		loop:     loop,
		runID:    runID,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	h.startJournalWriter()
	return h, nil
}

// Config exposes the configuration the host was built with.
func (h *Host) Config() *config.Config { return h.cfg }

// Start acquires the instance lock and brings up an engine session: spawn or
// connect per the configuration, api handshake, then the default UI attach.
func (h *Host) Start(ctx context.Context) error {
	begin := time.Now()
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.closed {
		return errors.New("host: closed")
	}
	if sess := h.currentSession(); sess != nil && sess.client.State() != msgrpc.Closed {
		return ErrEngineRunning
	}

	if !h.locked {
		ok, err := h.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another vellum host is already running (lock %s)", h.lockPath)
		}
		h.locked = true
	}

	sess, err := h.attachEngine()
	if err != nil {
		h.releaseLock()
		return err
	}

	if err := h.handshake(ctx, sess); err != nil {
		h.teardownFailedStart(sess)
		h.releaseLock()
		return err
	}

	if err := h.AttachUIFor(sess, 0, 0); err != nil {
		h.log.Warn("initial ui attach failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ui_attach_failed"),
			logging.String(logging.FieldErrorHint, "the engine keeps running without a ui"))
	}

	h.mu.Lock()
	h.sess = sess
	h.lastEnd = nil
	h.mu.Unlock()

	h.log.Info("engine session started",
		logging.String(logging.FieldEventType, "session_start"),
		logging.String(logging.FieldSessionID, sess.id),
		logging.String("transport", sess.transport),
		logging.String("target", sess.target),
		logging.Int64("channel_id", sess.info.ChannelID),
		logging.String("engine_version", sess.info.Version()),
		logging.Duration("startup", time.Since(begin)))
	return nil
}

// attachEngine builds the transport and session for the configured engine.
func (h *Host) attachEngine() (*engineSession, error) {
	sess := &engineSession{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		exited:    make(chan struct{}),
		ended:     make(chan struct{}),
	}
	logger := logging.WithSessionID(h.base, logging.ShortSessionID(sess.id))

	fatal := msgrpc.WithFatalHandler(func(err error) { h.onStreamFailure(sess, err) })

	if socket := strings.TrimSpace(h.cfg.Engine.Socket); socket != "" {
		client, err := nvim.Connect(h.loop, logger, socket, fatal)
		if err != nil {
			return nil, fmt.Errorf("connect engine socket: %w", err)
		}
		sess.transport = journal.TransportSocket
		sess.target = socket
		sess.client = client
	} else {
		argv := append([]string{h.cfg.Engine.Binary}, h.cfg.Engine.Args...)
		client, proc, err := nvim.Spawn(h.loop, logger, argv, h.cfg.Engine.Env, fatal)
		if err != nil {
			return nil, fmt.Errorf("spawn engine: %w", err)
		}
		sess.transport = journal.TransportSpawn
		sess.target = strings.Join(argv, " ")
		sess.client = client
		sess.proc = proc
		go h.watchEngine(sess)
	}

	sess.client.SetSink(&engineSink{host: h, sess: sess})
	h.beginJournalSession(sess)
	return sess, nil
}

// handshake performs the api-info exchange and records the result.
func (h *Host) handshake(ctx context.Context, sess *engineSession) error {
	callCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	h.journalMessage(journal.Message{
		SessionID: sess.id,
		Direction: journal.DirectionOutbound,
		Kind:      journal.KindRequest,
		Method:    "nvim_get_api_info",
	})
	info, err := sess.client.APIInfoWait(callCtx)
	if err != nil {
		return fmt.Errorf("engine handshake: %w", err)
	}
	sess.info = info
	h.journalMessage(journal.Message{
		SessionID: sess.id,
		Direction: journal.DirectionInbound,
		Kind:      journal.KindResponse,
		Method:    "nvim_get_api_info",
		Detail:    fmt.Sprintf("channel %d, version %s", info.ChannelID, info.Version()),
	})
	if h.store != nil {
		if err := h.store.RecordHandshake(context.Background(), sess.id, info.ChannelID, info.Version()); err != nil {
			h.log.Warn("journal handshake", logging.Error(err))
		}
	}
	return nil
}

// teardownFailedStart dismantles a session whose handshake never completed.
func (h *Host) teardownFailedStart(sess *engineSession) {
	sess.stopping.Store(true)
	sess.client.Shutdown()
	select {
	case <-sess.client.Done():
	case <-time.After(killGrace):
	}
	if sess.proc != nil {
		_ = sess.proc.Kill()
	}
	h.waitSessionEnded(sess, killGrace)
}

// Stop quits the engine, waits for the session to drain, and releases the
// instance lock. Safe to call when nothing is running.
func (h *Host) Stop() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	h.stopLocked()
}

func (h *Host) stopLocked() {
	sess := h.currentSession()
	if sess == nil {
		h.releaseLock()
		return
	}

	sess.stopping.Store(true)
	if sess.client.State() == msgrpc.Connected {
		if err := sess.client.Quit(false); err != nil {
			h.log.Debug("quit send failed", logging.Error(err))
		} else {
			h.journalRequest(sess, "nvim_command", msgrpc.NullMsgID, "qa!")
		}
		select {
		case <-sess.client.Done():
		case <-time.After(stopGrace):
			h.log.Warn("engine ignored quit",
				logging.String(logging.FieldEventType, "engine_stop_timeout"),
				logging.String(logging.FieldErrorHint, "killing the engine process"))
			if sess.proc != nil {
				_ = sess.proc.Kill()
			} else {
				sess.client.Shutdown()
			}
			select {
			case <-sess.client.Done():
			case <-time.After(killGrace):
				sess.client.Shutdown()
				<-sess.client.Done()
			}
		}
	} else if sess.client.State() != msgrpc.Closed {
		sess.client.Shutdown()
		select {
		case <-sess.client.Done():
		case <-time.After(killGrace):
		}
	}

	h.waitSessionEnded(sess, stopGrace)

	h.mu.Lock()
	h.sess = nil
	h.mu.Unlock()
	h.releaseLock()
	h.log.Info("engine session stopped",
		logging.String(logging.FieldEventType, "session_stop"),
		logging.String(logging.FieldSessionID, sess.id))
}

// Close stops any session and shuts down the loop and journal writer.
func (h *Host) Close() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.closed {
		return nil
	}
	h.stopLocked()
	h.closed = true
	h.loop.Close()
	h.stopJournalWriter()
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}

func (h *Host) releaseLock() {
	if !h.locked {
		return
	}
	if err := h.lock.Unlock(); err != nil {
		h.log.Warn("release instance lock", logging.Error(err))
	}
	h.locked = false
}

func (h *Host) currentSession() *engineSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

// activeSession returns the session when it can still carry traffic.
func (h *Host) activeSession() (*engineSession, error) {
	sess := h.currentSession()
	if sess == nil || sess.client.State() != msgrpc.Connected {
		return nil, ErrEngineNotRunning
	}
	return sess, nil
}

// watchEngine reaps the spawned engine and publishes its exit status.
func (h *Host) watchEngine(sess *engineSession) {
	err := <-sess.proc.Wait()
	code := transport.ExitCode(err)
	sess.exitCode = int64(code)
	close(sess.exited)
	h.log.Info("engine process exited",
		logging.String(logging.FieldEventType, "engine_exit"),
		logging.String(logging.FieldSessionID, sess.id),
		logging.Int("exit_code", code))
}

// onStreamFailure replaces the session's default fatal handler: a torn
// stream tears down the session, not the whole host process.
func (h *Host) onStreamFailure(sess *engineSession, err error) {
	sess.failMu.Lock()
	if sess.streamErr == nil {
		sess.streamErr = err
	}
	sess.failMu.Unlock()
	logging.ErrorWithContext(h.log, "engine stream failed", "stream_failure",
		logging.String(logging.FieldSessionID, sess.id),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the session is being shut down; restart it with `vellum start`"))
	sess.client.Shutdown()
}

// onSessionShutdown runs once the teardown cascade has fully settled. It is
// invoked on the scheduler goroutine and hands the slow bookkeeping off.
func (h *Host) onSessionShutdown(sess *engineSession) {
	go h.recordSessionEnd(sess)
}

func (h *Host) recordSessionEnd(sess *engineSession) {
	sess.endOnce.Do(func() {
		defer close(sess.ended)

		var exitCode *int64
		if sess.proc != nil {
			select {
			case <-sess.exited:
				code := sess.exitCode
				exitCode = &code
			case <-time.After(exitWait):
			}
		}

		reason := sess.endReason()
		end := &EndState{Reason: reason, ExitCode: exitCode, At: time.Now().UTC()}
		h.mu.Lock()
		h.lastEnd = end
		h.mu.Unlock()

		if h.store != nil {
			if err := h.store.EndSession(context.Background(), sess.id, reason, exitCode); err != nil {
				h.log.Warn("journal session end", logging.Error(err))
			}
		}
		h.log.Info("engine session ended",
			logging.String(logging.FieldEventType, "session_end"),
			logging.String(logging.FieldSessionID, sess.id),
			logging.String("reason", reason),
			logging.Int64("redraw_batches", sess.redrawBatches.Load()))
	})
}

func (sess *engineSession) endReason() string {
	sess.failMu.Lock()
	streamErr := sess.streamErr
	sess.failMu.Unlock()
	switch {
	case streamErr != nil:
		return fmt.Sprintf("stream failure: %v", streamErr)
	case sess.stopping.Load():
		return "stopped by host"
	case sess.closeRequested.Load():
		return "engine closed connection"
	default:
		return "session closed"
	}
}

// waitSessionEnded blocks until end bookkeeping lands or the timeout passes.
func (h *Host) waitSessionEnded(sess *engineSession, timeout time.Duration) {
	select {
	case <-sess.ended:
	case <-time.After(timeout):
		h.log.Debug("session end bookkeeping still pending",
			logging.String(logging.FieldSessionID, sess.id))
	}
}

func (h *Host) beginJournalSession(sess *engineSession) {
	if h.store == nil {
		return
	}
	record := &journal.Session{
		ID:        sess.id,
		RunID:     h.runID,
		Transport: sess.transport,
		Target:    sess.target,
		StartedAt: sess.startedAt,
	}
	if sess.proc != nil {
		record.EnginePID = int64(sess.proc.PID())
	}
	if err := h.store.BeginSession(context.Background(), record); err != nil {
		h.log.Warn("journal session begin", logging.Error(err))
	}
}
