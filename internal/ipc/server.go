package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"vellum/internal/host"
	"vellum/internal/journal"
	"vellum/internal/logging"
	"vellum/internal/logs"
	"vellum/internal/preflight"
)

// shutdownDelay leaves the Shutdown rpc response time to flush before the
// process starts exiting.
const shutdownDelay = 200 * time.Millisecond

// Server exposes host control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	host      *host.Host
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	svc       *service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. shutdown,
// when non-nil, is invoked shortly after a Shutdown rpc so the serving
// process can exit; a nil shutdown rejects remote termination.
func NewServer(ctx context.Context, path string, h *host.Host, logger *slog.Logger, shutdown func()) (*Server, error) {
	if h == nil {
		return nil, errors.New("ipc server requires host")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	listener, err := listenUnix(path)
	if err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	srv := &service{host: h, logger: logger, ctx: ctx, shutdown: shutdown}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		host:      h,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		svc:       srv,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// SetEventStream wires the live log feed served by the Events op. Call it
// before Serve; without a stream the op answers with an empty batch.
func (s *Server) SetEventStream(hub *logging.StreamHub, archive *logging.EventArchive) {
	s.svc.hub = hub
	s.svc.archive = archive
}

// listenUnix replaces any stale socket file at path with a fresh listener.
func listenUnix(path string) (net.Listener, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	return listener, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ipc_accept_failed"),
				logging.String(logging.FieldImpact, "control clients may fail to connect"),
				logging.String(logging.FieldErrorHint, "Check socket permissions; restart the host if this persists"))
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("socket cleanup failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "a stale control socket can block the next start"),
			logging.String(logging.FieldErrorHint, "Delete the socket file by hand before starting again"))
	}
}

type service struct {
	host     *host.Host
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
	hub      *logging.StreamHub
	archive  *logging.EventArchive

	shutdownOnce sync.Once
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("session start requested")
	if err := s.host.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "engine session started"
	s.log().Info("session started via IPC",
		logging.String(logging.FieldEventType, "session_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("session stop requested")
	s.host.Stop()
	resp.Stopped = true
	s.log().Info("session stopped via IPC",
		logging.String(logging.FieldEventType, "session_stop"))
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	if s.shutdown == nil {
		resp.Terminating = false
		resp.Message = "host does not accept remote shutdown"
		return nil
	}
	s.log().Info("host shutdown requested via IPC",
		logging.String(logging.FieldEventType, "host_shutdown"))
	s.host.Stop()
	resp.Terminating = true
	resp.Message = "host shutting down"
	s.shutdownOnce.Do(func() {
		time.AfterFunc(shutdownDelay, s.shutdown)
	})
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.host.Status(s.ctx)
	resp.Running = status.Running
	resp.HostPID = status.HostPID
	resp.RunID = status.RunID
	resp.LogPath = status.LogPath
	resp.LockPath = status.LockPath
	resp.ControlSocket = status.ControlSocket
	resp.JournalEnabled = status.JournalEnabled
	resp.JournalPath = status.JournalPath
	resp.JournalDrops = status.JournalDrops
	if status.Session != nil {
		view := SessionView{
			ID:            status.Session.ID,
			Transport:     status.Session.Transport,
			Target:        status.Session.Target,
			State:         status.Session.State,
			StartedAt:     status.Session.StartedAt,
			EnginePID:     status.Session.EnginePID,
			ChannelID:     status.Session.ChannelID,
			EngineVersion: status.Session.EngineVersion,
			UIAttached:    status.Session.UIAttached,
			UIWidth:       status.Session.UIWidth,
			UIHeight:      status.Session.UIHeight,
			PendingCalls:  status.Session.PendingCalls,
			WriteBacklog:  status.Session.WriteBacklog,
			RedrawBatches: status.Session.RedrawBatches,
			RedrawEvents:  status.Session.RedrawEvents,
			Messages:      statsView(status.Session.Messages),
		}
		resp.Session = &view
	}
	if status.LastEnd != nil {
		resp.LastEnd = &EndView{
			Reason:   status.LastEnd.Reason,
			ExitCode: status.LastEnd.ExitCode,
			At:       status.LastEnd.At,
		}
	}
	for _, dep := range preflight.CheckSystemDeps(s.ctx, s.host.Config()) {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return nil
}

func (s *service) Info(_ InfoRequest, resp *InfoResponse) error {
	info, err := s.host.APIInfo(s.ctx)
	if err != nil {
		return err
	}
	resp.ChannelID = info.ChannelID
	resp.Version = info.Version()
	resp.Build = info.Build()
	resp.APILevel = info.APILevel()
	resp.Functions = info.FunctionCount()
	resp.UIEvents = info.UIEventCount()
	resp.UIOptions = info.UIOptions()
	return nil
}

func (s *service) Call(req CallRequest, resp *CallResponse) error {
	result, err := s.host.CallMethod(s.ctx, req.Method, req.Args)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) Command(req CommandRequest, _ *CommandResponse) error {
	return s.host.Command(s.ctx, req.Command)
}

func (s *service) Input(req InputRequest, _ *InputResponse) error {
	return s.host.Input(req.Keys)
}

func (s *service) AttachUI(req AttachUIRequest, resp *AttachUIResponse) error {
	if err := s.host.AttachUI(req.Width, req.Height); err != nil {
		return err
	}
	if sess := s.host.Status(s.ctx).Session; sess != nil {
		resp.Width = sess.UIWidth
		resp.Height = sess.UIHeight
	}
	return nil
}

func (s *service) DetachUI(_ DetachUIRequest, _ *DetachUIResponse) error {
	return s.host.DetachUI()
}

func (s *service) ResizeUI(req ResizeUIRequest, _ *ResizeUIResponse) error {
	return s.host.ResizeUI(req.Width, req.Height)
}

func (s *service) Quit(req QuitRequest, _ *QuitResponse) error {
	return s.host.QuitEngine(req.Force)
}

func (s *service) JournalSessions(req JournalSessionsRequest, resp *JournalSessionsResponse) error {
	sessions, err := s.host.JournalSessions(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Sessions = make([]SessionRecord, 0, len(sessions))
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sessionRecord(sess))
	}
	return nil
}

func (s *service) JournalMessages(req JournalMessagesRequest, resp *JournalMessagesResponse) error {
	sessionID, messages, err := s.host.JournalMessages(s.ctx, req.SessionID, req.Limit)
	if err != nil {
		return err
	}
	stats, err := s.host.JournalStats(s.ctx, sessionID)
	if err != nil {
		return err
	}
	resp.SessionID = sessionID
	resp.Messages = make([]MessageRecord, 0, len(messages))
	for _, msg := range messages {
		resp.Messages = append(resp.Messages, MessageRecord{
			ID:        msg.ID,
			Direction: msg.Direction,
			Kind:      msg.Kind,
			Method:    msg.Method,
			MsgID:     msg.MsgID,
			Detail:    msg.Detail,
			CreatedAt: msg.CreatedAt,
		})
	}
	resp.Stats = statsView(stats)
	return nil
}

func (s *service) JournalClear(_ JournalClearRequest, resp *JournalClearResponse) error {
	removed, err := s.host.JournalClear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("journal cleared via IPC",
		logging.String(logging.FieldEventType, "journal_clear"),
		logging.Int64("removed_sessions", removed))
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.host.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

// Events serves the structured log feed. Cursors that predate the hub window
// are backfilled from the event archive; otherwise the hub answers, long
// polling when the caller asked to wait.
func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	if s.hub == nil {
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}

	if s.archive != nil && req.Since > 0 && req.Since < s.hub.FirstSequence() {
		archived, err := s.archive.ReadSince(req.Since, limit)
		if err != nil {
			s.log().Warn("event archive read failed", logging.Error(err))
		} else if len(archived) > 0 {
			resp.Events = logging.FilterByComponent(archived, req.Component)
			resp.Next = archived[len(archived)-1].Sequence
			return nil
		}
	}

	if req.Tail && req.Since == 0 {
		tail := s.hub.Tail(limit)
		resp.Events = logging.FilterByComponent(tail, req.Component)
		if len(tail) > 0 {
			resp.Next = tail[len(tail)-1].Sequence
		}
		return nil
	}

	wait := time.Duration(req.WaitMillis) * time.Millisecond
	events, next, err := s.hub.Fetch(s.ctx, req.Since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = logging.FilterByComponent(events, req.Component)
	resp.Next = next
	return nil
}

func sessionRecord(sess *journal.Session) SessionRecord {
	return SessionRecord{
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

func statsView(stats journal.Stats) StatsView {
	return StatsView{
		Requests:      stats.Requests,
		Responses:     stats.Responses,
		Notifications: stats.Notifications,
		Drops:         stats.Drops,
	}
}
