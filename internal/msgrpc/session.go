// Package msgrpc implements the bidirectional messagepack-rpc session the
// host speaks with an embedded engine over a byte stream pair.
//
// A Session owns two scheduler sources on the stream descriptors. The read
// source is active from attach; the write source stays suspended until the
// outbound buffer turns nonempty and suspends itself again once drained, so
// an idle session costs no writable wakeups. Teardown is a two-phase cascade:
// the write source is cancelled first, its cancellation cancels the read
// source, and the read source's cancellation closes the descriptors and
// announces shutdown. The cascade runs identically whether the engine hung up
// or the host initiated the shutdown.
package msgrpc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"vellum/internal/eventloop"
	"vellum/internal/logging"
)

// readChunkSize is the fixed scratch buffer for one read callback. A payload
// larger than this arrives over several callbacks; the decoder reassembles it.
const readChunkSize = 16 * 1024

// State is the session lifecycle phase.
type State uint8

const (
	// Disconnected is the initial state, before any stream is attached.
	Disconnected State = iota
	// Connected means both stream directions are live.
	Connected
	// ShuttingDown means the teardown cascade has started.
	ShuttingDown
	// Closed means both sources are cancelled and the descriptors closed.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting down"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	// ErrNotConnected is returned by Call and Send outside the Connected state.
	ErrNotConnected = errors.New("msgrpc: session not connected")
	// ErrAttached is returned by Attach on a session that already has a stream.
	ErrAttached = errors.New("msgrpc: session already attached")
)

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger sets the logger for traffic diagnostics. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.baseLog = logger }
}

// WithFatalHandler replaces the unrecoverable-failure handler. The default
// logs the error and exits the process; a read error, write error, or decoder
// desync leaves the stream position unknown, and no resynchronization exists.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Session) { s.fatal = fn }
}

// Session is a messagepack-rpc endpoint over a pair of stream descriptors.
// All exported methods are safe for concurrent use.
type Session struct {
	sched   eventloop.Scheduler
	baseLog *slog.Logger
	log     *slog.Logger
	fatal   func(error)

	mu       sync.Mutex
	state    State
	sink     EventSink
	out      []byte
	calls    *callTable
	readFD   int
	writeFD  int
	readSrc  eventloop.Source
	writeSrc eventloop.Source

	// readBuf and dec are touched only from scheduler callbacks.
	readBuf []byte
	dec     *StreamDecoder

	done chan struct{}
}

// New creates a detached session. Attach connects it to a stream.
func New(sched eventloop.Scheduler, opts ...Option) *Session {
	s := &Session{
		sched:   sched,
		sink:    nopSink{},
		calls:   newCallTable(initialPendingCapacity),
		readBuf: make([]byte, readChunkSize),
		dec:     NewStreamDecoder(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.NewComponentLogger(s.baseLog, "session")
	if s.fatal == nil {
		s.fatal = s.defaultFatal
	}
	return s
}

func (s *Session) defaultFatal(err error) {
	logging.ErrorWithContext(s.log, "unrecoverable stream failure", "stream_failure",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "restart the host session"))
	os.Exit(1)
}

// SetSink installs the event sink. A nil sink restores the discarding default.
func (s *Session) SetSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Session) currentSink() EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// PendingCalls returns the number of requests awaiting a response.
func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls.Pending()
}

// WriteBacklog returns the number of outbound bytes not yet written.
func (s *Session) WriteBacklog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// Attach binds the session to a stream and starts reading. readFD and writeFD
// may name the same descriptor (a socket) or distinct ones (a pipe pair). On
// success the session owns the descriptors and closes them during teardown;
// on error ownership stays with the caller.
func (s *Session) Attach(readFD, writeFD int) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAttached
	}
	readSrc, err := s.sched.AddSource(readFD, eventloop.Read, s)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("msgrpc: register read source: %w", err)
	}
	writeSrc, err := s.sched.AddSource(writeFD, eventloop.Write, s)
	if err != nil {
		s.mu.Unlock()
		// The read source was never resumed, so dropping it is silent.
		readSrc.Resume()
		readSrc.Cancel()
		return fmt.Errorf("msgrpc: register write source: %w", err)
	}
	s.readFD = readFD
	s.writeFD = writeFD
	s.readSrc = readSrc
	s.writeSrc = writeSrc
	s.state = Connected
	s.mu.Unlock()
	readSrc.Resume()
	s.log.Debug("session attached",
		logging.Int("read_fd", readFD),
		logging.Int("write_fd", writeFD))
	return nil
}

// Call issues a tracked request. The handler runs on the scheduler goroutine
// when the matching response arrives; a nil handler discards the response.
// The returned id is the request's correlation id.
func (s *Session) Call(method string, args *Args, handler ResponseHandler) (uint32, error) {
	if handler == nil {
		handler = func(any, any) {}
	}
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	id := s.calls.Store(handler)
	payload, err := encodeRequest(id, method, args.Values())
	if err != nil {
		s.calls.Take(id)
		s.mu.Unlock()
		return 0, fmt.Errorf("msgrpc: encode %s: %w", method, err)
	}
	s.appendOutboundLocked(payload)
	s.mu.Unlock()
	s.log.Debug("request queued",
		logging.String(logging.FieldMethod, method),
		logging.Uint64(logging.FieldMsgID, uint64(id)),
		logging.String(logging.FieldDirection, "outbound"),
		logging.Int("bytes", len(payload)))
	return id, nil
}

// Send issues a fire-and-forget request under the null correlation id. Any
// response the engine produces for it is dropped unrouted.
func (s *Session) Send(method string, args *Args) error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	payload, err := encodeRequest(NullMsgID, method, args.Values())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("msgrpc: encode %s: %w", method, err)
	}
	s.appendOutboundLocked(payload)
	s.mu.Unlock()
	s.log.Debug("request queued",
		logging.String(logging.FieldMethod, method),
		logging.String(logging.FieldDirection, "outbound"),
		logging.Bool("fire_and_forget", true),
		logging.Int("bytes", len(payload)))
	return nil
}

// appendOutboundLocked queues payload and wakes the write source on the
// empty-to-nonempty edge. Callers hold s.mu.
func (s *Session) appendOutboundLocked(payload []byte) {
	wasEmpty := len(s.out) == 0
	s.out = append(s.out, payload...)
	if wasEmpty {
		s.writeSrc.Resume()
	}
}

// Shutdown starts the teardown cascade from the host side. It returns
// immediately; Done signals completion. Safe to call repeatedly and in any
// state.
func (s *Session) Shutdown() {
	s.beginShutdown()
}

func (s *Session) beginShutdown() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = ShuttingDown
	writeSrc := s.writeSrc
	s.mu.Unlock()
	s.log.Debug("session shutdown started")
	// A suspended source holds its cancellation pending, so resume first.
	writeSrc.Resume()
	writeSrc.Cancel()
}

// OnReadable is the read source callback. It performs one read, feeds the
// decoder, and routes every value that completed.
func (s *Session) OnReadable(eventloop.Source) {
	n, err := unix.Read(s.readFD, s.readBuf)
	for err == unix.EINTR {
		n, err = unix.Read(s.readFD, s.readBuf)
	}
	if err == unix.EAGAIN {
		return
	}
	if err != nil {
		s.fatal(fmt.Errorf("msgrpc: read engine stream: %w", err))
		return
	}
	if n == 0 {
		s.handleEOF()
		return
	}
	s.dec.Feed(s.readBuf[:n])
	for {
		value, ok, err := s.dec.Next()
		if err != nil {
			s.fatal(err)
			return
		}
		if !ok {
			return
		}
		s.route(value)
	}
}

// route classifies one inbound value. Anything that is neither a response nor
// a notification is logged and dropped; a malformed value is never fatal.
func (s *Session) route(value any) {
	if resp, ok := asResponse(value); ok {
		s.routeResponse(resp)
		return
	}
	if note, ok := asNotification(value); ok {
		s.routeNotification(note)
		return
	}
	logging.WarnWithContext(s.log, "dropping unclassifiable inbound value", "protocol_drop",
		logging.String("value_type", typeName(value)),
		logging.String("value", renderValue(value)),
		logging.String(logging.FieldErrorHint, "engine sent a frame outside the rpc envelope forms"))
}

func (s *Session) routeResponse(resp Response) {
	if resp.MsgID == NullMsgID {
		return
	}
	s.mu.Lock()
	handler, ok := s.calls.Take(resp.MsgID)
	s.mu.Unlock()
	if !ok {
		logging.ErrorWithContext(s.log, "no continuation for response", "orphan_response",
			logging.Uint64(logging.FieldMsgID, uint64(resp.MsgID)),
			logging.String("value", renderValue(resp.Result)),
			logging.String(logging.FieldErrorHint, "response id does not match any in-flight request"))
		return
	}
	handler(resp.Err, resp.Result)
}

func (s *Session) routeNotification(note Notification) {
	if note.Method == "redraw" {
		s.currentSink().Redraw(note.Args)
		return
	}
	s.log.Info("unhandled notification",
		logging.String(logging.FieldMethod, note.Method),
		logging.String(logging.FieldDirection, "inbound"),
		logging.String("args", renderValue(note.Args)))
}

func (s *Session) handleEOF() {
	// The descriptor stays readable after end of file until the cascade
	// cancels the read source, so this can fire more than once.
	s.mu.Lock()
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected {
		return
	}
	s.log.Debug("engine stream reached end of file")
	s.currentSink().CloseRequest()
	s.beginShutdown()
}

// OnWritable is the write source callback. It performs one write of the
// buffered prefix and suspends the source the moment the buffer drains.
func (s *Session) OnWritable(eventloop.Source) {
	s.mu.Lock()
	if len(s.out) == 0 {
		s.writeSrc.Suspend()
		s.mu.Unlock()
		return
	}
	n, err := unix.Write(s.writeFD, s.out)
	for err == unix.EINTR {
		n, err = unix.Write(s.writeFD, s.out)
	}
	if err == nil {
		s.out = s.out[:copy(s.out, s.out[n:])]
		if len(s.out) == 0 {
			s.writeSrc.Suspend()
		}
	}
	s.mu.Unlock()
	if err != nil && err != unix.EAGAIN {
		s.fatal(fmt.Errorf("msgrpc: write engine stream: %w", err))
	}
}

// OnCancelled advances the teardown cascade. The write source's cancellation
// cancels the read source; the read source's cancellation completes the close.
func (s *Session) OnCancelled(src eventloop.Source) {
	s.mu.Lock()
	switch src {
	case s.writeSrc:
		readSrc := s.readSrc
		s.mu.Unlock()
		readSrc.Cancel()
	case s.readSrc:
		s.completeCloseLocked()
	default:
		s.mu.Unlock()
	}
}

// completeCloseLocked finishes teardown: descriptors closed, pending calls
// discarded, state Closed, sink told. Called with s.mu held; releases it.
func (s *Session) completeCloseLocked() {
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	discarded := s.calls.Pending()
	s.calls = newCallTable(initialPendingCapacity)
	s.out = nil
	sink := s.sink
	unix.Close(s.readFD)
	if s.writeFD != s.readFD {
		unix.Close(s.writeFD)
	}
	close(s.done)
	s.mu.Unlock()
	if discarded > 0 {
		s.log.Debug("discarding in-flight requests at close",
			logging.Int("count", discarded))
	}
	s.log.Debug("session closed")
	sink.Shutdown()
}
