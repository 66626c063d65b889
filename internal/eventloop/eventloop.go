// Package eventloop provides a single-goroutine epoll loop with suspendable
// per-descriptor event sources. Sources follow a dispatch-source contract:
// they are created suspended, deliver callbacks only while resumed, and
// deliver exactly one cancellation callback after which they never fire
// again. Cancelling a suspended source defers the cancellation until the
// source is resumed.
package eventloop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"vellum/internal/logging"
)

// ErrClosed is returned by AddSource after the loop has shut down.
var ErrClosed = errors.New("eventloop: closed")

// Interest selects which readiness a source observes.
type Interest uint8

const (
	Read Interest = iota + 1
	Write
)

// Source is a registered descriptor interest. All three operations are safe
// from any goroutine; their effects apply on the loop goroutine in call order.
type Source interface {
	// Resume starts callback delivery, or completes a deferred cancellation.
	Resume()
	// Suspend stops callback delivery until the next Resume.
	Suspend()
	// Cancel permanently stops the source and schedules OnCancelled. On a
	// suspended source the cancellation stays pending until Resume.
	Cancel()
}

// Handler receives source callbacks, always on the loop goroutine.
type Handler interface {
	OnReadable(Source)
	OnWritable(Source)
	OnCancelled(Source)
}

// Scheduler is the loop surface consumers depend on, kept narrow so tests can
// substitute a synchronous fake.
type Scheduler interface {
	AddSource(fd int, interest Interest, handler Handler) (Source, error)
	Dispatch(fn func())
}

type sourceState uint8

const (
	stateSuspended sourceState = iota
	stateActive
	stateCancelPending
	stateCancelled
)

type loopSource struct {
	loop     *Loop
	fd       int
	interest Interest
	// state is owned by the loop goroutine.
	state   sourceState
	handler Handler
}

func (s *loopSource) Resume()  { s.loop.enqueue(func() { s.loop.resumeSource(s) }) }
func (s *loopSource) Suspend() { s.loop.enqueue(func() { s.loop.suspendSource(s) }) }
func (s *loopSource) Cancel()  { s.loop.enqueue(func() { s.loop.cancelSource(s) }) }

// fdEntry tracks up to one read and one write source sharing a descriptor,
// which is how socket transports register both directions.
type fdEntry struct {
	read       *loopSource
	write      *loopSource
	registered bool
}

// Loop multiplexes sources over one epoll descriptor. Run must be executing
// before Close is called.
type Loop struct {
	epfd   int
	wakefd int
	log    *slog.Logger

	mu      sync.Mutex
	ops     []func()
	fds     map[int]*fdEntry
	closing bool

	done chan struct{}
}

// New creates a loop. The caller starts it with go Run().
func New(logger *slog.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &event); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("register wake descriptor: %w", err)
	}
	return &Loop{
		epfd:   epfd,
		wakefd: wakefd,
		log:    logging.NewComponentLogger(logger, "eventloop"),
		fds:    make(map[int]*fdEntry),
		done:   make(chan struct{}),
	}, nil
}

// AddSource registers a suspended source for one direction of fd. The
// descriptor is switched to non-blocking mode; ownership stays with the
// caller.
func (l *Loop) AddSource(fd int, interest Interest, handler Handler) (Source, error) {
	if handler == nil {
		return nil, errors.New("eventloop: nil handler")
	}
	if interest != Read && interest != Write {
		return nil, fmt.Errorf("eventloop: invalid interest %d", interest)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock on fd %d: %w", fd, err)
	}

	src := &loopSource{loop: l, fd: fd, interest: interest, handler: handler, state: stateSuspended}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return nil, ErrClosed
	}
	entry := l.fds[fd]
	if entry == nil {
		entry = &fdEntry{}
		l.fds[fd] = entry
	}
	switch interest {
	case Read:
		if entry.read != nil {
			return nil, fmt.Errorf("eventloop: fd %d already has a read source", fd)
		}
		entry.read = src
	case Write:
		if entry.write != nil {
			return nil, fmt.Errorf("eventloop: fd %d already has a write source", fd)
		}
		entry.write = src
	}
	return src, nil
}

// Dispatch runs fn on the loop goroutine after previously queued operations.
func (l *Loop) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	l.enqueue(fn)
}

// Run processes events until Close. It owns all handler invocations.
func (l *Loop) Run() {
	defer close(l.done)
	events := make([]unix.EpollEvent, 64)
	for {
		if l.drainOps() {
			return
		}
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logging.ErrorWithContext(l.log, "event wait failed", "loop_failure",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the host"))
			l.finalize()
			return
		}
		for i := 0; i < n; i++ {
			l.dispatchEvent(events[i])
		}
	}
}

// Close stops the loop, cancelling any remaining sources, and waits for Run
// to return. Must not be called from the loop goroutine.
func (l *Loop) Close() error {
	l.mu.Lock()
	already := l.closing
	l.closing = true
	l.mu.Unlock()
	if !already {
		l.wake()
	}
	<-l.done
	return nil
}

func (l *Loop) enqueue(op func()) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	// EAGAIN means a wake is already pending.
	_, _ = unix.Write(l.wakefd, buf[:])
}

// drainOps applies queued operations until none remain, then finishes
// shutdown if Close was requested. Returns true when the loop should exit.
func (l *Loop) drainOps() bool {
	for {
		l.mu.Lock()
		ops := l.ops
		l.ops = nil
		closing := l.closing
		l.mu.Unlock()

		for _, op := range ops {
			op()
		}

		l.mu.Lock()
		pending := len(l.ops) > 0
		l.mu.Unlock()
		if pending {
			continue
		}
		if closing {
			l.finalize()
			return true
		}
		return false
	}
}

// finalize force-cancels every remaining source and closes the loop
// descriptors. Deferred cancellations are delivered here even if their
// sources were never resumed.
func (l *Loop) finalize() {
	for {
		l.mu.Lock()
		var victim *loopSource
		for _, entry := range l.fds {
			if entry.read != nil {
				victim = entry.read
				break
			}
			if entry.write != nil {
				victim = entry.write
				break
			}
		}
		l.mu.Unlock()
		if victim == nil {
			break
		}
		l.finishCancel(victim)
		// Cancellation handlers may enqueue more ops; apply them so
		// cascaded cancellations settle before descriptors close.
		l.mu.Lock()
		ops := l.ops
		l.ops = nil
		l.mu.Unlock()
		for _, op := range ops {
			op()
		}
	}
	unix.Close(l.wakefd)
	unix.Close(l.epfd)
}

func (l *Loop) dispatchEvent(event unix.EpollEvent) {
	fd := int(event.Fd)
	if fd == l.wakefd {
		var buf [8]byte
		_, _ = unix.Read(l.wakefd, buf[:])
		return
	}

	l.mu.Lock()
	entry := l.fds[fd]
	var rsrc, wsrc *loopSource
	if entry != nil {
		rsrc, wsrc = entry.read, entry.write
	}
	l.mu.Unlock()

	const readable = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR
	const writable = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
	if event.Events&readable != 0 && rsrc != nil && rsrc.state == stateActive {
		rsrc.handler.OnReadable(rsrc)
	}
	if event.Events&writable != 0 && wsrc != nil && wsrc.state == stateActive {
		wsrc.handler.OnWritable(wsrc)
	}
}

func (l *Loop) resumeSource(s *loopSource) {
	switch s.state {
	case stateActive, stateCancelled:
		return
	case stateCancelPending:
		l.finishCancel(s)
	case stateSuspended:
		s.state = stateActive
		l.updateInterest(s.fd)
	}
}

func (l *Loop) suspendSource(s *loopSource) {
	if s.state != stateActive {
		return
	}
	s.state = stateSuspended
	l.updateInterest(s.fd)
}

func (l *Loop) cancelSource(s *loopSource) {
	switch s.state {
	case stateCancelled, stateCancelPending:
		return
	case stateSuspended:
		// Mirrors the dispatch-source rule: a suspended source must be
		// resumed for its cancellation to complete.
		s.state = stateCancelPending
	case stateActive:
		l.finishCancel(s)
	}
}

func (l *Loop) finishCancel(s *loopSource) {
	if s.state == stateCancelled {
		return
	}
	s.state = stateCancelled

	l.mu.Lock()
	if entry := l.fds[s.fd]; entry != nil {
		if entry.read == s {
			entry.read = nil
		}
		if entry.write == s {
			entry.write = nil
		}
		if entry.read == nil && entry.write == nil {
			delete(l.fds, s.fd)
			if entry.registered {
				// The descriptor may already be closed; the kernel
				// drops closed fds from the set on its own.
				_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, s.fd, nil)
				entry.registered = false
			}
			l.mu.Unlock()
			s.handler.OnCancelled(s)
			return
		}
	}
	l.mu.Unlock()
	l.applyInterest(s.fd)
	s.handler.OnCancelled(s)
}

func (l *Loop) updateInterest(fd int) {
	l.applyInterest(fd)
}

// applyInterest reconciles the epoll registration of fd with the active
// sources attached to it.
func (l *Loop) applyInterest(fd int) {
	l.mu.Lock()
	entry := l.fds[fd]
	if entry == nil {
		l.mu.Unlock()
		return
	}
	var want uint32
	if entry.read != nil && entry.read.state == stateActive {
		want |= unix.EPOLLIN
	}
	if entry.write != nil && entry.write.state == stateActive {
		want |= unix.EPOLLOUT
	}
	registered := entry.registered
	switch {
	case want == 0 && registered:
		entry.registered = false
	case want != 0 && !registered:
		entry.registered = true
	}
	l.mu.Unlock()

	event := unix.EpollEvent{Events: want, Fd: int32(fd)}
	var err error
	switch {
	case want == 0 && registered:
		err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	case want != 0 && !registered:
		err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &event)
	case want != 0 && registered:
		err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &event)
	}
	if err != nil {
		logging.WarnWithContext(l.log, "epoll interest update failed", "loop_failure",
			logging.Int("fd", fd),
			logging.Error(err))
	}
}
