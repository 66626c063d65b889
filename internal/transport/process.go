package transport

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"vellum/internal/logging"
)

// Process is a handle on a spawned engine.
type Process struct {
	cmd    *exec.Cmd
	waitCh chan error
}

func newProcess(cmd *exec.Cmd, stderr *lineWriter) *Process {
	p := &Process{cmd: cmd, waitCh: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		stderr.flush()
		p.waitCh <- err
	}()
	return p
}

// PID returns the engine's process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Wait yields the engine's exit outcome once. A nil error is a clean exit.
func (p *Process) Wait() <-chan error { return p.waitCh }

// Kill delivers SIGKILL. Safe to call after exit.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// ExitCode extracts the exit status from a Wait error. A nil error is exit
// zero; a signal death reports as 128 plus the signal number.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *exec.ExitError
	if !errors.As(err, &exit) {
		return -1
	}
	status, ok := exit.Sys().(syscall.WaitStatus)
	if !ok {
		return exit.ExitCode()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}

// lineWriter splits a subprocess stderr stream into log lines. Partial lines
// are held until their newline arrives; flush emits whatever remains at exit.
type lineWriter struct {
	log *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[:copy(w.buf, w.buf[i+1:])]
	}
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emit(line []byte) {
	trimmed := bytes.TrimRight(line, "\r")
	if len(trimmed) == 0 {
		return
	}
	w.log.Info("engine stderr", logging.String("line", string(trimmed)))
}
