package transport

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"vellum/internal/logging"
)

// pollRead reads from a nonblocking descriptor until want bytes arrive or the
// deadline passes.
func pollRead(t *testing.T, fd, want int) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var data []byte
	buf := make([]byte, 4096)
	for len(data) < want {
		n, err := unix.Read(fd, buf)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %d bytes, have %d", want, len(data))
			}
			time.Sleep(2 * time.Millisecond)
		case err != nil:
			t.Fatalf("read: %v", err)
		case n == 0:
			t.Fatalf("stream ended with %d of %d bytes", len(data), want)
		default:
			data = append(data, buf[:n]...)
		}
	}
	return data
}

func waitExit(t *testing.T, proc *Process) error {
	t.Helper()
	select {
	case err := <-proc.Wait():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit")
		return nil
	}
}

func TestSpawnEchoesThroughPipes(t *testing.T) {
	conn, proc, err := Spawn(logging.NewNop(), []string{"/bin/cat"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if conn.ReadFD == conn.WriteFD {
		t.Fatal("pipe transport returned a single descriptor")
	}
	if proc.PID() <= 0 {
		t.Fatalf("pid = %d", proc.PID())
	}

	msg := []byte("hello engine\n")
	if _, err := unix.Write(conn.WriteFD, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := pollRead(t, conn.ReadFD, len(msg))
	if string(got) != string(msg) {
		t.Fatalf("echoed %q, want %q", got, msg)
	}

	unix.Close(conn.WriteFD)
	if err := waitExit(t, proc); err != nil {
		t.Fatalf("exit: %v", err)
	}
	unix.Close(conn.ReadFD)
}

func TestSpawnHostEndsNonblocking(t *testing.T) {
	conn, proc, err := Spawn(logging.NewNop(), []string{"/bin/cat"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() {
		conn.Close()
		proc.Kill()
		waitExit(t, proc)
	}()
	for _, fd := range []int{conn.ReadFD, conn.WriteFD} {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			t.Fatalf("fcntl: %v", err)
		}
		if flags&unix.O_NONBLOCK == 0 {
			t.Fatalf("fd %d is blocking", fd)
		}
	}
	// An empty pipe must refuse to block the caller.
	if _, err := unix.Read(conn.ReadFD, make([]byte, 16)); err != unix.EAGAIN {
		t.Fatalf("read on empty pipe = %v, want EAGAIN", err)
	}
}

func TestSpawnExtendsEnvironment(t *testing.T) {
	conn, proc, err := Spawn(logging.NewNop(),
		[]string{"/bin/sh", "-c", `printf '%s' "$VELLUM_TEST_MARK"`},
		[]string{"VELLUM_TEST_MARK=mark-42"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer unix.Close(conn.WriteFD)
	got := pollRead(t, conn.ReadFD, len("mark-42"))
	if string(got) != "mark-42" {
		t.Fatalf("child saw %q, want mark-42", got)
	}
	if err := waitExit(t, proc); err != nil {
		t.Fatalf("exit: %v", err)
	}
	unix.Close(conn.ReadFD)
}

func TestSpawnReportsExitCode(t *testing.T) {
	conn, proc, err := Spawn(logging.NewNop(), []string{"/bin/sh", "-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer conn.Close()
	exitErr := waitExit(t, proc)
	if exitErr == nil {
		t.Fatal("nonzero exit reported as nil")
	}
	if code := ExitCode(exitErr); code != 3 {
		t.Fatalf("ExitCode = %d, want 3", code)
	}
	if code := ExitCode(nil); code != 0 {
		t.Fatalf("ExitCode(nil) = %d, want 0", code)
	}
}

func TestSpawnForwardsStderr(t *testing.T) {
	hub := logging.NewStreamHub(64)
	logger := slog.New(logging.NewStreamHandler(hub, nil))
	conn, proc, err := Spawn(logger, []string{"/bin/sh", "-c", "echo alpha >&2; printf beta >&2"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer conn.Close()
	if err := waitExit(t, proc); err != nil {
		t.Fatalf("exit: %v", err)
	}
	var lines []string
	for _, event := range hub.Tail(64) {
		if event.Message != "engine stderr" {
			continue
		}
		for _, field := range event.Fields {
			lines = append(lines, field.Value)
		}
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "alpha") {
		t.Fatalf("stderr line missing: %q", joined)
	}
	if !strings.Contains(joined, "beta") {
		t.Fatalf("unterminated stderr line not flushed at exit: %q", joined)
	}
}

func TestSpawnErrors(t *testing.T) {
	if _, _, err := Spawn(logging.NewNop(), nil, nil); err == nil {
		t.Fatal("empty command accepted")
	}
	if _, _, err := Spawn(logging.NewNop(), []string{"/nonexistent/engine-binary"}, nil); err == nil {
		t.Fatal("missing binary accepted")
	}
}

func TestConnectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.sock")
	if len(path) > maxSocketPath {
		t.Skipf("temp path too long for a socket: %s", path)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		server, err := listener.Accept()
		if err != nil {
			return
		}
		defer server.Close()
		io.Copy(server, server)
	}()

	conn, err := Connect(logging.NewNop(), path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if conn.ReadFD != conn.WriteFD {
		t.Fatal("socket transport returned distinct descriptors")
	}
	msg := []byte("ping")
	if _, err := unix.Write(conn.WriteFD, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := pollRead(t, conn.ReadFD, len(msg)); string(got) != "ping" {
		t.Fatalf("echoed %q", got)
	}
}

func TestConnectRejectsOverlongPath(t *testing.T) {
	_, err := Connect(logging.NewNop(), "/tmp/"+strings.Repeat("x", 200))
	if err == nil {
		t.Fatal("overlong socket path accepted")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("error does not name the limit: %v", err)
	}
}

func TestConnectMissingSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := Connect(logging.NewNop(), path); err == nil {
		t.Fatal("connect to absent socket succeeded")
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	hub := logging.NewStreamHub(64)
	w := &lineWriter{log: slog.New(logging.NewStreamHandler(hub, nil))}
	w.Write([]byte("first li"))
	w.Write([]byte("ne\r\nsecond line\npart"))
	w.flush()

	var lines []string
	for _, event := range hub.Tail(64) {
		for _, field := range event.Fields {
			lines = append(lines, field.Value)
		}
	}
	want := []string{"first line", "second line", "part"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines = %v, want %v", lines, want)
		}
	}
}
