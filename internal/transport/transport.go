// Package transport establishes the byte streams a session runs over: either
// a spawned engine subprocess wired through stdio pipes, or a unix socket to
// an engine that is already listening.
package transport

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"vellum/internal/logging"
)

// maxSocketPath is the portable sun_path capacity, minus the terminator.
const maxSocketPath = 103

// Connection is a pair of stream descriptors ready for a session. For a
// spawned engine the descriptors are distinct pipe ends; for a socket both
// name the same descriptor. Descriptors are nonblocking. A successful
// session attach takes ownership; otherwise the holder must Close.
type Connection struct {
	ReadFD  int
	WriteFD int
}

// Close releases both descriptors.
func (c Connection) Close() {
	unix.Close(c.ReadFD)
	if c.WriteFD != c.ReadFD {
		unix.Close(c.WriteFD)
	}
}

// Spawn starts the engine command with its stdin and stdout bound to fresh
// pipes and returns the host-side ends plus a handle on the process. Stderr
// is drained line by line into the logger. The child's descriptors stay
// blocking; only the host ends are flipped nonblocking. Entries in env are
// appended to the inherited environment.
func Spawn(logger *slog.Logger, argv, env []string) (Connection, *Process, error) {
	log := logging.NewComponentLogger(logger, "transport")
	if len(argv) == 0 {
		return Connection{}, nil, fmt.Errorf("transport: empty engine command")
	}

	var fromEngine, toEngine [2]int
	if err := unix.Pipe2(fromEngine[:], unix.O_CLOEXEC); err != nil {
		return Connection{}, nil, fmt.Errorf("transport: create engine output pipe: %w", err)
	}
	if err := unix.Pipe2(toEngine[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fromEngine[0])
		unix.Close(fromEngine[1])
		return Connection{}, nil, fmt.Errorf("transport: create engine input pipe: %w", err)
	}

	closeAll := func() {
		unix.Close(fromEngine[0])
		unix.Close(fromEngine[1])
		unix.Close(toEngine[0])
		unix.Close(toEngine[1])
	}

	// Each pipe end is its own file description, so the child ends keep
	// blocking semantics.
	if err := unix.SetNonblock(fromEngine[0], true); err != nil {
		closeAll()
		return Connection{}, nil, fmt.Errorf("transport: set read end nonblocking: %w", err)
	}
	if err := unix.SetNonblock(toEngine[1], true); err != nil {
		closeAll()
		return Connection{}, nil, fmt.Errorf("transport: set write end nonblocking: %w", err)
	}

	childStdin := os.NewFile(uintptr(toEngine[0]), "engine-stdin")
	childStdout := os.NewFile(uintptr(fromEngine[1]), "engine-stdout")
	stderr := &lineWriter{log: logging.NewComponentLogger(logger, "engine")}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	cmd.Stderr = stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	if err := cmd.Start(); err != nil {
		childStdin.Close()
		childStdout.Close()
		unix.Close(fromEngine[0])
		unix.Close(toEngine[1])
		return Connection{}, nil, fmt.Errorf("transport: start engine %q: %w", argv[0], err)
	}
	childStdin.Close()
	childStdout.Close()

	proc := newProcess(cmd, stderr)
	log.Debug("engine spawned",
		logging.String("command", argv[0]),
		logging.Int("pid", proc.PID()))
	return Connection{ReadFD: fromEngine[0], WriteFD: toEngine[1]}, proc, nil
}

// Connect dials a unix stream socket and returns it as both stream
// directions of a Connection.
func Connect(logger *slog.Logger, path string) (Connection, error) {
	log := logging.NewComponentLogger(logger, "transport")
	if len(path) > maxSocketPath {
		return Connection{}, fmt.Errorf("transport: socket path exceeds %d bytes: %q", maxSocketPath, path)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Connection{}, fmt.Errorf("transport: create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return Connection{}, fmt.Errorf("transport: connect %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return Connection{}, fmt.Errorf("transport: set socket nonblocking: %w", err)
	}
	log.Debug("engine socket connected", logging.String("socket", path))
	return Connection{ReadFD: fd, WriteFD: fd}, nil
}
