package testsupport

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"vellum/internal/msgrpc"
)

// ServeStubEngine answers just enough of the editor api for tests: the
// handshake, eval, commands, and a redraw burst after ui attach. It reads
// frames from r until EOF or a quit command, then calls quit.
func ServeStubEngine(r io.Reader, w io.Writer, quit func()) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	for {
		value, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return
		}
		frame, ok := value.([]any)
		if !ok || len(frame) != 4 {
			continue
		}
		kind, ok := stubInt(frame[0])
		if !ok || kind != 0 {
			continue
		}
		id, _ := stubInt(frame[1])
		args, _ := frame[3].([]any)
		method, _ := frame[2].(string)
		fireAndForget := uint32(id) == msgrpc.NullMsgID

		switch method {
		case "nvim_get_api_info":
			stubWrite(w, []any{1, id, nil, []any{int64(9), map[string]any{
				"version": map[string]any{"major": 0, "minor": 11, "patch": 3},
			}}})
		case "nvim_ui_attach":
			stubWrite(w, []any{2, "redraw", []any{
				[]any{"clear", []any{}},
				[]any{"flush", []any{}},
			}})
		case "nvim_eval":
			if !fireAndForget {
				stubWrite(w, []any{1, id, nil, int64(4)})
			}
		case "nvim_command":
			command := ""
			if len(args) > 0 {
				command, _ = args[0].(string)
			}
			if !fireAndForget {
				stubWrite(w, []any{1, id, nil, nil})
			}
			if command == "qa" || command == "qa!" {
				quit()
				return
			}
		default:
			if !fireAndForget {
				stubWrite(w, []any{1, id, nil, nil})
			}
		}
	}
}

// ListenStubEngine serves stub engines to every connection on a unix socket.
func ListenStubEngine(t testing.TB, path string) {
	t.Helper()
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen stub socket: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go ServeStubEngine(conn, conn, func() { conn.Close() })
		}
	}()
}

func stubWrite(w io.Writer, frame []any) {
	payload, err := msgpack.Marshal(frame)
	if err != nil {
		return
	}
	w.Write(payload)
}

func stubInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
