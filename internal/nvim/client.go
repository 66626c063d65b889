// Package nvim is the typed client surface over a host-to-engine rpc
// session: api handshake, ui attachment, command and input dispatch, and
// remote object handles.
package nvim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vellum/internal/eventloop"
	"vellum/internal/logging"
	"vellum/internal/msgrpc"
	"vellum/internal/transport"
)

// ErrSessionClosed is returned by waiting calls whose session tore down
// before the response arrived.
var ErrSessionClosed = errors.New("nvim: session closed")

// Info is the engine's api handshake: its channel id on the engine side and
// the full api metadata dictionary.
type Info struct {
	ChannelID int64
	Metadata  map[string]any
}

// Version extracts "major.minor.patch" from the metadata, or "" when the
// engine did not report one.
func (i Info) Version() string {
	version, ok := i.Metadata["version"].(map[string]any)
	if !ok {
		return ""
	}
	major, okMajor := asInt(version["major"])
	minor, okMinor := asInt(version["minor"])
	patch, okPatch := asInt(version["patch"])
	if !okMajor || !okMinor || !okPatch {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// Build extracts the engine build string, or "" when absent.
func (i Info) Build() string {
	version, ok := i.Metadata["version"].(map[string]any)
	if !ok {
		return ""
	}
	build, _ := version["build"].(string)
	return build
}

// APILevel reports the api_level field from the version dictionary.
func (i Info) APILevel() int64 {
	version, ok := i.Metadata["version"].(map[string]any)
	if !ok {
		return 0
	}
	level, _ := asInt(version["api_level"])
	return level
}

// FunctionCount reports how many api functions the engine advertises.
func (i Info) FunctionCount() int {
	functions, _ := i.Metadata["functions"].([]any)
	return len(functions)
}

// UIEventCount reports how many ui events the engine advertises.
func (i Info) UIEventCount() int {
	events, _ := i.Metadata["ui_events"].([]any)
	return len(events)
}

// UIOptions lists the attach options the engine understands.
func (i Info) UIOptions() []string {
	raw, _ := i.Metadata["ui_options"].([]any)
	if len(raw) == 0 {
		return nil
	}
	options := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			options = append(options, name)
		}
	}
	return options
}

func parseInfo(result any) (Info, error) {
	arr, ok := result.([]any)
	if !ok || len(arr) != 2 {
		return Info{}, fmt.Errorf("nvim: api info shape: %v", renderShort(result))
	}
	channel, ok := asInt(arr[0])
	if !ok {
		return Info{}, fmt.Errorf("nvim: api info channel id: %v", renderShort(arr[0]))
	}
	metadata, ok := arr[1].(map[string]any)
	if !ok {
		return Info{}, fmt.Errorf("nvim: api info metadata: %v", renderShort(arr[1]))
	}
	return Info{ChannelID: channel, Metadata: metadata}, nil
}

func renderShort(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

// Client wraps a session with the engine api vocabulary. Its fire-and-forget
// operations return once the request is queued; continuations run on the
// scheduler goroutine.
type Client struct {
	sess *msgrpc.Session
	log  *slog.Logger
}

// NewClient wraps an attached session.
func NewClient(sess *msgrpc.Session, logger *slog.Logger) *Client {
	return &Client{sess: sess, log: logging.NewComponentLogger(logger, "nvim")}
}

// Spawn starts the engine command and attaches a session over its stdio.
// Entries in env extend the inherited environment.
func Spawn(sched eventloop.Scheduler, logger *slog.Logger, argv, env []string, opts ...msgrpc.Option) (*Client, *transport.Process, error) {
	conn, proc, err := transport.Spawn(logger, argv, env)
	if err != nil {
		return nil, nil, err
	}
	client, err := attach(sched, logger, conn, opts...)
	if err != nil {
		conn.Close()
		proc.Kill()
		return nil, nil, err
	}
	return client, proc, nil
}

// Connect attaches a session over a unix socket the engine is serving.
func Connect(sched eventloop.Scheduler, logger *slog.Logger, path string, opts ...msgrpc.Option) (*Client, error) {
	conn, err := transport.Connect(logger, path)
	if err != nil {
		return nil, err
	}
	client, err := attach(sched, logger, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

func attach(sched eventloop.Scheduler, logger *slog.Logger, conn transport.Connection, opts ...msgrpc.Option) (*Client, error) {
	sess := msgrpc.New(sched, append([]msgrpc.Option{msgrpc.WithLogger(logger)}, opts...)...)
	if err := sess.Attach(conn.ReadFD, conn.WriteFD); err != nil {
		return nil, err
	}
	return NewClient(sess, logger), nil
}

// Session exposes the underlying session for sink binding and lifecycle.
func (c *Client) Session() *msgrpc.Session { return c.sess }

// SetSink binds the receiver for redraw batches and teardown signals.
func (c *Client) SetSink(sink msgrpc.EventSink) { c.sess.SetSink(sink) }

// Shutdown starts session teardown without consulting the engine.
func (c *Client) Shutdown() { c.sess.Shutdown() }

// Done is closed once the session has fully torn down.
func (c *Client) Done() <-chan struct{} { return c.sess.Done() }

// State reports the session lifecycle phase.
func (c *Client) State() msgrpc.State { return c.sess.State() }

// PendingCalls reports requests still awaiting a response.
func (c *Client) PendingCalls() int { return c.sess.PendingCalls() }

// Call issues a raw api request. A nil handler discards the response.
func (c *Client) Call(method string, args *msgrpc.Args, handler msgrpc.ResponseHandler) (uint32, error) {
	return c.sess.Call(method, args, handler)
}

// CallWait issues a raw api request and blocks for its outcome. It must not
// be called from a scheduler callback; the response could never be routed.
func (c *Client) CallWait(ctx context.Context, method string, args *msgrpc.Args) (any, error) {
	type outcome struct {
		err    any
		result any
	}
	ch := make(chan outcome, 1)
	if _, err := c.sess.Call(method, args, func(err, result any) {
		ch <- outcome{err: err, result: result}
	}); err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, DecodeError(out.err)
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.sess.Done():
		return nil, ErrSessionClosed
	}
}

// APIInfo requests the api handshake; the continuation receives the parsed
// result on the scheduler goroutine.
func (c *Client) APIInfo(handler func(Info, error)) error {
	_, err := c.sess.Call("nvim_get_api_info", nil, func(respErr, result any) {
		if respErr != nil {
			handler(Info{}, DecodeError(respErr))
			return
		}
		handler(parseInfo(result))
	})
	return err
}

// APIInfoWait is the blocking form of APIInfo.
func (c *Client) APIInfoWait(ctx context.Context) (Info, error) {
	result, err := c.CallWait(ctx, "nvim_get_api_info", nil)
	if err != nil {
		return Info{}, err
	}
	return parseInfo(result)
}

// AttachUI announces a grid ui of the given size. The capability map always
// carries the line-grid protocol; extra pairs extend or override it.
func (c *Client) AttachUI(width, height int, extra ...msgrpc.Pair) error {
	options := []msgrpc.Pair{msgrpc.Entry("ext_linegrid", msgrpc.Bool(true))}
	for _, pair := range extra {
		replaced := false
		for i := range options {
			if options[i].Key == pair.Key {
				options[i] = pair
				replaced = true
				break
			}
		}
		if !replaced {
			options = append(options, pair)
		}
	}
	args := msgrpc.NewArgs().Int(int64(width)).Int(int64(height)).Map(options...)
	if err := c.sess.Send("nvim_ui_attach", args); err != nil {
		return err
	}
	c.log.Debug("ui attach queued",
		logging.Int("width", width),
		logging.Int("height", height))
	return nil
}

// DetachUI withdraws the ui.
func (c *Client) DetachUI() error {
	return c.sess.Send("nvim_ui_detach", nil)
}

// TryResizeUI requests a new grid size.
func (c *Client) TryResizeUI(width, height int) error {
	return c.sess.Send("nvim_ui_try_resize", msgrpc.NewArgs().Int(int64(width)).Int(int64(height)))
}

// Quit asks the engine to exit. With confirm the engine may refuse while
// buffers hold unsaved changes; without it the quit is forced.
func (c *Client) Quit(confirm bool) error {
	command := "qa!"
	if confirm {
		command = "qa"
	}
	c.log.Debug("quit requested", logging.Bool("confirm", confirm))
	return c.Command(command)
}

// Command executes an ex command fire-and-forget.
func (c *Client) Command(command string) error {
	return c.sess.Send("nvim_command", msgrpc.NewArgs().String(command))
}

// CommandWait executes an ex command and blocks until the engine accepts or
// rejects it.
func (c *Client) CommandWait(ctx context.Context, command string) error {
	_, err := c.CallWait(ctx, "nvim_command", msgrpc.NewArgs().String(command))
	return err
}

// Input feeds raw keys fire-and-forget.
func (c *Client) Input(keys string) error {
	return c.sess.Send("nvim_input", msgrpc.NewArgs().String(keys))
}
