package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// serviceName is the rpc service the host registers its handlers under.
const serviceName = "Vellum"

const dialTimeout = 2 * time.Second

// Client provides RPC access to the host.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// roundTrip performs one rpc exchange and allocates the typed response.
func roundTrip[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.invoke(method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Start requests a fresh engine session.
func (c *Client) Start() (*StartResponse, error) {
	return roundTrip[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the engine session to stop; the host keeps serving.
func (c *Client) Stop() (*StopResponse, error) {
	return roundTrip[StopResponse](c, "Stop", StopRequest{})
}

// Shutdown stops the session and asks the host process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	return roundTrip[ShutdownResponse](c, "Shutdown", ShutdownRequest{})
}

// Status retrieves the host status.
func (c *Client) Status() (*StatusResponse, error) {
	return roundTrip[StatusResponse](c, "Status", StatusRequest{})
}

// Info retrieves the engine api summary.
func (c *Client) Info() (*InfoResponse, error) {
	return roundTrip[InfoResponse](c, "Info", InfoRequest{})
}

// Call invokes an api method on the engine and returns its result.
func (c *Client) Call(method string, args []any) (*CallResponse, error) {
	return roundTrip[CallResponse](c, "Call", CallRequest{Method: method, Args: args})
}

// Command runs an ex command on the engine and waits for completion.
func (c *Client) Command(command string) error {
	var resp CommandResponse
	return c.invoke("Command", CommandRequest{Command: command}, &resp)
}

// Input queues raw key input on the engine.
func (c *Client) Input(keys string) error {
	var resp InputResponse
	return c.invoke("Input", InputRequest{Keys: keys}, &resp)
}

// AttachUI attaches the remote UI and reports the effective grid.
func (c *Client) AttachUI(width, height int) (*AttachUIResponse, error) {
	return roundTrip[AttachUIResponse](c, "AttachUI", AttachUIRequest{Width: width, Height: height})
}

// DetachUI detaches the remote UI.
func (c *Client) DetachUI() error {
	var resp DetachUIResponse
	return c.invoke("DetachUI", DetachUIRequest{}, &resp)
}

// ResizeUI resizes the attached UI grid.
func (c *Client) ResizeUI(width, height int) error {
	var resp ResizeUIResponse
	return c.invoke("ResizeUI", ResizeUIRequest{Width: width, Height: height}, &resp)
}

// Quit asks the engine to quit.
func (c *Client) Quit(force bool) error {
	var resp QuitResponse
	return c.invoke("Quit", QuitRequest{Force: force}, &resp)
}

// JournalSessions lists recorded sessions, newest first.
func (c *Client) JournalSessions(limit int) (*JournalSessionsResponse, error) {
	return roundTrip[JournalSessionsResponse](c, "JournalSessions", JournalSessionsRequest{Limit: limit})
}

// JournalMessages fetches recent traffic for a session.
func (c *Client) JournalMessages(sessionID string, limit int) (*JournalMessagesResponse, error) {
	req := JournalMessagesRequest{SessionID: sessionID, Limit: limit}
	return roundTrip[JournalMessagesResponse](c, "JournalMessages", req)
}

// JournalClear removes all journaled sessions and messages.
func (c *Client) JournalClear() (*JournalClearResponse, error) {
	return roundTrip[JournalClearResponse](c, "JournalClear", JournalClearRequest{})
}

// LogTail returns log lines from the host.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return roundTrip[LogTailResponse](c, "LogTail", req)
}

// Events returns structured log events from the host's stream hub.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	return roundTrip[EventsResponse](c, "Events", req)
}
