package msgrpc

// EventSink receives the session's engine-driven events. Implementations are
// called from the scheduler goroutine and must not block; hand work that can
// stall to another goroutine.
type EventSink interface {
	// Redraw delivers the argument batch of one redraw notification, in
	// stream order relative to every other sink call.
	Redraw(events []any)

	// CloseRequest fires when the engine side of the stream reaches end of
	// file. Teardown is already underway when it is called.
	CloseRequest()

	// Shutdown fires exactly once, after both stream directions are torn
	// down and the descriptors are closed. No sink call follows it.
	Shutdown()
}

type nopSink struct{}

func (nopSink) Redraw([]any) {}

func (nopSink) CloseRequest() {}

func (nopSink) Shutdown() {}
