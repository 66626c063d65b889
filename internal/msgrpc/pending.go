package msgrpc

// ResponseHandler consumes the outcome of one tracked request. Exactly one of
// err and result is non-nil for a request the engine answered; both are nil
// only when the engine returned an explicit nil result.
type ResponseHandler func(err, result any)

const initialPendingCapacity = 16

// callTable tracks the continuation for every in-flight request. Slot indexes
// double as correlation ids. Allocation scans round-robin from just past the
// previously issued slot, so recently retired ids are the last to be reused
// and a late response cannot land on a fresh request's slot until the table
// has gone all the way around.
type callTable struct {
	handlers []ResponseHandler
	last     int
	count    int
}

func newCallTable(capacity int) *callTable {
	if capacity < 1 {
		capacity = initialPendingCapacity
	}
	return &callTable{handlers: make([]ResponseHandler, capacity)}
}

// Store registers a continuation and returns its correlation id. The table
// doubles when full, so Store never fails and ids stay below NullMsgID for
// any realistic number of in-flight requests.
func (t *callTable) Store(handler ResponseHandler) uint32 {
	index := t.freeSlot()
	if index == len(t.handlers) {
		t.handlers = append(t.handlers, make([]ResponseHandler, len(t.handlers))...)
	}
	t.handlers[index] = handler
	t.last = index
	t.count++
	return uint32(index)
}

func (t *callTable) freeSlot() int {
	n := len(t.handlers)
	for i := t.last + 1; i < n; i++ {
		if t.handlers[i] == nil {
			return i
		}
	}
	for i := 0; i <= t.last && i < n; i++ {
		if t.handlers[i] == nil {
			return i
		}
	}
	return n
}

// Take removes and returns the continuation stored under id.
func (t *callTable) Take(id uint32) (ResponseHandler, bool) {
	index := int(id)
	if index >= len(t.handlers) || t.handlers[index] == nil {
		return nil, false
	}
	handler := t.handlers[index]
	t.handlers[index] = nil
	t.count--
	return handler, true
}

// Has reports whether id currently maps to a stored continuation.
func (t *callTable) Has(id uint32) bool {
	index := int(id)
	return index < len(t.handlers) && t.handlers[index] != nil
}

// Pending returns the number of continuations awaiting a response.
func (t *callTable) Pending() int { return t.count }
