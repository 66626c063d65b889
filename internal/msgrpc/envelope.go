package msgrpc

import "math"

// Envelope kinds defined by the wire protocol.
const (
	requestKind      = 0
	responseKind     = 1
	notificationKind = 2
)

// NullMsgID is the fire-and-forget correlation id. It is never allocated for
// a tracked request, and a response carrying it is dropped without routing
// and without an unmatched-response complaint.
const NullMsgID uint32 = math.MaxUint32

// Notification is an inbound method invocation with no correlation id.
type Notification struct {
	Method string
	Args   []any
}

// Response is an inbound reply to an earlier request. Exactly one of Err and
// Result is meaningful; the other is nil.
type Response struct {
	MsgID  uint32
	Err    any
	Result any
}

func intFromAny(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

// asNotification matches a three-element array whose first element is the
// notification kind, second a string method name, third an argument array.
func asNotification(v any) (Notification, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return Notification{}, false
	}
	kind, ok := intFromAny(arr[0])
	if !ok || kind != notificationKind {
		return Notification{}, false
	}
	method, ok := arr[1].(string)
	if !ok {
		return Notification{}, false
	}
	args, ok := arr[2].([]any)
	if !ok {
		return Notification{}, false
	}
	return Notification{Method: method, Args: args}, true
}

// asResponse matches a four-element array whose first element is the
// response kind and second an integer correlation id. The error and result
// positions are accepted as-is.
func asResponse(v any) (Response, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 4 {
		return Response{}, false
	}
	kind, ok := intFromAny(arr[0])
	if !ok || kind != responseKind {
		return Response{}, false
	}
	id, ok := intFromAny(arr[1])
	if !ok || id < 0 || id > math.MaxUint32 {
		return Response{}, false
	}
	return Response{MsgID: uint32(id), Err: arr[2], Result: arr[3]}, true
}
