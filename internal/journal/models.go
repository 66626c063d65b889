package journal

import "time"

// Transport labels for session records.
const (
	TransportSpawn  = "spawn"
	TransportSocket = "socket"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message kinds.
const (
	KindRequest      = "request"
	KindResponse     = "response"
	KindNotification = "notification"
	KindDrop         = "drop"
)

// Session is one engine attachment from start to teardown.
type Session struct {
	ID            string
	RunID         string
	Transport     string
	Target        string
	EnginePID     int64
	ChannelID     int64
	EngineVersion string
	StartedAt     time.Time
	EndedAt       *time.Time
	EndReason     string
	ExitCode      *int64
}

// Active reports whether the session has not yet recorded its end.
func (s *Session) Active() bool { return s.EndedAt == nil }

// Message is one journaled rpc envelope.
type Message struct {
	ID        int64
	SessionID string
	Direction string
	Kind      string
	Method    string
	MsgID     *int64
	Detail    string
	CreatedAt time.Time
}

// Stats aggregates a session's journaled traffic by kind.
type Stats struct {
	Requests      int64
	Responses     int64
	Notifications int64
	Drops         int64
}

// Total sums every journaled envelope.
func (s Stats) Total() int64 {
	return s.Requests + s.Responses + s.Notifications + s.Drops
}
