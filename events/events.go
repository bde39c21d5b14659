// Package events implements C9, the multi-producer multi-subscriber
// lifecycle event bus every other component publishes into.
package events

// Kind tags the variant of an Event, modeling the spec §3 tagged union.
type Kind int

const (
	KindLiveStart Kind = iota
	KindLiveEnd
	KindRecordStart
	KindRecordEnd
	KindRecordTick
	KindChat
	KindProgressUpdate
	KindProgressFinished
)

// RoomSnapshot is the payload carried by LiveStart/LiveEnd/RecordStart/
// RecordEnd events — the room-status snapshot at the moment of the
// transition, per spec §3.
type RoomSnapshot struct {
	Platform       string
	RoomID         string
	Title          string
	CoverURL       string
	IsLive         bool
	UserID         string
	UserName       string
	UserAvatar     string
	PlatformLiveID string
	LiveID         int64
}

// ChatEvent is the uniform chat message model produced by C5/C4, per spec
// §3. Color is stored as 0xAARRGGBB.
type ChatEvent struct {
	Platform    string
	RoomID      string
	UserID      string
	UserName    string
	Message     string
	ColorARGB   uint32
	TimestampMs int64
}

// Event is the tagged union broadcast on the bus. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Event struct {
	Kind Kind

	// TraceID ties every event a single room session produces back to
	// that session for log correlation; it carries no behavior of its
	// own and is consumed only by logging.
	TraceID string

	Room *RoomSnapshot
	Chat *ChatEvent

	// RecordTick fields.
	LiveID      int64
	DurationSec float64
	Bytes       int64

	// Progress fields.
	ProgressID      string
	ProgressContent string
	ProgressSuccess bool
	ProgressMessage string
}

// Clone returns a deep-enough copy safe to hand to a second subscriber
// concurrently with the first reading it; spec §3 requires events be
// Clone.
func (e Event) Clone() Event {
	out := e
	if e.Room != nil {
		r := *e.Room
		out.Room = &r
	}
	if e.Chat != nil {
		c := *e.Chat
		out.Chat = &c
	}
	return out
}
