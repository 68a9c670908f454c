package telephony

import (
	"encoding/json"
	"strings"
	"time"
)

// OpenPhone webhook event types this service acts on.
const (
	EventCallCompleted          = "call.completed"
	EventCallRecordingCompleted = "call.recording.completed"
)

// Reasons attached to Ignored events.
const (
	ReasonMalformed   = "malformed"
	ReasonUnsupported = "unsupported event type"
)

// Kinds returned by Kind besides the two handled event types.
const (
	KindMalformed = "malformed"
	KindOther     = "other"
)

// Kind maps an event onto a small fixed set of names, for use where the
// provider-supplied type must not appear verbatim (metric labels).
func Kind(ev Event) string {
	switch e := ev.(type) {
	case CallProgress:
		return EventCallCompleted
	case RecordingReady:
		return EventCallRecordingCompleted
	case Ignored:
		if e.Reason == ReasonMalformed {
			return KindMalformed
		}
	}
	return KindOther
}

// Payload is the OpenPhone webhook envelope.
type Payload struct {
	Type string `json:"type"`
	Data struct {
		Object *CallObject `json:"object"`
	} `json:"data"`
}

// CallObject is the call embedded in a webhook payload.
type CallObject struct {
	ID         string     `json:"id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	Status     string     `json:"status,omitempty"`
	Direction  string     `json:"direction,omitempty"`
	Media      []Media    `json:"media,omitempty"`
}

type Media struct {
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
}

// CallInfo is the provider-agnostic view of a call carried by every routed event.
type CallInfo struct {
	ID        string
	From      string
	To        string
	CreatedAt time.Time // zero when the provider omitted it
	Answered  bool
	Direction string
}

// Event is the closed set of webhook event kinds: CallProgress,
// RecordingReady and Ignored.
type Event interface {
	EventType() string
	sealed()
}

// CallProgress signals a finished call without a recording.
type CallProgress struct {
	Type string
	Call CallInfo
}

// RecordingReady signals that the recording and final duration are available.
type RecordingReady struct {
	Type            string
	Call            CallInfo
	DurationSeconds float64
	RecordingURL    string // empty when no media was attached
}

// Ignored is any event that must be acknowledged without side effects.
type Ignored struct {
	Type   string
	Reason string
}

func (e CallProgress) EventType() string   { return e.Type }
func (e RecordingReady) EventType() string { return e.Type }
func (e Ignored) EventType() string        { return e.Type }

func (CallProgress) sealed()   {}
func (RecordingReady) sealed() {}
func (Ignored) sealed()        {}

// Decode parses a raw webhook body. Bodies that are not valid JSON come back
// as Ignored with ReasonMalformed; Decode never fails.
func Decode(body []byte) Event {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Ignored{Reason: ReasonMalformed}
	}
	return Classify(p)
}

// Classify maps a decoded payload onto an Event.
func Classify(p Payload) Event {
	obj := p.Data.Object
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		return Ignored{Type: p.Type, Reason: ReasonMalformed}
	}

	switch p.Type {
	case EventCallCompleted:
		return CallProgress{Type: p.Type, Call: obj.info()}
	case EventCallRecordingCompleted:
		ev := RecordingReady{Type: p.Type, Call: obj.info()}
		if len(obj.Media) > 0 {
			ev.DurationSeconds = obj.Media[0].Duration
			ev.RecordingURL = strings.TrimSpace(obj.Media[0].URL)
		}
		return ev
	default:
		return Ignored{Type: p.Type, Reason: ReasonUnsupported}
	}
}

func (o *CallObject) info() CallInfo {
	ci := CallInfo{
		ID:        strings.TrimSpace(o.ID),
		From:      strings.TrimSpace(o.From),
		To:        strings.TrimSpace(o.To),
		Answered:  o.AnsweredAt != nil && !o.AnsweredAt.IsZero(),
		Direction: o.Direction,
	}
	if o.CreatedAt != nil {
		ci.CreatedAt = *o.CreatedAt
	}
	return ci
}
