package session

import (
	"errors"
	"fmt"
)

// State is the conversation state of a session.
type State int

const (
	Idle State = iota
	Started
	AwaitingSectionTitle
	AwaitingBody
	AwaitingLocateText
	AwaitingDisambiguation
	AwaitingReplacement
	AwaitingSignDecision
	AwaitingSignName
	AwaitingSignLink
	AwaitingConfirm
	Submitted
	Cancelled
)

var stateNames = [...]string{
	Idle:                   "idle",
	Started:                "started",
	AwaitingSectionTitle:   "awaiting_section_title",
	AwaitingBody:           "awaiting_body",
	AwaitingLocateText:     "awaiting_locate_text",
	AwaitingDisambiguation: "awaiting_disambiguation",
	AwaitingReplacement:    "awaiting_replacement",
	AwaitingSignDecision:   "awaiting_sign_decision",
	AwaitingSignName:       "awaiting_sign_name",
	AwaitingSignLink:       "awaiting_sign_link",
	AwaitingConfirm:        "awaiting_confirm",
	Submitted:              "submitted",
	Cancelled:              "cancelled",
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range stateNames {
		out[i] = State(i)
	}
	return out
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Live reports whether a session in state s is held in the store.
func (s State) Live() bool {
	return s != Idle && s != Submitted && s != Cancelled
}

// Event drives a state transition.
type Event int

const (
	EvStart     Event = iota // document fetched for a start command
	EvAdd                    // add without a section title
	EvAddTitled              // add with a section title
	EvModify
	EvEdit  // edit <title> <n>
	EvPaste // whole document pasted
	EvConfirm
	EvText // free text accepted by the pending prompt
	EvNotFound
	EvUnique
	EvAmbiguous
	EvChoose
	EvYes
	EvNo
	EvSubmitted
	EvFailed
	EvCancel
)

var eventNames = [...]string{
	EvStart:     "start",
	EvAdd:       "add",
	EvAddTitled: "add_titled",
	EvModify:    "modify",
	EvEdit:      "edit",
	EvPaste:     "paste",
	EvConfirm:   "confirm",
	EvText:      "text",
	EvNotFound:  "not_found",
	EvUnique:    "unique",
	EvAmbiguous: "ambiguous",
	EvChoose:    "choose",
	EvYes:       "yes",
	EvNo:        "no",
	EvSubmitted: "submitted",
	EvFailed:    "failed",
	EvCancel:    "cancel",
}

// Events lists every event in declaration order.
func Events() []Event {
	out := make([]Event, len(eventNames))
	for i := range eventNames {
		out[i] = Event(i)
	}
	return out
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// ErrInvalidTransition is returned by Next for an event the state does not
// accept.
var ErrInvalidTransition = errors.New("invalid session transition")

type edge struct {
	from State
	ev   Event
}

// transitions is the complete table. Start and cancel are added for every
// live state below.
var transitions = map[edge]State{
	{Idle, EvStart}: Started,

	{Started, EvAdd}:       AwaitingSectionTitle,
	{Started, EvAddTitled}: AwaitingBody,
	{Started, EvModify}:    AwaitingLocateText,
	{Started, EvEdit}:      AwaitingReplacement,
	{Started, EvPaste}:     AwaitingSignDecision,
	{Started, EvConfirm}:   AwaitingSignDecision,

	{AwaitingSectionTitle, EvText}: AwaitingBody,
	{AwaitingBody, EvText}:         Started,

	{AwaitingLocateText, EvNotFound}:  AwaitingLocateText,
	{AwaitingLocateText, EvUnique}:    AwaitingReplacement,
	{AwaitingLocateText, EvAmbiguous}: AwaitingDisambiguation,
	{AwaitingDisambiguation, EvChoose}: AwaitingReplacement,
	{AwaitingReplacement, EvText}:      Started,

	{AwaitingSignDecision, EvYes}: AwaitingSignName,
	{AwaitingSignDecision, EvNo}:  AwaitingConfirm,
	{AwaitingSignName, EvText}:    AwaitingSignLink,
	{AwaitingSignLink, EvText}:    AwaitingConfirm,

	{AwaitingConfirm, EvSubmitted}: Submitted,
	{AwaitingConfirm, EvFailed}:    Started,
}

func init() {
	for _, s := range States() {
		if !s.Live() {
			continue
		}
		// a second start replaces the live session
		transitions[edge{s, EvStart}] = Started
		transitions[edge{s, EvCancel}] = Cancelled
	}
}

// Next returns the state reached from s on ev.
func Next(s State, ev Event) (State, error) {
	to, ok := transitions[edge{s, ev}]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
	}
	return to, nil
}
