package domain

import "time"

// Message roles. "reviewer" marks messages injected by a human operator.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleReviewer  = "reviewer"
)

// Message is a single entry in the conversation transcript.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known field keys written by the built-in stages. Stages may write
// arbitrary keys; these are the ones the default router predicates inspect.
const (
	FieldVerdict = "verdict" // supervisor classification: VerdictSafe / VerdictUnsafe
	FieldIntent  = "intent"  // IntentSales / IntentReturns
	FieldProfile = "profile" // user profile loaded by the context stage
	FieldCart    = "cart"    // shopping cart maintained by the sales stage
	FieldError   = "error"   // last stage failure, set by the executor
)

// Supervisor verdicts.
const (
	VerdictSafe   = "SAFE"
	VerdictUnsafe = "UNSAFE"
)

// Detected intents.
const (
	IntentSales   = "sales"
	IntentReturns = "returns"
)

// State is the canonical per-conversation record.
//
// Messages is append-only from the point of view of every stage except the
// compressor, which may fold the oldest entries into Summary. The logical
// history exposed downstream is always Summary + Messages.
type State struct {
	// ID is the stable, opaque conversation identifier.
	ID string `json:"id"`

	// Messages is the verbatim tail of the transcript.
	Messages []Message `json:"messages"`

	// Fields holds named values written by stages (verdict, intent, cart...).
	Fields map[string]any `json:"fields"`

	// Turn counts completed user turns. Incremented exactly once per turn,
	// at entry, never per stage.
	Turn int `json:"turn"`

	// Summary is the compressed prefix of the transcript. Empty until the
	// compressor first runs.
	Summary string `json:"summary,omitempty"`

	// Summarized counts how many raw messages have been folded into Summary.
	Summarized int `json:"summarized,omitempty"`

	// Cursor names the stage the conversation is paused at. Empty unless
	// the conversation is mid-pause.
	Cursor string `json:"cursor,omitempty"`

	// Escalation is the pending or last-resolved human review request.
	Escalation *Escalation `json:"escalation,omitempty"`

	// Version is the optimistic-concurrency counter managed by the state
	// store. Callers never set it directly.
	Version uint64 `json:"version"`
}

// NewState creates a fresh conversation record.
func NewState(id string) *State {
	return &State{
		ID:     id,
		Fields: make(map[string]any),
	}
}

// Clone returns a copy safe to hand to a stage. The Messages slice and the
// Fields map are copied one level deep; stages must treat nested values as
// immutable and write replacements through their delta.
func (s *State) Clone() *State {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	cp.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	if s.Escalation != nil {
		esc := *s.Escalation
		cp.Escalation = &esc
	}
	return &cp
}

// Paused reports whether the conversation is suspended waiting for a human
// decision.
func (s *State) Paused() bool {
	return s.Cursor != ""
}

// StringField returns a field as a string, or "" if absent or not a string.
func (s *State) StringField(key string) string {
	v, ok := s.Fields[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Append adds a message to the transcript tail.
func (s *State) Append(role, text string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Text: text, Timestamp: at})
}
