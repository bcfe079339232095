package domain

// RouteKind tags the routing directive a stage returns.
type RouteKind int

const (
	// RouteContinue moves to a single named stage.
	RouteContinue RouteKind = iota
	// RouteAnyOf offers a candidate set; the router picks the first
	// candidate whose declared edge condition holds.
	RouteAnyOf
	// RoutePause suspends the turn for external (human) input.
	RoutePause
	// RouteTerminate ends the turn.
	RouteTerminate
)

// Route is the routing directive attached to a StageResult.
type Route struct {
	Kind       RouteKind `json:"kind"`
	Target     string    `json:"target,omitempty"`
	Candidates []string  `json:"candidates,omitempty"`
}

// ContinueTo routes unconditionally to the named stage.
func ContinueTo(stage string) Route {
	return Route{Kind: RouteContinue, Target: stage}
}

// AnyOf defers the choice among candidates to the router's edge conditions.
func AnyOf(stages ...string) Route {
	return Route{Kind: RouteAnyOf, Candidates: stages}
}

// Pause suspends the turn at the current stage.
func Pause() Route {
	return Route{Kind: RoutePause}
}

// Terminate ends the turn.
func Terminate() Route {
	return Route{Kind: RouteTerminate}
}

// HistoryRewrite replaces the transcript tail wholesale. Only the compressor
// stage emits one; it is the single sanctioned way to shrink the raw log.
type HistoryRewrite struct {
	Summary    string    `json:"summary"`
	Summarized int       `json:"summarized"`
	Tail       []Message `json:"tail"`
}

// StageResult is what a stage invocation produces: a set of named-field
// writes (never a full-state overwrite), messages to append, and where to go
// next.
type StageResult struct {
	// Delta holds named-field writes merged into State.Fields.
	Delta map[string]any

	// Messages are appended to the transcript in order.
	Messages []Message

	// Rewrite, if non-nil, replaces summary and tail (compressor only).
	Rewrite *HistoryRewrite

	// Escalation, if non-nil, is recorded on the state. Stages set it when
	// requesting human review; the human gate clears it on resolution.
	Escalation *Escalation

	// ClearEscalation drops the pending escalation (human gate, after the
	// decision has been applied).
	ClearEscalation bool

	// Route tells the router where to go next.
	Route Route
}

// TurnInput is the external input a stage sees for the current turn.
type TurnInput struct {
	// Text is the inbound user message. Empty on resume.
	Text string

	// Decision is the human verdict delivered on resume, nil otherwise.
	Decision *HumanDecision
}
