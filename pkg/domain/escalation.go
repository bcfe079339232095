package domain

import "time"

// Escalation lifecycle states.
const (
	EscalationPending   = "pending"
	EscalationApproved  = "approved"
	EscalationRejected  = "rejected"
	EscalationRewritten = "rewritten"
	EscalationExpired   = "expired"
)

// Human decision actions, delivered on resume.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionRewrite = "rewrite"
)

// Escalation records a request for human review. It is created by the stage
// that triggers it and consumed by the human gate on resume.
type Escalation struct {
	ID        string         `json:"id"`
	Turn      int            `json:"turn"`   // turn index that triggered the escalation
	Reason    string         `json:"reason"` // e.g. "unsafe:jailbreak", "stage_failure"
	Message   string         `json:"message,omitempty"`
	Draft     string         `json:"draft,omitempty"` // reply drafted by the escalating stage, if any
	Status    string         `json:"status"`
	Decision  *HumanDecision `json:"decision,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HumanDecision is the operator's verdict on a pending escalation.
type HumanDecision struct {
	// Action is one of DecisionApprove, DecisionReject, DecisionRewrite.
	Action string `json:"action"`

	// Text is the replacement reply when Action is DecisionRewrite.
	Text string `json:"text,omitempty"`
}

// Resolve applies a decision, mapping the action onto the terminal status.
func (e *Escalation) Resolve(d HumanDecision) {
	e.Decision = &d
	switch d.Action {
	case DecisionReject:
		e.Status = EscalationRejected
	case DecisionRewrite:
		e.Status = EscalationRewritten
	default:
		e.Status = EscalationApproved
	}
}
