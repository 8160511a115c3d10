package loan

import (
	"encoding/json"
	"strings"
)

// Stage is one phase of the conversation.
type Stage string

const (
	StageGreeting         Stage = "greeting"
	StageIntentCapture    Stage = "intent_capture"
	StageSalesExploration Stage = "sales_exploration"
	StageVerification     Stage = "verification"
	StageUnderwriting     Stage = "underwriting"
	StageDocumentation    Stage = "documentation"
	StageClosure          Stage = "closure"
)

var stageOrder = []Stage{
	StageGreeting,
	StageIntentCapture,
	StageSalesExploration,
	StageVerification,
	StageUnderwriting,
	StageDocumentation,
	StageClosure,
}

// Stages returns the ordered stage sequence.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of s in the stage sequence, or -1 when s is
// not a known stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// ParseStage normalizes a free-form stage name.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Decision is the underwriting outcome mirrored at the top level of State.
type Decision string

const (
	DecisionPending      Decision = "pending"
	DecisionApproved     Decision = "approved"
	DecisionConditional  Decision = "conditional"
	DecisionRejected     Decision = "rejected"
	DecisionNeedMoreInfo Decision = "need_more_info"
)

// Final reports whether the decision can no longer change.
func (d Decision) Final() bool {
	switch d {
	case DecisionApproved, DecisionConditional, DecisionRejected:
		return true
	}
	return false
}

// Approved is true for both unconditional and conditional approval.
func (d Decision) Approved() bool {
	return d == DecisionApproved || d == DecisionConditional
}

// UnmarshalJSON accepts the legacy "conditionally_approved" spelling and
// treats empty values as pending.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pending":
		*d = DecisionPending
	case "conditionally_approved", "conditional":
		*d = DecisionConditional
	default:
		*d = Decision(strings.ToLower(strings.TrimSpace(raw)))
	}
	return nil
}

// Agent names the business-rule function a stage step hands off to.
type Agent string

const (
	AgentNone             Agent = "none"
	AgentGenerateResponse Agent = "generate_response"
	AgentSales            Agent = "sales"
	AgentVerification     Agent = "verification"
	AgentUnderwriting     Agent = "underwriting"
	AgentSanctionLetter   Agent = "sanction_letter"
	AgentEnd              Agent = "end"
)
