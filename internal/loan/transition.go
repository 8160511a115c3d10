package loan

import (
	"errors"
	"fmt"
)

// DefaultLoopGuardLimit bounds stage machine passes per processed message.
const DefaultLoopGuardLimit = 25

// ErrLoopGuard is returned once a message has driven more stage machine
// passes than the guard allows.
var ErrLoopGuard = errors.New("loan: stage machine loop guard tripped")

// Step is the outcome of one stage machine pass.
type Step struct {
	From     Stage
	Stage    Stage
	Agent    Agent
	Terminal bool
	// Warning is set when the current stage was not recognised and the
	// machine fell back to a plain reply.
	Warning string
}

// Advanced reports whether the step moves to a different stage.
func (s Step) Advanced() bool {
	return s.Stage != s.From
}

// Next is the transition table. It is a pure function of the stage and the
// fields each condition reads.
func Next(s *State) Step {
	from := s.Stage
	stay := func(agent Agent) Step {
		return Step{From: from, Stage: from, Agent: agent}
	}
	move := func(to Stage, agent Agent) Step {
		return Step{From: from, Stage: to, Agent: agent}
	}

	switch from {
	case StageGreeting:
		if CustomerIdentified(s) {
			return move(StageIntentCapture, AgentNone)
		}
		return stay(AgentNone)
	case StageIntentCapture:
		return move(StageSalesExploration, AgentSales)
	case StageSalesExploration:
		if s.LoanDetails.Amount > 0 && s.LoanDetails.Tenure > 0 {
			return move(StageVerification, AgentVerification)
		}
		return stay(AgentSales)
	case StageVerification:
		if s.VerificationStatus.Verified {
			return move(StageUnderwriting, AgentUnderwriting)
		}
		return stay(AgentVerification)
	case StageUnderwriting:
		switch {
		case s.Decision.Approved():
			return move(StageDocumentation, AgentSanctionLetter)
		case s.Decision == DecisionRejected:
			return move(StageClosure, AgentNone)
		default:
			return stay(AgentUnderwriting)
		}
	case StageDocumentation:
		if s.SanctionLetterID != "" {
			return move(StageClosure, AgentNone)
		}
		return stay(AgentSanctionLetter)
	case StageClosure:
		step := stay(AgentEnd)
		step.Terminal = true
		return step
	default:
		step := stay(AgentGenerateResponse)
		step.Warning = fmt.Sprintf("unknown stage %q", string(from))
		return step
	}
}

// CustomerIdentified reports whether the greeting stage has what it needs.
func CustomerIdentified(s *State) bool {
	return s.CustomerDetails.Has(KeyCustomerID)
}

// LoopGuard counts stage machine passes within one message.
type LoopGuard struct {
	limit int
	count int
}

// NewLoopGuard returns a guard allowing limit passes; non-positive limits
// use DefaultLoopGuardLimit.
func NewLoopGuard(limit int) *LoopGuard {
	if limit <= 0 {
		limit = DefaultLoopGuardLimit
	}
	return &LoopGuard{limit: limit}
}

// Tick records one pass and fails once the limit is exceeded.
func (g *LoopGuard) Tick() error {
	g.count++
	if g.count > g.limit {
		return fmt.Errorf("%w after %d passes", ErrLoopGuard, g.limit)
	}
	return nil
}

// Count returns the passes recorded so far.
func (g *LoopGuard) Count() int {
	return g.count
}

// ResetToGreeting is the loop guard's circuit breaker: the conversation is
// moved back to the first stage and a diagnostic is recorded.
func ResetToGreeting(s *State, cause error) {
	s.Stage = StageGreeting
	s.NextAgent = AgentNone
	s.AddError("loop_guard", cause.Error(), AgentNone)
}
