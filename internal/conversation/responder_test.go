package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

func TestCannedResponderCoversEveryStage(t *testing.T) {
	for _, stage := range loan.Stages() {
		s := loan.NewState("canned")
		s.Stage = stage
		reply, err := CannedResponder{}.Reply(context.Background(), s, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, reply, stage)
	}

	s := loan.NewState("canned")
	s.Stage = loan.StageClosure
	s.Decision = loan.DecisionRejected
	reply, _ := CannedResponder{}.Reply(context.Background(), s, []string{"the application was declined"})
	assert.Contains(t, reply, "unable to approve")
	assert.Contains(t, reply, "the application was declined")
}

func TestLLMResponderPrompt(t *testing.T) {
	llm := &scriptedLLM{text: "  Here is your offer.  "}
	s := loan.NewState("llm")
	s.Stage = loan.StageSalesExploration
	s.LoanDetails.Amount = 500000
	s.LoanDetails.Tenure = 36
	s.AddMessage(loan.RoleAssistant, "Hello!")
	s.AddMessage(loan.RoleSystem, "Document uploaded")
	s.AddMessage(loan.RoleUser, "5 lakh for 3 years")

	reply, err := NewLLMResponder(llm, "m").Reply(context.Background(), s, []string{"offer ready"})
	require.NoError(t, err)
	assert.Equal(t, "Here is your offer.", reply)

	req := llm.requests[0]
	assert.Contains(t, req.System[0], "Current stage: sales_exploration")
	assert.Contains(t, req.System[0], "- amount: Rs. 500000")
	assert.Contains(t, req.System[0], "- offer ready")
	require.Len(t, req.Messages, 1, "leading assistant and system turns are dropped")
	assert.Equal(t, ChatRoleUser, req.Messages[0].Role)

	_, err = NewLLMResponder(&scriptedLLM{text: " "}, "").Reply(context.Background(), s, nil)
	assert.Error(t, err)
}
