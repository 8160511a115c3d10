package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

func TestParseExtraction(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		out, err := ParseExtraction("```json\n{\"intent\":\"apply_loan\",\"entities\":{\"loan_amount\":500000},\"next_stage\":\"sales_exploration\",\"confidence\":0.9}\n```")
		require.NoError(t, err)
		assert.Equal(t, "apply_loan", out.Intent)
		assert.Equal(t, 500000.0, out.Entities["loan_amount"])
		assert.Equal(t, "sales_exploration", out.NextStage)
		assert.InDelta(t, 0.9, out.Confidence, 1e-9)
	})

	t.Run("repaired", func(t *testing.T) {
		out, err := ParseExtraction(`Sure! {'intent': 'provide_information', 'entities': {'pan': 'BPSPS7812K',}, 'next_stage': 'verification',}`)
		require.NoError(t, err)
		assert.Equal(t, "provide_information", out.Intent)
		assert.Equal(t, "BPSPS7812K", out.Entities["pan"])
		assert.Equal(t, "verification", out.NextStage)
	})

	t.Run("unknown stage dropped", func(t *testing.T) {
		out, err := ParseExtraction(`{"intent":"greeting","next_stage":"celebration"}`)
		require.NoError(t, err)
		assert.Empty(t, out.NextStage)
		assert.NotNil(t, out.Entities)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseExtraction("I could not understand that.")
		assert.ErrorIs(t, err, errNoJSON)
	})
}

func TestLLMExtractorUsesModelOutput(t *testing.T) {
	llm := &scriptedLLM{text: `{"intent":"provide_information","entities":{"customer_id":"TC002"},"confidence":0.8}`}
	e := NewLLMExtractor(llm, "gemini-test", nil)

	out, err := e.Extract(context.Background(), loan.StageGreeting, []loan.Message{{Role: loan.RoleAssistant, Content: "Hello!"}}, "I am TC002")
	require.NoError(t, err)
	assert.Equal(t, "TC002", out.Entities["customer_id"])

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.True(t, req.JSON)
	assert.Equal(t, "gemini-test", req.Model)
	assert.Contains(t, req.System[0], `"greeting" stage`)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ChatRoleUser, req.Messages[1].Role)
}

func TestLLMExtractorFallsBackToRules(t *testing.T) {
	failing := StaticLLMClient{Err: errors.New("model unavailable")}

	_, err := NewLLMExtractor(failing, "", nil).Extract(context.Background(), loan.StageGreeting, nil, "my id is TC004")
	require.Error(t, err)

	out, err := NewLLMExtractor(failing, "", nil).WithFallback(RuleExtractor{}).
		Extract(context.Background(), loan.StageGreeting, nil, "my id is TC004")
	require.NoError(t, err)
	assert.Equal(t, "TC004", out.Entities[loan.KeyCustomerID])
}

func TestRuleExtractor(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		want   map[string]any
		intent string
	}{
		{
			name:   "customer id",
			text:   "Hi, my customer id is tc002",
			want:   map[string]any{loan.KeyCustomerID: "TC002"},
			intent: "provide_information",
		},
		{
			name: "loan request",
			text: "I need a loan for home renovation of 5 lakh over 3 years",
			want: map[string]any{
				"loan_amount":  "5 lakh",
				"loan_tenure":  "3 years",
				"loan_purpose": "home renovation",
			},
			intent: "apply_loan",
		},
		{
			name: "bank details",
			text: "My account number is TATACAP12346, IFSC HDFC0001234, PAN BPSPS7812K, bank is HDFC Bank",
			want: map[string]any{
				loan.KeyAccountNumber: "TATACAP12346",
				loan.KeyIFSC:          "HDFC0001234",
				loan.KeyPAN:           "BPSPS7812K",
				loan.KeyBankName:      "HDFC Bank",
			},
			intent: "provide_information",
		},
		{
			name: "contact",
			text: "My name is priya sharma, reach me at +91 98765 43211 or priya@example.com",
			want: map[string]any{
				loan.KeyName:  "Priya Sharma",
				loan.KeyPhone: "+919876543211",
				loan.KeyEmail: "priya@example.com",
			},
			intent: "provide_information",
		},
		{
			name:   "income",
			text:   "My monthly salary is 85000",
			want:   map[string]any{loan.KeyMonthlyIncome: "85000"},
			intent: "provide_information",
		},
		{
			name:   "greeting",
			text:   "Hello",
			want:   map[string]any{},
			intent: "greeting",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := RuleExtractor{}.Extract(context.Background(), loan.StageGreeting, nil, tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Entities)
			assert.Equal(t, tc.intent, out.Intent)
		})
	}
}

func TestRuleExtractorEntitiesApply(t *testing.T) {
	s := loan.NewState("rules")
	s.Stage = loan.StageSalesExploration
	out, err := RuleExtractor{}.Extract(context.Background(), s.Stage, nil, "I need a loan for a wedding of Rs. 2,50,000 for 18 months")
	require.NoError(t, err)

	loan.ApplyEntities(s, out.Entities)
	assert.Equal(t, 250000.0, s.LoanDetails.Amount)
	assert.Equal(t, 18, s.LoanDetails.Tenure)
	assert.True(t, strings.HasPrefix(s.LoanDetails.Purpose, "wedding"))
}
