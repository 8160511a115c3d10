package loan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{"5 lakh", 500000},
		{"Rs. 5,00,000", 500000},
		{"2.5 lakhs", 250000},
		{"1 crore", 10000000},
		{"750k", 750000},
		{float64(300000), 300000},
		{"500000", 500000},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		assert.True(t, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 0.001, "%v", tt.in)
	}
	_, ok := ParseAmount("a lot")
	assert.False(t, ok)
}

func TestParseTenure(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{"36 months", 36},
		{"3 years", 36},
		{"2.5 yrs", 30},
		{float64(24), 24},
		{"48", 48},
	}
	for _, tt := range tests {
		got, ok := ParseTenure(tt.in)
		assert.True(t, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestApplyEntitiesFillOnce(t *testing.T) {
	s := NewState("entities")
	applied := ApplyEntities(s, map[string]any{
		"customer_id":   " tc001 ",
		"full_name":     "Rajesh Kumar",
		"mobile_number": "+919876543210",
		"loan_amount":   "5 lakh",
		"loan_tenure":   "3 years",
		"pan_number":    nil,
	})
	assert.ElementsMatch(t, []string{"customer_id", "name", "phone", "loan_amount", "loan_tenure"}, applied)
	assert.Equal(t, "TC001", s.CustomerDetails.String(KeyCustomerID))
	assert.Equal(t, 500000.0, s.LoanDetails.Amount)
	assert.Equal(t, 36, s.LoanDetails.Tenure)

	// Empty values never clear a populated key; conflicts keep the first value.
	ApplyEntities(s, map[string]any{"name": "", "full_name": "Someone Else", "phone": "null"})
	assert.Equal(t, "Rajesh Kumar", s.CustomerDetails.String(KeyName))
	assert.Equal(t, "+919876543210", s.CustomerDetails.String(KeyPhone))
}

func TestApplyEntitiesLoanRevisionWindow(t *testing.T) {
	s := NewState("revise")
	s.Stage = StageSalesExploration
	ApplyEntities(s, map[string]any{"amount": 400000.0})
	ApplyEntities(s, map[string]any{"amount": 600000.0})
	assert.Equal(t, 600000.0, s.LoanDetails.Amount, "amount is revisable while exploring offers")

	s.Stage = StageUnderwriting
	ApplyEntities(s, map[string]any{"amount": 900000.0, "tenure": 0})
	assert.Equal(t, 600000.0, s.LoanDetails.Amount, "amount is locked once underwriting starts")
}

func TestDetailsAccessors(t *testing.T) {
	d := Details{"monthly_income": "85,000", "flag": false, "score": 780.0}
	v, ok := d.Float("monthly_income")
	assert.True(t, ok)
	assert.Equal(t, 85000.0, v)
	assert.False(t, d.Has("flag"))
	assert.Equal(t, "780", d.String("score"))
	assert.True(t, d.Fill("flag", true))
	assert.False(t, d.Fill("flag", true))
}
