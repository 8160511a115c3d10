package agents

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

// RateBand prices applicants whose credit score is at least MinScore.
type RateBand struct {
	MinScore    int     `yaml:"min_score"`
	Rate        float64 `yaml:"rate"`
	Conditional bool    `yaml:"conditional"`
}

// Policy holds the underwriting thresholds. They are configuration, loaded
// from YAML when LOAN_POLICY_FILE is set.
type Policy struct {
	Bands              []RateBand `yaml:"bands"`
	LimitMultiplier    float64    `yaml:"limit_multiplier"`
	MinScoreAboveLimit int        `yaml:"min_score_above_limit"`
	MaxEMIToIncome     float64    `yaml:"max_emi_to_income"`
	Conditions         []string   `yaml:"conditions"`
}

func DefaultPolicy() Policy {
	return Policy{
		Bands: []RateBand{
			{MinScore: 750, Rate: 8.5},
			{MinScore: 700, Rate: 10.0},
			{MinScore: 650, Rate: 12.5},
			{MinScore: 600, Rate: 15.0, Conditional: true},
		},
		LimitMultiplier:    2,
		MinScoreAboveLimit: 700,
		MaxEMIToIncome:     0.5,
		Conditions: []string{
			"Additional documentation required",
			"Collateral may be required",
		},
	}
}

// LoadPolicy reads a YAML policy file over the defaults. An empty path
// returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("agents: read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("agents: parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) Validate() error {
	if len(p.Bands) == 0 {
		return errors.New("agents: policy needs at least one rate band")
	}
	for _, b := range p.Bands {
		if b.Rate <= 0 {
			return fmt.Errorf("agents: rate band %d has no rate", b.MinScore)
		}
	}
	if p.LimitMultiplier < 1 {
		return errors.New("agents: limit_multiplier must be at least 1")
	}
	if p.MaxEMIToIncome <= 0 || p.MaxEMIToIncome > 1 {
		return errors.New("agents: max_emi_to_income must be in (0, 1]")
	}
	sort.Slice(p.Bands, func(i, j int) bool { return p.Bands[i].MinScore > p.Bands[j].MinScore })
	return nil
}

func (p Policy) band(score int) (RateBand, bool) {
	for _, b := range p.Bands {
		if score >= b.MinScore {
			return b, true
		}
	}
	return RateBand{}, false
}

// Application is the input to an underwriting decision.
type Application struct {
	Amount             float64
	TenureMonths       int
	CreditScore        int
	PreApprovedLimit   float64
	MonthlyIncome      float64
	MonthlyObligations float64
}

// Evaluate applies the policy. It never returns pending.
func (p Policy) Evaluate(app Application) loan.UnderwritingResult {
	res := loan.UnderwritingResult{
		CreditScore:      app.CreditScore,
		PreApprovedLimit: app.PreApprovedLimit,
	}
	band, ok := p.band(app.CreditScore)
	if !ok {
		res.Decision = loan.DecisionRejected
		res.Reason = "Credit score below minimum threshold"
		return res
	}
	res.InterestRate = band.Rate
	res.CalculatedEMI = EMI(app.Amount, band.Rate, app.TenureMonths)

	approve := func(reason string) loan.UnderwritingResult {
		res.Decision = loan.DecisionApproved
		res.Reason = reason
		if band.Conditional {
			res.Decision = loan.DecisionConditional
			res.Conditions = append([]string(nil), p.Conditions...)
		}
		return res
	}

	if app.Amount <= app.PreApprovedLimit {
		return approve("Within pre-approved limit")
	}
	if app.Amount > app.PreApprovedLimit*p.LimitMultiplier || app.CreditScore < p.MinScoreAboveLimit {
		res.Decision = loan.DecisionRejected
		res.Reason = "Loan amount exceeds pre-approved limit"
		return res
	}
	if app.MonthlyIncome <= 0 {
		res.Decision = loan.DecisionNeedMoreInfo
		res.Reason = "Monthly income required to assess an amount above the pre-approved limit"
		return res
	}
	ratio := (app.MonthlyObligations + res.CalculatedEMI) / app.MonthlyIncome
	res.EMIToIncome = round2(ratio)
	if ratio > p.MaxEMIToIncome {
		res.Decision = loan.DecisionRejected
		res.Reason = fmt.Sprintf("EMI to income ratio %.2f exceeds %.2f", ratio, p.MaxEMIToIncome)
		return res
	}
	return approve("EMI to income ratio within policy")
}
