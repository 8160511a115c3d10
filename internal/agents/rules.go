package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Outcome carries what a rule wants the reply to mention.
type Outcome struct {
	Notes []string
}

func (o *Outcome) note(format string, args ...any) {
	o.Notes = append(o.Notes, fmt.Sprintf(format, args...))
}

// Sales captures the loan request and prices offers once amount and tenure
// are known.
type Sales struct {
	dir *Directory
}

var loanTypeKeywords = []struct {
	loanType string
	words    []string
}{
	{"home", []string{"home loan", "housing", "house purchase"}},
	{"business", []string{"business"}},
	{"education", []string{"education", "student", "college", "tuition"}},
	{"vehicle", []string{"vehicle", "car", "bike", "auto"}},
	{"personal", []string{"personal"}},
}

func inferLoanType(texts ...string) string {
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, kw := range loanTypeKeywords {
		for _, w := range kw.words {
			if strings.Contains(joined, w) {
				return kw.loanType
			}
		}
	}
	return "personal"
}

func (a *Sales) Run(_ context.Context, s *loan.State) (Outcome, error) {
	var out Outcome
	ld := &s.LoanDetails
	if ld.LoanType == "" {
		last := ""
		if m, ok := lastUserMessage(s); ok {
			last = m.Content
		}
		ld.LoanType = inferLoanType(ld.Purpose, last)
	}

	if ld.Amount <= 0 || ld.Tenure <= 0 {
		switch {
		case ld.Amount <= 0 && ld.Tenure <= 0:
			out.note("ask for the loan amount and the tenure")
		case ld.Amount <= 0:
			out.note("ask for the loan amount")
		default:
			out.note("ask for the tenure")
		}
		return out, nil
	}

	if selected, ok := selectedOffer(*ld); ok && selected.Amount == ld.Amount && selected.Tenure == ld.Tenure {
		return out, nil
	}

	offers := a.dir.Offers(s.CustomerDetails.String(loan.KeyCustomerID), ld.Amount, ld.Tenure)
	if len(offers) == 0 {
		if std, ok := a.dir.StandardOffer(ld.Amount, ld.Tenure); ok {
			offers = []loan.Offer{std}
		}
	}
	if len(offers) == 0 {
		rate := 10.5
		offers = []loan.Offer{{
			ID:            "OFF-STANDARD",
			ProductName:   "Personal Loan",
			Amount:        ld.Amount,
			Tenure:        ld.Tenure,
			InterestRate:  rate,
			EMI:           EMI(ld.Amount, rate, ld.Tenure),
			ProcessingFee: round2(ld.Amount * 0.01),
		}}
	}

	best := offers[0]
	ld.Offers = offers
	ld.SelectedOffer = best.ID
	ld.InterestRate = best.InterestRate
	ld.ProcessingFee = best.ProcessingFee
	ld.EMI = best.EMI
	out.note("offer %s at %.2f%% for %d months, EMI Rs. %.2f", best.ProductName, best.InterestRate, best.Tenure, best.EMI)
	return out, nil
}

func selectedOffer(ld loan.LoanDetails) (loan.Offer, bool) {
	for _, o := range ld.Offers {
		if o.ID == ld.SelectedOffer {
			return o, true
		}
	}
	return loan.Offer{}, false
}

func lastUserMessage(s *loan.State) (loan.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == loan.RoleUser {
			return s.Messages[i], true
		}
	}
	return loan.Message{}, false
}

// Verification runs KYC against the CRM record and checks the disbursal
// account. Income proof is left to the document verifier.
type Verification struct {
	dir *Directory
}

func (a *Verification) Run(_ context.Context, s *loan.State) (Outcome, error) {
	var out Outcome
	vs := &s.VerificationStatus

	c, ok := identify(a.dir, s)
	if !ok {
		vs.CustomerVerified = false
		s.RecomputeDerived()
		out.note("the customer could not be found; ask for the customer id or registered phone number")
		return out, nil
	}

	d := s.CustomerDetails
	d.Fill(loan.KeyName, c.Name)
	d.Fill(loan.KeyPhone, c.Phone)
	d.Fill(loan.KeyEmail, c.Email)
	d.Fill(loan.KeyAddress, c.Address)
	d.Fill(loan.KeyAccountNumber, c.AccountNumber)
	d.Fill(loan.KeyEmployer, c.Employer)
	d.Fill(loan.KeyEmploymentType, c.EmploymentType)

	vs.CustomerVerified = true
	vs.PhoneVerified = true
	vs.AddressVerified = true
	vs.AccountDetailsVerified = d.Has(loan.KeyAccountNumber) && d.Has(loan.KeyIFSC) && d.Has(loan.KeyBankName)
	s.RecomputeDerived()

	if !vs.AccountDetailsVerified {
		var missing []string
		for _, k := range []string{loan.KeyAccountNumber, loan.KeyIFSC, loan.KeyBankName} {
			if !d.Has(k) {
				missing = append(missing, strings.ReplaceAll(k, "_", " "))
			}
		}
		out.note("ask for the bank account details for disbursal: %s", strings.Join(missing, ", "))
	}
	if !d.Has(loan.KeyPAN) {
		out.note("ask for the PAN")
	}
	switch {
	case vs.IncomeProofVerified:
	case len(s.PendingDocuments()) > 0:
		out.note("income documents are being verified")
	case s.IncomeProof != nil:
		out.note("the income documents could not be verified; ask for clearer copies")
	default:
		out.note("ask the customer to upload income proof: salary slips, bank statements or ITR")
	}
	return out, nil
}

// Underwriting decides the application once the customer is verified.
type Underwriting struct {
	dir    *Directory
	policy Policy
	now    func() time.Time
}

func (a *Underwriting) Run(_ context.Context, s *loan.State) (Outcome, error) {
	var out Outcome
	if s.Decision.Final() {
		return out, nil
	}
	c, ok := identify(a.dir, s)
	if !ok {
		out.note("the customer record is missing; underwriting cannot proceed")
		return out, nil
	}

	app := Application{
		Amount:             s.LoanDetails.Amount,
		TenureMonths:       s.LoanDetails.Tenure,
		CreditScore:        c.CreditScore,
		PreApprovedLimit:   c.PreApprovedLimit,
		MonthlyIncome:      c.MonthlyIncome,
		MonthlyObligations: c.MonthlyObligations(),
	}
	if income, ok := s.CustomerDetails.Float(loan.KeyMonthlyIncome); ok && income > 0 {
		app.MonthlyIncome = income
	}

	res := a.policy.Evaluate(app)
	evaluated := a.now()
	res.EvaluatedAt = &evaluated
	s.UnderwritingResult = res
	s.CustomerDetails.Fill(loan.KeyCreditScore, c.CreditScore)
	if err := s.SetDecision(res.Decision); err != nil {
		return out, err
	}

	switch {
	case res.Decision.Approved():
		s.LoanDetails.InterestRate = res.InterestRate
		s.LoanDetails.EMI = res.CalculatedEMI
		out.note("the loan is %s at %.2f%%, EMI Rs. %.2f", res.Decision, res.InterestRate, res.CalculatedEMI)
	case res.Decision == loan.DecisionNeedMoreInfo:
		out.note("ask for the monthly income")
	default:
		out.note("the application was declined: %s", res.Reason)
	}
	return out, nil
}

// identify resolves the customer by id, then phone, then PAN, and records
// the id when found by the latter two.
func identify(dir *Directory, s *loan.State) (Customer, bool) {
	d := s.CustomerDetails
	if id := d.String(loan.KeyCustomerID); id != "" {
		return dir.Customer(id)
	}
	c, ok := dir.CustomerByPhone(d.String(loan.KeyPhone))
	if !ok {
		c, ok = dir.CustomerByPAN(d.String(loan.KeyPAN))
	}
	if ok {
		d.Fill(loan.KeyCustomerID, c.ID)
	}
	return c, ok
}

// Set dispatches a stage machine agent to its rule.
type Set struct {
	dir          *Directory
	sales        *Sales
	verification *Verification
	underwriting *Underwriting
	logger       *logging.Logger
}

func NewSet(dir *Directory, policy Policy, logger *logging.Logger) *Set {
	if dir == nil {
		panic("agents: directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Set{
		dir:          dir,
		sales:        &Sales{dir: dir},
		verification: &Verification{dir: dir},
		underwriting: &Underwriting{dir: dir, policy: policy, now: func() time.Time { return time.Now().UTC() }},
		logger:       logger,
	}
}

// Identify links the conversation to a CRM record when the customer gave a
// phone number or PAN instead of an id.
func (r *Set) Identify(s *loan.State) bool {
	_, ok := identify(r.dir, s)
	return ok
}

// Run invokes the rule for agent. Agents without a rule are a no-op.
func (r *Set) Run(ctx context.Context, agent loan.Agent, s *loan.State) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch agent {
	case loan.AgentSales:
		out, err = r.sales.Run(ctx, s)
	case loan.AgentVerification:
		// The customer can state amount and tenure in the same turn that
		// leaves sales, so price the offer before verifying.
		if s.LoanDetails.SelectedOffer == "" {
			if out, err = r.sales.Run(ctx, s); err != nil {
				break
			}
		}
		var more Outcome
		more, err = r.verification.Run(ctx, s)
		out.Notes = append(out.Notes, more.Notes...)
	case loan.AgentUnderwriting:
		out, err = r.underwriting.Run(ctx, s)
	default:
		return out, nil
	}
	if err != nil {
		r.logger.Error("agent failed", "agent", string(agent), "session_id", s.SessionID, "error", err)
		return out, fmt.Errorf("agents: %s: %w", agent, err)
	}
	r.logger.Debug("agent ran", "agent", string(agent), "session_id", s.SessionID, "notes", len(out.Notes))
	return out, nil
}
