package verifier

import (
	"context"
	"fmt"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/sanction"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Requirements lists the fields a snapshot must carry before a sanction
// letter can be issued.
type Requirements struct {
	CustomerFields []string
	LoanFields     []string
}

// Loan field names understood by Requirements.
const (
	LoanAmount       = "amount"
	LoanTenure       = "tenure"
	LoanPurpose      = "purpose"
	LoanInterestRate = "interest_rate"
	LoanEMI          = "emi"
)

var DefaultRequirements = Requirements{
	CustomerFields: []string{
		loan.KeyCustomerID, loan.KeyName, loan.KeyPhone, loan.KeyAddress,
		loan.KeyPAN, loan.KeyAccountNumber, loan.KeyIFSC, loan.KeyBankName,
	},
	LoanFields: []string{LoanAmount, LoanTenure, LoanPurpose, LoanInterestRate, LoanEMI},
}

// MissingForSanction returns the unmet conditions, empty when the snapshot
// is ready.
func MissingForSanction(s *loan.State, req Requirements) []string {
	if s == nil {
		return []string{"state"}
	}
	var missing []string
	if s.SanctionLetterID != "" {
		missing = append(missing, "sanction_letter_id already set")
	}
	vs := s.VerificationStatus
	if !vs.Verified {
		missing = append(missing, "verification")
	}
	if !vs.IncomeProofVerified || vs.IncomeProofConfidence < loan.VerifiedThreshold {
		missing = append(missing, "income_proof")
	}
	if !s.Decision.Approved() {
		missing = append(missing, "decision")
	}
	for _, key := range req.CustomerFields {
		if !s.CustomerDetails.Has(key) {
			missing = append(missing, "customer_details."+key)
		}
	}
	for _, field := range req.LoanFields {
		if !loanFieldSet(s.LoanDetails, field) {
			missing = append(missing, "loan_details."+field)
		}
	}
	return missing
}

// ReadyForSanction is the sanction trigger predicate. It is false once a
// letter id exists.
func ReadyForSanction(s *loan.State, req Requirements) bool {
	return len(MissingForSanction(s, req)) == 0
}

func loanFieldSet(d loan.LoanDetails, field string) bool {
	switch field {
	case LoanAmount:
		return d.Amount > 0
	case LoanTenure:
		return d.Tenure > 0
	case LoanPurpose:
		return d.Purpose != ""
	case LoanInterestRate:
		return d.InterestRate > 0
	case LoanEMI:
		return d.EMI > 0
	case "loan_type":
		return d.LoanType != ""
	default:
		return false
	}
}

// Issuer renders and stores a sanction letter.
type Issuer interface {
	Generate(ctx context.Context, s *loan.State) (sanction.Document, string, error)
}

// Notifier is told about a letter after it has been committed.
type Notifier interface {
	SanctionIssued(ctx context.Context, s *loan.State, doc sanction.Document) error
}

// SanctionTrigger issues exactly one sanction letter per approved,
// verified conversation.
type SanctionTrigger struct {
	issuer   Issuer
	notifier Notifier
	req      Requirements
	logger   *logging.Logger
	metrics  *metrics.WorkerMetrics
}

func NewSanctionTrigger(issuer Issuer, logger *logging.Logger) *SanctionTrigger {
	if issuer == nil {
		panic("verifier: issuer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SanctionTrigger{issuer: issuer, req: DefaultRequirements, logger: logger}
}

func (t *SanctionTrigger) WithRequirements(req Requirements) *SanctionTrigger {
	t.req = req
	return t
}

func (t *SanctionTrigger) WithNotifier(n Notifier) *SanctionTrigger {
	t.notifier = n
	return t
}

func (t *SanctionTrigger) WithMetrics(m *metrics.WorkerMetrics) *SanctionTrigger {
	t.metrics = m
	return t
}

func (t *SanctionTrigger) Name() string { return "sanction-trigger" }

func (t *SanctionTrigger) Cycle(ctx context.Context, store statestore.Store) (bool, error) {
	current, err := store.Load(ctx, nil)
	if err != nil {
		return false, err
	}
	if !ReadyForSanction(current, t.req) {
		return false, nil
	}

	var issued *sanction.Document
	committed, changed, err := store.Update(ctx, nil, func(s *loan.State) (bool, error) {
		// The predicate is evaluated again under the store's lock; another
		// trigger may have won since the lock-free read.
		if !ReadyForSanction(s, t.req) {
			return false, nil
		}
		doc, err := t.Issue(ctx, s)
		if err != nil {
			return false, err
		}
		issued = &doc
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if !changed || issued == nil {
		return false, nil
	}

	t.metrics.ObserveSanctionIssued()
	t.logger.Info("sanction letter issued", "session_id", committed.SessionID, "sanction_letter_id", issued.ID)
	if t.notifier != nil {
		if err := t.notifier.SanctionIssued(ctx, committed, *issued); err != nil {
			t.logger.Warn("sanction notification failed", "error", err, "sanction_letter_id", issued.ID)
		}
	}
	return true, nil
}

// Issue generates the letter for s and records it on s.
func (t *SanctionTrigger) Issue(ctx context.Context, s *loan.State) (sanction.Document, error) {
	doc, ref, err := t.issuer.Generate(ctx, s)
	if err != nil {
		return sanction.Document{}, fmt.Errorf("verifier: generate sanction letter: %w", err)
	}
	if err := s.SetSanctionLetter(doc.ID, ref); err != nil {
		return sanction.Document{}, fmt.Errorf("verifier: record sanction letter: %w", err)
	}
	s.AddMessage(loan.RoleAssistant, fmt.Sprintf(
		"Congratulations! Your loan has been sanctioned. Your sanction letter reference is %s.", doc.ID))
	return doc, nil
}
