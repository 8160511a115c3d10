// Package sanction renders and stores sanction letters.
package sanction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// ErrNotFound is returned when a sanction letter id is unknown.
var ErrNotFound = errors.New("sanction: letter not found")

var letterNamespace = uuid.MustParse("6f1c54a2-1a9e-4f53-9d0e-6f7b1f0a5c11")

// LetterID derives the sanction letter id for a session. The same session
// always yields the same id, which keeps a retried generation idempotent.
func LetterID(sessionID string) string {
	u := uuid.NewSHA1(letterNamespace, []byte(sessionID))
	return "SL-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:12])
}

// Document is an issued sanction letter. It is immutable once stored.
type Document struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	CustomerID    string        `json:"customer_id"`
	CustomerName  string        `json:"customer_name"`
	Address       string        `json:"address,omitempty"`
	PAN           string        `json:"pan,omitempty"`
	AccountNumber string        `json:"account_number,omitempty"`
	IFSC          string        `json:"ifsc_code,omitempty"`
	BankName      string        `json:"bank_name,omitempty"`
	Email         string        `json:"email,omitempty"`
	Amount        float64       `json:"amount"`
	TenureMonths  int           `json:"tenure_months"`
	Purpose       string        `json:"purpose,omitempty"`
	InterestRate  float64       `json:"interest_rate"`
	EMI           float64       `json:"emi"`
	ProcessingFee float64       `json:"processing_fee,omitempty"`
	Decision      loan.Decision `json:"decision"`
	Conditions    []string      `json:"conditions,omitempty"`
	IssuedAt      time.Time     `json:"issued_at"`
	ValidUntil    time.Time     `json:"valid_until"`
	Body          string        `json:"body"`
}

// Store persists issued letters.
type Store interface {
	// Put stores the document and returns a reference to where it lives.
	Put(ctx context.Context, doc Document) (string, error)
	Get(ctx context.Context, id string) (Document, error)
}

const letterTemplate = `SANCTION LETTER
Reference: {{.ID}}
Date: {{.IssuedAt.Format "02 Jan 2006"}}

To,
{{.CustomerName}} (Customer ID {{.CustomerID}})
{{- if .Address}}
{{.Address}}
{{- end}}

Dear {{.CustomerName}},

We are pleased to inform you that your personal loan application has been
{{if eq .Decision "conditional"}}conditionally {{end}}sanctioned on the following terms:

  Loan amount       : Rs. {{money .Amount}}
  Tenure            : {{.TenureMonths}} months
  Rate of interest  : {{printf "%.2f" .InterestRate}}% p.a.
  Monthly EMI       : Rs. {{money .EMI}}
  Processing fee    : Rs. {{money .ProcessingFee}}
{{- if .Purpose}}
  Purpose           : {{.Purpose}}
{{- end}}
  Disbursal account : {{.AccountNumber}} ({{.BankName}}, IFSC {{.IFSC}})
{{if .Conditions}}
This sanction is subject to:
{{- range .Conditions}}
  - {{.}}
{{- end}}
{{end}}
This offer is valid until {{.ValidUntil.Format "02 Jan 2006"}}.

Authorised Signatory
{{.Issuer}}
`

type letterView struct {
	Document
	Issuer string
}

// Generator turns an approved conversation into a stored sanction letter.
type Generator struct {
	store    Store
	issuer   string
	validFor time.Duration
	tmpl     *template.Template
	logger   *logging.Logger
	now      func() time.Time
}

func NewGenerator(store Store, issuer string, logger *logging.Logger) *Generator {
	if store == nil {
		panic("sanction: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if issuer == "" {
		issuer = "Loan Desk"
	}
	tmpl := template.Must(template.New("letter").Funcs(template.FuncMap{
		"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	}).Parse(letterTemplate))
	return &Generator{
		store:    store,
		issuer:   issuer,
		validFor: 30 * 24 * time.Hour,
		tmpl:     tmpl,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders and stores the sanction letter for s. It returns the
// document and the storage reference. s is not modified.
func (g *Generator) Generate(ctx context.Context, s *loan.State) (Document, string, error) {
	if s == nil {
		return Document{}, "", errors.New("sanction: state cannot be nil")
	}
	if !s.Decision.Approved() {
		return Document{}, "", fmt.Errorf("sanction: decision %q is not an approval", s.Decision)
	}

	issued := g.now()
	d := s.CustomerDetails
	rate := s.LoanDetails.InterestRate
	if s.UnderwritingResult.InterestRate > 0 {
		rate = s.UnderwritingResult.InterestRate
	}
	emi := s.LoanDetails.EMI
	if s.UnderwritingResult.CalculatedEMI > 0 {
		emi = s.UnderwritingResult.CalculatedEMI
	}
	doc := Document{
		ID:            LetterID(s.SessionID),
		SessionID:     s.SessionID,
		CustomerID:    d.String(loan.KeyCustomerID),
		CustomerName:  d.String(loan.KeyName),
		Address:       d.String(loan.KeyAddress),
		PAN:           d.String(loan.KeyPAN),
		AccountNumber: d.String(loan.KeyAccountNumber),
		IFSC:          d.String(loan.KeyIFSC),
		BankName:      d.String(loan.KeyBankName),
		Email:         d.String(loan.KeyEmail),
		Amount:        s.LoanDetails.Amount,
		TenureMonths:  s.LoanDetails.Tenure,
		Purpose:       s.LoanDetails.Purpose,
		InterestRate:  rate,
		EMI:           emi,
		ProcessingFee: s.LoanDetails.ProcessingFee,
		Decision:      s.Decision,
		Conditions:    append([]string(nil), s.UnderwritingResult.Conditions...),
		IssuedAt:      issued,
		ValidUntil:    issued.Add(g.validFor),
	}

	var body bytes.Buffer
	if err := g.tmpl.Execute(&body, letterView{Document: doc, Issuer: g.issuer}); err != nil {
		return Document{}, "", fmt.Errorf("sanction: render letter: %w", err)
	}
	doc.Body = body.String()

	ref, err := g.store.Put(ctx, doc)
	if err != nil {
		return Document{}, "", err
	}
	g.logger.Info("sanction letter generated", "sanction_letter_id", doc.ID, "session_id", s.SessionID, "ref", ref)
	return doc, ref, nil
}
