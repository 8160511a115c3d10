package loan

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Income proof documents the verifier understands.
const (
	DocSalarySlip         = "salary_slip"
	DocBankStatement      = "bank_statement"
	DocIncomeTaxReturn    = "income_tax_return"
	DocForm16             = "form_16"
	DocBusinessFinancials = "business_financial_statement"
)

// DocumentTypes lists the accepted income proof document types.
var DocumentTypes = []string{
	DocSalarySlip,
	DocBankStatement,
	DocIncomeTaxReturn,
	DocForm16,
	DocBusinessFinancials,
}

// VerifiedThreshold is the minimum confidence for a document or the
// aggregate income proof to count as verified.
const VerifiedThreshold = 0.5

var (
	ErrDecisionFinal       = errors.New("loan: decision already final")
	ErrSanctionExists      = errors.New("loan: sanction letter already issued")
	ErrSanctionNotDue      = errors.New("loan: sanction letter requires an approved decision")
	ErrUnknownDocumentType = errors.New("loan: unknown document type")
)

type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEntry is a diagnostic record. It never drives control flow.
type ErrorEntry struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type DocumentStatus string

const (
	DocumentUploaded DocumentStatus = "uploaded"
	DocumentApproved DocumentStatus = "approved"
	DocumentRejected DocumentStatus = "rejected"
)

// DocumentUpload is created on upload and scored once by the document
// verifier.
type DocumentUpload struct {
	Type       string         `json:"type"`
	Filename   string         `json:"filename"`
	UploadTime time.Time      `json:"upload_time"`
	Status     DocumentStatus `json:"status"`
	Verified   bool           `json:"verified"`
	Confidence float64        `json:"confidence,omitempty"`
	VerifiedAt *time.Time     `json:"verified_at,omitempty"`
}

// Scored reports whether the verifier has already processed the document.
func (d DocumentUpload) Scored() bool {
	return d.Status == DocumentApproved || d.Status == DocumentRejected
}

// IncomeProofVerification is the nested verification result that the
// income proof flags in VerificationStatus are derived from.
type IncomeProofVerification struct {
	Confidence float64            `json:"confidence"`
	Verified   bool               `json:"verified"`
	ByType     map[string]float64 `json:"by_type"`
}

type VerificationStatus struct {
	CustomerVerified       bool       `json:"customer_verified"`
	PhoneVerified          bool       `json:"phone_verified"`
	AddressVerified        bool       `json:"address_verified"`
	AccountDetailsVerified bool       `json:"account_details_verified"`
	IncomeProofVerified    bool       `json:"income_proof_verified"`
	IncomeProofConfidence  float64    `json:"income_proof_confidence"`
	Verified               bool       `json:"verified"`
	Status                 string     `json:"status,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

type Offer struct {
	ID            string  `json:"offer_id"`
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Amount        float64 `json:"loan_amount"`
	Tenure        int     `json:"loan_tenure"`
	InterestRate  float64 `json:"interest_rate"`
	EMI           float64 `json:"monthly_emi"`
	ProcessingFee float64 `json:"processing_fee"`
	TotalInterest float64 `json:"total_interest"`
	TotalPayment  float64 `json:"total_payment"`
	PreApproved   bool    `json:"pre_approved"`
}

type LoanDetails struct {
	Amount        float64 `json:"amount,omitempty"`
	Tenure        int     `json:"tenure,omitempty"`
	Purpose       string  `json:"purpose,omitempty"`
	LoanType      string  `json:"loan_type,omitempty"`
	InterestRate  float64 `json:"interest_rate,omitempty"`
	EMI           float64 `json:"emi,omitempty"`
	ProcessingFee float64 `json:"processing_fee,omitempty"`
	SelectedOffer string  `json:"selected_offer,omitempty"`
	Offers        []Offer `json:"offers,omitempty"`
}

type UnderwritingResult struct {
	Decision         Decision   `json:"decision"`
	Reason           string     `json:"reason,omitempty"`
	InterestRate     float64    `json:"interest_rate,omitempty"`
	CalculatedEMI    float64    `json:"calculated_emi,omitempty"`
	EMIToIncome      float64    `json:"emi_to_income_ratio,omitempty"`
	CreditScore      int        `json:"credit_score,omitempty"`
	PreApprovedLimit float64    `json:"pre_approved_limit,omitempty"`
	Conditions       []string   `json:"conditions,omitempty"`
	EvaluatedAt      *time.Time `json:"evaluated_at,omitempty"`
}

const DocumentationCompleted = "completed"

type DocumentationStatus struct {
	Status      string     `json:"status,omitempty"`
	DocumentRef string     `json:"document_ref,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// State is one conversation snapshot. The same document is shared, via a
// statestore, between the conversation driver and the background workers.
type State struct {
	SessionID          string                    `json:"session_id"`
	StartTime          time.Time                 `json:"start_time"`
	Stage              Stage                     `json:"stage"`
	CustomerDetails    Details                   `json:"customer_details"`
	LoanDetails        LoanDetails               `json:"loan_details"`
	VerificationStatus VerificationStatus        `json:"verification_status"`
	IncomeProof        *IncomeProofVerification  `json:"income_proof,omitempty"`
	UnderwritingResult UnderwritingResult        `json:"underwriting_result"`
	Decision           Decision                  `json:"decision"`
	SanctionLetterID   string                    `json:"sanction_letter_id,omitempty"`
	Documentation      DocumentationStatus       `json:"documentation_status"`
	Messages           []Message                 `json:"messages"`
	Errors             []ErrorEntry              `json:"errors"`
	DocumentUploads    map[string]DocumentUpload `json:"document_uploads"`
	NextAgent          Agent                     `json:"next_agent,omitempty"`
	Version            int64                     `json:"version"`
	LastUpdated        time.Time                 `json:"last_updated"`
}

// NewState returns a fresh conversation positioned at the greeting stage.
func NewState(sessionID string) *State {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s := &State{
		SessionID:          sessionID,
		StartTime:          time.Now().UTC(),
		Stage:              StageGreeting,
		Decision:           DecisionPending,
		UnderwritingResult: UnderwritingResult{Decision: DecisionPending},
	}
	s.normalize()
	return s
}

// Normalize fills nil collections and zero enums left by decoding partial
// documents.
func (s *State) Normalize() {
	s.normalize()
}

func (s *State) normalize() {
	if s.CustomerDetails == nil {
		s.CustomerDetails = Details{}
	}
	if s.DocumentUploads == nil {
		s.DocumentUploads = map[string]DocumentUpload{}
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorEntry{}
	}
	if s.Stage == "" {
		s.Stage = StageGreeting
	}
	if s.Decision == "" {
		s.Decision = DecisionPending
	}
	if s.UnderwritingResult.Decision == "" {
		s.UnderwritingResult.Decision = DecisionPending
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.CustomerDetails = s.CustomerDetails.Clone()
	c.LoanDetails.Offers = append([]Offer(nil), s.LoanDetails.Offers...)
	c.UnderwritingResult.Conditions = append([]string(nil), s.UnderwritingResult.Conditions...)
	c.Messages = append([]Message(nil), s.Messages...)
	c.Errors = append([]ErrorEntry(nil), s.Errors...)
	c.DocumentUploads = make(map[string]DocumentUpload, len(s.DocumentUploads))
	for k, v := range s.DocumentUploads {
		c.DocumentUploads[k] = v
	}
	if s.IncomeProof != nil {
		ip := *s.IncomeProof
		ip.ByType = make(map[string]float64, len(s.IncomeProof.ByType))
		for k, v := range s.IncomeProof.ByType {
			ip.ByType[k] = v
		}
		c.IncomeProof = &ip
	}
	c.normalize()
	return &c
}

// AddMessage appends a conversation turn and returns it.
func (s *State) AddMessage(role Role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// AddError records a diagnostic entry.
func (s *State) AddError(kind, message string, agent Agent) {
	s.Errors = append(s.Errors, ErrorEntry{
		Type:      kind,
		Message:   message,
		Agent:     string(agent),
		Timestamp: time.Now().UTC(),
	})
}

// LastMessage returns the most recent message, if any.
func (s *State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// RecentMessages returns up to n trailing messages.
func (s *State) RecentMessages(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return append([]Message(nil), s.Messages...)
	}
	return append([]Message(nil), s.Messages[len(s.Messages)-n:]...)
}

// SetDecision records the underwriting outcome. A final decision is never
// replaced by a different one.
func (s *State) SetDecision(d Decision) error {
	if s.Decision.Final() && s.Decision != d {
		return ErrDecisionFinal
	}
	s.Decision = d
	s.UnderwritingResult.Decision = d
	return nil
}

// SetSanctionLetter records the issued sanction document. It may only be
// called once, after an approval.
func (s *State) SetSanctionLetter(id, ref string) error {
	if s.SanctionLetterID != "" {
		return ErrSanctionExists
	}
	if !s.Decision.Approved() {
		return ErrSanctionNotDue
	}
	now := time.Now().UTC()
	s.SanctionLetterID = id
	s.Documentation = DocumentationStatus{
		Status:      DocumentationCompleted,
		DocumentRef: ref,
		CompletedAt: &now,
	}
	return nil
}

// DocumentationComplete is the local flag flipped when a sanction letter id
// is known.
func (s *State) DocumentationComplete() bool {
	return s.SanctionLetterID != "" && s.Documentation.Status == DocumentationCompleted
}

// RecordUpload registers a newly uploaded document and returns its id.
func (s *State) RecordUpload(docType, filename string) (string, error) {
	if !KnownDocumentType(docType) {
		return "", ErrUnknownDocumentType
	}
	id := uuid.NewString()
	s.DocumentUploads[id] = DocumentUpload{
		Type:       docType,
		Filename:   filename,
		UploadTime: time.Now().UTC(),
		Status:     DocumentUploaded,
	}
	s.CustomerDetails[docType+"_uploaded"] = true
	return id, nil
}

// PendingDocuments returns the ids of uploaded documents that have not been
// scored, in upload order.
func (s *State) PendingDocuments() []string {
	var ids []string
	for id, doc := range s.DocumentUploads {
		if !doc.Scored() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.DocumentUploads[ids[i]], s.DocumentUploads[ids[j]]
		if a.UploadTime.Equal(b.UploadTime) {
			return ids[i] < ids[j]
		}
		return a.UploadTime.Before(b.UploadTime)
	})
	return ids
}

// RecomputeDerived rebuilds every derived verification flag from its source
// fields: the income proof result from the scored document uploads, and the
// aggregate verified flag from the individual checks.
func (s *State) RecomputeDerived() {
	latest := map[string]DocumentUpload{}
	for _, doc := range s.DocumentUploads {
		if !doc.Scored() {
			continue
		}
		prev, ok := latest[doc.Type]
		if !ok || scoredAfter(doc, prev) {
			latest[doc.Type] = doc
		}
	}

	if len(latest) == 0 {
		s.IncomeProof = nil
	} else {
		proof := &IncomeProofVerification{ByType: make(map[string]float64, len(latest))}
		var sum float64
		for docType, doc := range latest {
			proof.ByType[docType] = doc.Confidence
			sum += doc.Confidence
		}
		proof.Confidence = sum / float64(len(latest))
		proof.Verified = proof.Confidence >= VerifiedThreshold
		s.IncomeProof = proof
	}

	vs := &s.VerificationStatus
	if s.IncomeProof != nil {
		vs.IncomeProofVerified = s.IncomeProof.Verified
		vs.IncomeProofConfidence = s.IncomeProof.Confidence
	} else {
		vs.IncomeProofVerified = false
		vs.IncomeProofConfidence = 0
	}

	verified := vs.CustomerVerified && vs.PhoneVerified && vs.AddressVerified &&
		vs.AccountDetailsVerified && vs.IncomeProofVerified
	if verified && !vs.Verified {
		now := time.Now().UTC()
		vs.CompletedAt = &now
	}
	vs.Verified = verified
	switch {
	case verified:
		vs.Status = "completed"
	case vs.CustomerVerified:
		vs.Status = "in_progress"
	default:
		vs.Status = ""
		vs.CompletedAt = nil
	}
	if !verified {
		vs.CompletedAt = nil
	}
}

func scoredAfter(a, b DocumentUpload) bool {
	switch {
	case a.VerifiedAt == nil:
		return false
	case b.VerifiedAt == nil:
		return true
	default:
		return a.VerifiedAt.After(*b.VerifiedAt)
	}
}

// KnownDocumentType reports whether docType is an accepted income proof.
func KnownDocumentType(docType string) bool {
	for _, t := range DocumentTypes {
		if t == docType {
			return true
		}
	}
	return false
}
