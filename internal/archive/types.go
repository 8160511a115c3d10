package archive

import "time"

const recordVersion = "1.0"

// Conversation outcomes.
const (
	OutcomeSanctioned   = "sanctioned"
	OutcomeRejected     = "rejected"
	OutcomeNeedMoreInfo = "need_more_info"
	OutcomeAbandoned    = "abandoned"
)

// ConversationRecord is the archived copy of a finished conversation.
// Identifiers are hashed and message text is scrubbed before it is built.
type ConversationRecord struct {
	Version         string      `json:"version"`
	SessionID       string      `json:"session_id"`
	CustomerHash    string      `json:"customer_hash,omitempty"`
	ArchivedAt      time.Time   `json:"archived_at"`
	DurationSeconds int         `json:"duration_seconds"`
	MessageCount    int         `json:"message_count"`
	Outcome         string      `json:"outcome"`
	Labels          Labels      `json:"labels"`
	Loan            LoanContext `json:"loan"`
	Messages        []Message   `json:"messages"`
}

// Labels are review labels for the transcript.
type Labels struct {
	Category      string `json:"category"`  // sanctioned|rejected|need_more_info|abandoned|off_topic|abusive
	Sentiment     string `json:"sentiment"` // positive|neutral|negative|hostile
	ContainsPII   bool   `json:"contains_pii"`
	AutoLabeled   bool   `json:"auto_labeled"`
	LabelModel    string `json:"label_model,omitempty"`
	HumanReviewed bool   `json:"human_reviewed"`
}

// LoanContext captures what the conversation settled on.
type LoanContext struct {
	Amount            float64 `json:"amount,omitempty"`
	TenureMonths      int     `json:"tenure_months,omitempty"`
	Purpose           string  `json:"purpose,omitempty"`
	LoanType          string  `json:"loan_type,omitempty"`
	InterestRate      float64 `json:"interest_rate,omitempty"`
	EMI               float64 `json:"emi,omitempty"`
	Decision          string  `json:"decision"`
	SanctionLetterID  string  `json:"sanction_letter_id,omitempty"`
	DocumentsUploaded int     `json:"documents_uploaded"`
	IncomeConfidence  float64 `json:"income_confidence,omitempty"`
}

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID    string  `json:"session_id"`
	S3Key        string  `json:"s3_key"`
	Category     string  `json:"category"`
	Outcome      string  `json:"outcome"`
	Amount       float64 `json:"amount,omitempty"`
	ArchivedAt   string  `json:"archived_at"`
	MessageCount int     `json:"message_count"`
}
