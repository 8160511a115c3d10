package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Sink persists a finished conversation record.
type Sink interface {
	Name() string
	Write(ctx context.Context, record *ConversationRecord) error
}

// Archiver turns closed conversations into scrubbed, labeled records and
// fans them out to every configured sink.
type Archiver struct {
	classifier *Classifier
	sinks      []Sink
	logger     *logging.Logger
	now        func() time.Time
}

// NewArchiver drops nil sinks and S3 stores without a bucket.
func NewArchiver(classifier *Classifier, logger *logging.Logger, sinks ...Sink) *Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	a := &Archiver{
		classifier: classifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if s3, ok := s.(*S3Store); ok && !s3.Enabled() {
			continue
		}
		a.sinks = append(a.sinks, s)
	}
	return a
}

// Enabled reports whether at least one sink is configured.
func (a *Archiver) Enabled() bool {
	return a != nil && len(a.sinks) > 0
}

// Archive builds the record for s and writes it to every sink. Sink
// failures are joined; one failing sink does not stop the others.
func (a *Archiver) Archive(ctx context.Context, s *loan.State) error {
	if !a.Enabled() || s == nil {
		return nil
	}

	record := BuildRecord(s, a.now())
	labels, err := a.classifier.Classify(ctx, record.Outcome, record.Messages)
	if err != nil {
		a.logger.Warn("classification failed, using outcome labels", "session_id", s.SessionID, "error", err)
		labels = outcomeLabels(record.Outcome)
	}
	labels.ContainsPII = record.Labels.ContainsPII
	record.Labels = *labels

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.Write(ctx, record); err != nil {
			a.logger.Error("archive sink failed", "sink", sink.Name(), "session_id", s.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// BuildRecord converts a conversation state into an archive record.
// System messages are dropped and user-visible text is scrubbed.
func BuildRecord(s *loan.State, now time.Time) *ConversationRecord {
	msgs := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == loan.RoleSystem {
			continue
		}
		msgs = append(msgs, Message{Role: string(m.Role), Content: m.Content, Timestamp: m.Timestamp})
	}
	containsPII := ScrubMessages(msgs)

	end := s.LastUpdated
	if end.IsZero() || end.Before(s.StartTime) {
		end = now
	}

	record := &ConversationRecord{
		Version:         recordVersion,
		SessionID:       s.SessionID,
		ArchivedAt:      now,
		DurationSeconds: int(end.Sub(s.StartTime).Seconds()),
		MessageCount:    len(msgs),
		Outcome:         Outcome(s),
		Labels:          Labels{ContainsPII: containsPII},
		Loan: LoanContext{
			Amount:            s.LoanDetails.Amount,
			TenureMonths:      s.LoanDetails.Tenure,
			Purpose:           s.LoanDetails.Purpose,
			LoanType:          s.LoanDetails.LoanType,
			InterestRate:      s.LoanDetails.InterestRate,
			EMI:               s.LoanDetails.EMI,
			Decision:          string(s.Decision),
			SanctionLetterID:  s.SanctionLetterID,
			DocumentsUploaded: len(s.DocumentUploads),
			IncomeConfidence:  s.VerificationStatus.IncomeProofConfidence,
		},
		Messages: msgs,
	}
	if id := s.CustomerDetails.String(loan.KeyCustomerID); id != "" {
		record.CustomerHash = HashIdentifier(id)
	}
	return record
}

// Outcome summarises how a conversation ended.
func Outcome(s *loan.State) string {
	switch {
	case s.SanctionLetterID != "":
		return OutcomeSanctioned
	case s.Decision == loan.DecisionRejected:
		return OutcomeRejected
	case s.Decision == loan.DecisionNeedMoreInfo:
		return OutcomeNeedMoreInfo
	default:
		return OutcomeAbandoned
	}
}
