package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/sanction"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// SanctionNotifier emails the customer when a sanction letter is issued.
type SanctionNotifier struct {
	sender EmailSender
	logger *logging.Logger
}

func NewSanctionNotifier(sender EmailSender, logger *logging.Logger) *SanctionNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &SanctionNotifier{sender: sender, logger: logger}
}

// SanctionIssued sends the letter to the customer's email, if one is known.
func (n *SanctionNotifier) SanctionIssued(ctx context.Context, s *loan.State, doc sanction.Document) error {
	if n == nil || n.sender == nil {
		return nil
	}
	to := strings.TrimSpace(doc.Email)
	if to == "" && s != nil {
		to = s.CustomerDetails.String(loan.KeyEmail)
	}
	if to == "" {
		n.logger.Info("no customer email on file, skipping sanction notification", "sanction_letter_id", doc.ID)
		return nil
	}
	msg := EmailMessage{
		To:      to,
		ToName:  doc.CustomerName,
		Subject: fmt.Sprintf("Your loan sanction letter %s", doc.ID),
		Body:    summaryBody(doc),
		Attachments: []Attachment{{
			Filename:    doc.ID + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(doc.Body),
		}},
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: sanction email: %w", err)
	}
	return nil
}

func summaryBody(doc sanction.Document) string {
	name := strings.TrimSpace(doc.CustomerName)
	if name == "" {
		name = "Customer"
	}
	return fmt.Sprintf("Dear %s,\n\nYour loan has been sanctioned. The sanction letter %s is attached.\n\n%s\n", name, doc.ID, defaultFromName)
}
