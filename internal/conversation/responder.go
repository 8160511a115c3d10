package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

// Responder writes the assistant's reply once the stage machine has settled.
type Responder interface {
	Reply(ctx context.Context, s *loan.State, notes []string) (string, error)
}

var stageGuidance = map[loan.Stage]string{
	loan.StageGreeting:         "Welcome the customer and ask for their customer id, registered phone number or PAN so you can find their profile.",
	loan.StageIntentCapture:    "Confirm what kind of loan the customer wants and why.",
	loan.StageSalesExploration: "Ask for any missing loan amount or tenure and present the offer with its rate and EMI.",
	loan.StageVerification:     "Ask for whatever verification details are still missing: phone, address, bank account number, IFSC, bank name, and an income document (salary slip, bank statement, ITR or Form 16).",
	loan.StageUnderwriting:     "Explain the credit decision. If more information is needed, ask for the monthly income.",
	loan.StageDocumentation:    "Tell the customer the sanction letter is being prepared and ask for any details it still needs.",
	loan.StageClosure:          "Close the conversation politely and summarise the outcome.",
}

const replyPrompt = `You are a friendly loan sales assistant for a consumer lender in India.
Keep replies under 120 words, use rupees, and never invent numbers that are not in the facts below.
Current stage: %s.
Goal for this stage: %s
Facts:
%s`

// LLMResponder asks a language model for the reply.
type LLMResponder struct {
	client  LLMClient
	model   string
	history int
}

func NewLLMResponder(client LLMClient, model string) *LLMResponder {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	return &LLMResponder{client: client, model: model, history: 10}
}

func (r *LLMResponder) Reply(ctx context.Context, s *loan.State, notes []string) (string, error) {
	system := fmt.Sprintf(replyPrompt, s.Stage, stageGuidance[s.Stage], facts(s, notes))
	resp, err := r.client.Complete(ctx, LLMRequest{
		Model:       r.model,
		System:      []string{system},
		Messages:    chatHistory(visibleTurns(s.RecentMessages(r.history))),
		MaxTokens:   400,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: reply call: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("conversation: empty reply (stop reason %q)", resp.StopReason)
	}
	return text, nil
}

// visibleTurns drops system entries and leaves the trailing user turn last,
// which the Converse and Gemini APIs both require.
func visibleTurns(msgs []loan.Message) []loan.Message {
	out := make([]loan.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == loan.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	for len(out) > 0 && out[0].Role != loan.RoleUser {
		out = out[1:]
	}
	return out
}

func facts(s *loan.State, notes []string) string {
	var b strings.Builder
	if name := s.CustomerDetails.String(loan.KeyName); name != "" {
		fmt.Fprintf(&b, "- customer: %s\n", name)
	}
	ld := s.LoanDetails
	if ld.Amount > 0 {
		fmt.Fprintf(&b, "- amount: Rs. %.0f\n", ld.Amount)
	}
	if ld.Tenure > 0 {
		fmt.Fprintf(&b, "- tenure: %d months\n", ld.Tenure)
	}
	if ld.InterestRate > 0 {
		fmt.Fprintf(&b, "- rate: %.2f%%, EMI Rs. %.2f\n", ld.InterestRate, ld.EMI)
	}
	if s.Decision != loan.DecisionPending {
		fmt.Fprintf(&b, "- decision: %s\n", s.Decision)
	}
	if s.SanctionLetterID != "" {
		fmt.Fprintf(&b, "- sanction letter: %s\n", s.SanctionLetterID)
	}
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	if b.Len() == 0 {
		return "- nothing known yet"
	}
	return strings.TrimRight(b.String(), "\n")
}

// CannedResponder answers from fixed per-stage text. It is the fallback when
// the model is unavailable and the reply generator for offline runs.
type CannedResponder struct{}

func (CannedResponder) Reply(_ context.Context, s *loan.State, notes []string) (string, error) {
	var b strings.Builder
	switch s.Stage {
	case loan.StageGreeting:
		b.WriteString("Hello! I can help you with a personal loan. Please share your customer id, registered mobile number or PAN.")
	case loan.StageIntentCapture:
		b.WriteString("Thanks! What would you like the loan for?")
	case loan.StageSalesExploration:
		b.WriteString("How much would you like to borrow, and over how many months or years?")
	case loan.StageVerification:
		b.WriteString("To verify your application, please confirm your address and bank account details, and upload an income document such as a salary slip.")
	case loan.StageUnderwriting:
		b.WriteString("I am reviewing your application.")
	case loan.StageDocumentation:
		b.WriteString("Your loan is approved. Your sanction letter is being prepared.")
	case loan.StageClosure:
		switch {
		case s.SanctionLetterID != "":
			fmt.Fprintf(&b, "Your loan has been sanctioned (reference %s). Thank you for choosing us!", s.SanctionLetterID)
		case s.Decision == loan.DecisionRejected:
			b.WriteString("I'm sorry, we are unable to approve this loan right now. Thank you for your time.")
		default:
			b.WriteString("Thank you for your time.")
		}
	default:
		b.WriteString("Could you tell me a bit more?")
	}
	if len(notes) > 0 {
		b.WriteString(" Note: ")
		b.WriteString(strings.Join(notes, "; "))
		b.WriteString(".")
	}
	return b.String(), nil
}
