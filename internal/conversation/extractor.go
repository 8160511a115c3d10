package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Extraction is the structured reading of one user turn. NextStage is a
// suggestion only; the stage machine decides.
type Extraction struct {
	Intent     string         `json:"intent"`
	Entities   map[string]any `json:"entities"`
	NextStage  string         `json:"next_stage"`
	Confidence float64        `json:"confidence"`
}

// Extractor pulls intent and entities out of a user turn.
type Extractor interface {
	Extract(ctx context.Context, stage loan.Stage, recent []loan.Message, text string) (Extraction, error)
}

var errNoJSON = errors.New("conversation: no JSON object in model output")

const extractionPrompt = `You read messages from a customer talking to a personal loan assistant.
Return one JSON object with exactly these fields:
  "intent": short snake_case label (greeting, apply_loan, provide_information, ask_question, upload_document, goodbye),
  "entities": object with any of these keys the customer stated: %s,
  "next_stage": one of %s,
  "confidence": number between 0 and 1.
Leave out entities the customer did not state. Use rupees for amounts and months or years for tenure.
The conversation is currently in the %q stage.`

// LLMExtractor asks a language model for the extraction and repairs
// malformed JSON before giving up.
type LLMExtractor struct {
	client   LLMClient
	model    string
	fallback Extractor
	logger   *logging.Logger
}

func NewLLMExtractor(client LLMClient, model string, logger *logging.Logger) *LLMExtractor {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMExtractor{client: client, model: model, logger: logger}
}

// WithFallback sets the extractor used when the model call or its output
// fails.
func (e *LLMExtractor) WithFallback(f Extractor) *LLMExtractor {
	e.fallback = f
	return e
}

func (e *LLMExtractor) Extract(ctx context.Context, stage loan.Stage, recent []loan.Message, text string) (Extraction, error) {
	out, err := e.extract(ctx, stage, recent, text)
	if err == nil || e.fallback == nil || ctx.Err() != nil {
		return out, err
	}
	e.logger.Warn("llm extraction failed, using fallback extractor", "error", err, "stage", string(stage))
	return e.fallback.Extract(ctx, stage, recent, text)
}

func (e *LLMExtractor) extract(ctx context.Context, stage loan.Stage, recent []loan.Message, text string) (Extraction, error) {
	stages := make([]string, 0, len(loan.Stages()))
	for _, s := range loan.Stages() {
		stages = append(stages, string(s))
	}
	keys := append([]string{"loan_amount", "loan_tenure", "loan_purpose", "loan_type"}, loan.CustomerKeys...)
	system := fmt.Sprintf(extractionPrompt, strings.Join(keys, ", "), strings.Join(stages, ", "), string(stage))

	messages := chatHistory(recent)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: text})
	resp, err := e.client.Complete(ctx, LLMRequest{
		Model:       e.model,
		System:      []string{system},
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("conversation: extraction call: %w", err)
	}
	return ParseExtraction(resp.Text)
}

// ParseExtraction decodes model output into an Extraction. Code fences and
// surrounding prose are ignored; broken JSON is repaired when possible.
func ParseExtraction(raw string) (Extraction, error) {
	body := raw
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	switch {
	case start < 0:
		return Extraction{}, errNoJSON
	case end > start:
		body = body[start : end+1]
	default:
		body = body[start:]
	}

	var out Extraction
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return Extraction{}, fmt.Errorf("conversation: decode extraction: %w", err)
		}
		out = Extraction{}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return Extraction{}, fmt.Errorf("conversation: decode repaired extraction: %w", err)
		}
	}
	if _, ok := loan.ParseStage(out.NextStage); !ok {
		out.NextStage = ""
	}
	if out.Entities == nil {
		out.Entities = map[string]any{}
	}
	return out, nil
}

func chatHistory(msgs []loan.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := ChatRoleUser
		switch m.Role {
		case loan.RoleAssistant:
			role = ChatRoleAssistant
		case loan.RoleSystem:
			role = ChatRoleSystem
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

var (
	customerIDPattern = regexp.MustCompile(`(?i)\b(TC\d{3})\b`)
	phonePattern      = regexp.MustCompile(`(?:^|\D)(?:\+?91[\s-]?)?([6-9]\d{4})[\s-]?(\d{5})(?:\D|$)`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	panPattern        = regexp.MustCompile(`\b([A-Za-z]{5}\d{4}[A-Za-z])\b`)
	ifscPattern       = regexp.MustCompile(`\b([A-Za-z]{4}0[A-Za-z0-9]{6})\b`)
	accountPattern    = regexp.MustCompile(`(?i)account\s*(?:number|no\.?|#)?\s*(?:is|:)?\s*([A-Z0-9]{6,20})`)
	bankPattern       = regexp.MustCompile(`\b((?:[A-Z][A-Za-z]+\s+){1,2}Bank)\b`)
	incomePattern     = regexp.MustCompile(`(?i)(?:income|salary|earn)\D{0,20}?(\d[\d,]*(?:\.\d+)?\s*(?:lakhs?|lacs?|k\b|thousand)?)`)
	amountPattern     = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?\s*(?:lakhs?|lacs?|crores?|cr\b|k\b|thousand))|(?:\brs\.?|₹|\binr)\s*(\d[\d,]*(?:\.\d+)?)`)
	tenurePattern     = regexp.MustCompile(`(?i)(\d+)\s*(years?|yrs?|months?)`)
	purposePattern    = regexp.MustCompile(`(?i)(?:loan\s+for|purpose\s+is|need\s+it\s+for|for\s+my)\s+(?:a\s+|an\s+|the\s+|my\s+)?([a-z][a-z ]{2,40}?)\s*(?:[.,!?\d]|$|\bfor\b|\bover\b|\bof\b)`)
	namePattern       = regexp.MustCompile(`(?i)\bmy name is\s+([a-z]+(?:\s+[a-z]+)?)`)
)

// RuleExtractor reads entities with regular expressions. It needs no model
// and backs offline runs and the LLM extractor's fallback.
type RuleExtractor struct{}

func (RuleExtractor) Extract(_ context.Context, _ loan.Stage, _ []loan.Message, text string) (Extraction, error) {
	ent := map[string]any{}
	rest := text

	if m := customerIDPattern.FindStringSubmatch(rest); m != nil {
		ent[loan.KeyCustomerID] = strings.ToUpper(m[1])
	}
	if m := emailPattern.FindString(rest); m != "" {
		ent[loan.KeyEmail] = m
		rest = strings.Replace(rest, m, " ", 1)
	}
	if m := ifscPattern.FindStringSubmatch(rest); m != nil && hasDigitAt(m[1], 4) {
		ent[loan.KeyIFSC] = strings.ToUpper(m[1])
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := panPattern.FindStringSubmatch(rest); m != nil {
		ent[loan.KeyPAN] = strings.ToUpper(m[1])
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := accountPattern.FindStringSubmatch(rest); m != nil && strings.ContainsAny(m[1], "0123456789") {
		ent[loan.KeyAccountNumber] = strings.ToUpper(m[1])
		rest = strings.Replace(rest, m[1], " ", 1)
	}
	if m := phonePattern.FindStringSubmatch(rest); m != nil {
		ent[loan.KeyPhone] = "+91" + m[1] + m[2]
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := bankPattern.FindStringSubmatch(text); m != nil {
		ent[loan.KeyBankName] = m[1]
	}
	if m := incomePattern.FindStringSubmatch(rest); m != nil {
		ent[loan.KeyMonthlyIncome] = strings.TrimSpace(m[1])
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := tenurePattern.FindStringSubmatch(rest); m != nil {
		ent["loan_tenure"] = m[1] + " " + strings.ToLower(m[2])
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := amountPattern.FindStringSubmatch(rest); m != nil {
		amount := m[1]
		if amount == "" {
			amount = m[2]
		}
		ent["loan_amount"] = strings.TrimSpace(amount)
	}
	if m := purposePattern.FindStringSubmatch(text); m != nil {
		ent["loan_purpose"] = strings.TrimSpace(strings.ToLower(m[1]))
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		ent[loan.KeyName] = titleCase(m[1])
	}

	out := Extraction{Intent: ruleIntent(text, ent), Entities: ent, Confidence: 0.6}
	if len(ent) == 0 {
		out.Confidence = 0.3
	}
	return out, nil
}

func hasDigitAt(s string, i int) bool {
	return len(s) > i && s[i] == '0'
}

func ruleIntent(text string, ent map[string]any) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bye") || strings.Contains(lower, "thank"):
		return "goodbye"
	case strings.Contains(lower, "upload") || strings.Contains(lower, "document"):
		return "upload_document"
	case strings.Contains(lower, "loan"):
		return "apply_loan"
	case len(ent) > 0:
		return "provide_information"
	case strings.HasPrefix(lower, "hi") || strings.HasPrefix(lower, "hello") || strings.HasPrefix(lower, "hey"):
		return "greeting"
	default:
		return "ask_question"
	}
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
