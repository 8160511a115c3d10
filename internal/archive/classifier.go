package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Classifier labels archived transcripts with a language model. Without a
// client it labels from the outcome alone.
type Classifier struct {
	client  conversation.LLMClient
	modelID string
	logger  *logging.Logger
}

func NewClassifier(client conversation.LLMClient, modelID string, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{client: client, modelID: modelID, logger: logger}
}

// Classify returns labels for a scrubbed transcript.
func (c *Classifier) Classify(ctx context.Context, outcome string, messages []Message) (*Labels, error) {
	if c == nil || c.client == nil || len(messages) == 0 {
		return outcomeLabels(outcome), nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	resp, err := c.client.Complete(ctx, conversation.LLMRequest{
		Model:       c.modelID,
		System:      []string{classificationSystemPrompt},
		Messages:    []conversation.ChatMessage{{Role: conversation.ChatRoleUser, Content: classificationPrompt(outcome, sb.String())}},
		MaxTokens:   256,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: classify: %w", err)
	}
	return parseLabelsJSON(resp.Text, outcome, c.modelID), nil
}

func parseLabelsJSON(text, outcome, model string) *Labels {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return outcomeLabels(outcome)
	}

	body := text[start : end+1]
	var labels Labels
	if err := json.Unmarshal([]byte(body), &labels); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return outcomeLabels(outcome)
		}
		labels = Labels{}
		if err := json.Unmarshal([]byte(repaired), &labels); err != nil {
			return outcomeLabels(outcome)
		}
	}
	if labels.Category == "" {
		labels.Category = outcome
	}
	if labels.Sentiment == "" {
		labels.Sentiment = "neutral"
	}
	labels.AutoLabeled = true
	labels.LabelModel = model
	labels.HumanReviewed = false
	return &labels
}

func outcomeLabels(outcome string) *Labels {
	if outcome == "" {
		outcome = OutcomeAbandoned
	}
	return &Labels{Category: outcome, Sentiment: "neutral"}
}

const classificationSystemPrompt = `You label transcripts of a personal loan sales assistant for quality review. Return one JSON object and be conservative.`

func classificationPrompt(outcome, transcript string) string {
	return fmt.Sprintf(`The conversation ended with outcome %q. Return ONLY a JSON object with these fields:

{
  "category": "sanctioned|rejected|need_more_info|abandoned|off_topic|abusive",
  "sentiment": "positive|neutral|negative|hostile"
}

Rules:
- category: the outcome unless the customer was off topic or abusive throughout
- sentiment: overall tone of the customer's messages

Conversation:
%s`, outcome, transcript)
}
