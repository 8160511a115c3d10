package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn handed to a language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
	// JSON asks the model for a JSON object instead of prose.
	JSON bool
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is the seam to every model provider. Extraction and reply
// generation both go through it.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// StaticLLMClient answers every request with the same text. It backs
// offline runs and tests.
type StaticLLMClient struct {
	Text string
	Err  error
}

func (c StaticLLMClient) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	if c.Err != nil {
		return LLMResponse{}, c.Err
	}
	return LLMResponse{Text: c.Text, StopReason: "static"}, nil
}
