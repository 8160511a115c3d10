package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

type scriptedLLM struct {
	mu       sync.Mutex
	errs     []error
	text     string
	calls    int
	requests []LLMRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return LLMResponse{}, err
		}
	}
	return LLMResponse{Text: s.text}, nil
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"googleapi 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"googleapi 500", &googleapi.Error{Code: http.StatusInternalServerError}, false},
		{"bedrock throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"bedrock validation", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad input"}, false},
		{"grpc text", errors.New("rpc error: code = ResourceExhausted desc = quota"), true},
		{"other", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRateLimited(tc.err))
		})
	}
}

func TestRetryingLLMClientBacksOffOnRateLimit(t *testing.T) {
	inner := &scriptedLLM{errs: []error{ErrRateLimited, ErrRateLimited}, text: "ok"}
	c := NewRetryingLLMClient(inner, RetryConfig{MaxRetries: 5, BackoffBase: time.Second}, logging.Default())
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetryingLLMClientGivesUp(t *testing.T) {
	inner := &scriptedLLM{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	c := NewRetryingLLMClient(inner, RetryConfig{MaxRetries: 2, BackoffBase: time.Millisecond}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingLLMClientDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &scriptedLLM{errs: []error{boom}}
	c := NewRetryingLLMClient(inner, RetryConfig{MaxRetries: 5}, nil)
	c.sleep = func(context.Context, time.Duration) error {
		t.Fatal("unexpected backoff")
		return nil
	}

	_, err := c.Complete(context.Background(), LLMRequest{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingLLMClientBackoffCapped(t *testing.T) {
	c := NewRetryingLLMClient(&scriptedLLM{}, RetryConfig{BackoffBase: 10 * time.Second}, nil)
	assert.Equal(t, 10*time.Second, c.backoff(0))
	assert.Equal(t, 40*time.Second, c.backoff(2))
	assert.Equal(t, maxBackoff, c.backoff(3))
	assert.Equal(t, maxBackoff, c.backoff(70))
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &scriptedLLM{errs: []error{errors.New("primary down")}}
	fallback := &scriptedLLM{text: "from fallback"}
	c := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)

	alone := NewFallbackLLMClient(&scriptedLLM{errs: []error{errors.New("down")}}, nil, nil)
	_, err = alone.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "down")
}

func TestGeminiHistory(t *testing.T) {
	history, prompt, err := geminiHistory([]ChatMessage{
		{Role: ChatRoleSystem, Content: "ignored"},
		{Role: ChatRoleUser, Content: "Hi"},
		{Role: ChatRoleAssistant, Content: " Hello! "},
		{Role: ChatRoleUser, Content: "I need a loan"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I need a loan", prompt)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("Hello!")}, history[1].Parts)

	_, _, err = geminiHistory([]ChatMessage{{Role: ChatRoleSystem, Content: "only system"}})
	assert.Error(t, err)
}

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrockLLMClientComplete(t *testing.T) {
	in, out, total := int32(10), int32(5), int32(15)
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " {\"intent\":\"greeting\"} "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: &in, OutputTokens: &out, TotalTokens: &total},
	}}
	c := NewBedrockLLMClient(api, "anthropic.test-model")

	resp, err := c.Complete(context.Background(), LLMRequest{
		System:    []string{"be brief"},
		Messages:  []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
		MaxTokens: 64,
		JSON:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"greeting"}`, resp.Text)
	assert.Equal(t, TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "anthropic.test-model", *api.input.ModelId)
	assert.Len(t, api.input.System, 2)
	require.Len(t, api.input.Messages, 1)
	assert.Equal(t, int32(64), *api.input.InferenceConfig.MaxTokens)
}

func TestBedrockLLMClientRejectsEmptyOutput(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	_, err := NewBedrockLLMClient(api, "m").Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	assert.Error(t, err)
}
