package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/loan-sales-assistant/internal/agents"
	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// BuildLLMClient wires Gemini as the primary model and Bedrock as its
// fallback, behind the rate-limited retrying client. Either provider may be
// used alone. It returns nil when neither is configured; the driver then
// runs on the rule extractor and canned replies.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, m *metrics.ConversationMetrics, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var primary, fallback conversation.LLMClient
	model := ""
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, key, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		primary, model = gemini, cfg.GeminiModelID
	}
	if id := strings.TrimSpace(cfg.BedrockModelID); id != "" {
		bedrock := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), id)
		if primary == nil {
			primary, model = bedrock, id
		} else {
			fallback = bedrock
		}
	}
	if primary == nil {
		logger.Warn("no LLM configured; using rule extractor and canned replies")
		return nil, nil
	}

	client := primary
	if fallback != nil {
		client = conversation.NewFallbackLLMClient(primary, fallback, logger)
	}
	logger.Info("using LLM collaborators", "model", model, "fallback", fallback != nil)
	return conversation.NewRetryingLLMClient(client, conversation.RetryConfig{
		MaxRetries:    cfg.LLMMaxRetries,
		BackoffBase:   cfg.LLMBackoffBase,
		RatePerSecond: cfg.LLMRatePerSec,
		Timeout:       cfg.LLMTimeout,
		Model:         model,
	}, logger).WithMetrics(m), nil
}

// BuildRules loads the customer directory and the lending policy.
func BuildRules(cfg *appconfig.Config, logger *logging.Logger) (*agents.Set, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	dir, err := agents.LoadDirectory()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load directory: %w", err)
	}
	policy := agents.DefaultPolicy()
	if path := strings.TrimSpace(cfg.PolicyFile); path != "" {
		if policy, err = agents.LoadPolicy(path); err != nil {
			return nil, fmt.Errorf("bootstrap: load policy: %w", err)
		}
	}
	return agents.NewSet(dir, policy, logger), nil
}

// DriverOptions are the per-session driver settings shared by every
// frontend.
func DriverOptions(cfg *appconfig.Config, client conversation.LLMClient, archiver conversation.Archiver, m *metrics.ConversationMetrics, logger *logging.Logger) []conversation.DriverOption {
	opts := []conversation.DriverOption{
		conversation.WithLogger(logger),
		conversation.WithMetrics(m),
	}
	if cfg != nil {
		opts = append(opts,
			conversation.WithLoopGuardLimit(cfg.LoopGuardLimit),
			conversation.WithSyncWait(cfg.DriverSyncWait, 0),
		)
	}
	if client != nil {
		// Requests carry no model so each provider in the fallback chain
		// uses its own.
		opts = append(opts,
			conversation.WithExtractor(conversation.NewLLMExtractor(client, "", logger).WithFallback(conversation.RuleExtractor{})),
			conversation.WithResponder(conversation.NewLLMResponder(client, "")),
		)
	}
	if archiver != nil {
		opts = append(opts, conversation.WithArchiver(archiver))
	}
	return opts
}
