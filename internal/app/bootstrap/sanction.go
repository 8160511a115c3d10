package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/notify"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/sanction"
	"github.com/wolfman30/loan-sales-assistant/internal/worker/verifier"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

const letterIssuer = "Loan Desk"

// BuildLetterStore keeps sanction letters in S3 when a bucket is
// configured and under cfg.DocumentDir otherwise.
func BuildLetterStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) sanction.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if bucket := strings.TrimSpace(cfg.DocumentBucket); bucket != "" {
		logger.Info("storing sanction letters in s3", "bucket", bucket)
		return sanction.NewS3Store(newS3Client(cfg, awsCfg), bucket, logger)
	}
	logger.Info("storing sanction letters on disk", "dir", cfg.DocumentDir)
	return sanction.NewLocalStore(cfg.DocumentDir)
}

// newS3Client uses path-style addressing against an endpoint override such
// as LocalStack.
func newS3Client(cfg *appconfig.Config, awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
}

// BuildEmailSender prefers SendGrid, then SES, and logs instead of sending
// when neither is configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		logger.Info("sending email via sendgrid")
		return sg
	}
	if from := strings.TrimSpace(cfg.SESFromEmail); from != "" {
		logger.Info("sending email via ses", "from", from)
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: from,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	logger.Warn("no email provider configured; sanction emails are logged only")
	return notify.NewStubEmailSender(logger)
}

// BuildSanctionTrigger wires the letter generator, its store and the
// customer notification.
func BuildSanctionTrigger(cfg *appconfig.Config, awsCfg aws.Config, m *metrics.WorkerMetrics, logger *logging.Logger) *verifier.SanctionTrigger {
	store := BuildLetterStore(cfg, awsCfg, logger)
	return verifier.NewSanctionTrigger(sanction.NewGenerator(store, letterIssuer, logger), logger).
		WithNotifier(notify.NewSanctionNotifier(BuildEmailSender(cfg, awsCfg, logger), logger)).
		WithMetrics(m)
}
