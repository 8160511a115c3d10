package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/loan-sales-assistant/internal/archive"
	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// BuildArchiver wires the closed-conversation archive. It returns a nil
// archiver when no sink is configured, and the Postgres log (also nil when
// unconfigured) so callers can serve and close it.
func BuildArchiver(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, client conversation.LLMClient, logger *logging.Logger) (conversation.Archiver, *archive.PostgresLog, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sinks []archive.Sink
	if bucket := strings.TrimSpace(cfg.ArchiveBucket); bucket != "" {
		sinks = append(sinks, archive.NewS3Store(newS3Client(cfg, awsCfg), bucket, logger))
	}
	var pg *archive.PostgresLog
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		var err error
		if pg, err = archive.OpenPostgresLog(ctx, dsn); err != nil {
			return nil, nil, fmt.Errorf("bootstrap: archive log: %w", err)
		}
		sinks = append(sinks, pg)
	}

	a := archive.NewArchiver(archive.NewClassifier(client, "", logger), logger, sinks...)
	if !a.Enabled() {
		logger.Info("conversation archive disabled")
		return nil, pg, nil
	}
	logger.Info("conversation archive enabled", "sinks", len(sinks))
	return a, pg, nil
}
