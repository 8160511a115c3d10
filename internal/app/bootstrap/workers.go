package bootstrap

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/internal/worker/verifier"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Worker names accepted by BuildRunners.
const (
	WorkerDocuments = "documents"
	WorkerSanction  = "sanction"
)

// BuildRunners builds a polling runner per named worker over source, both
// workers when none are named.
func BuildRunners(cfg *appconfig.Config, awsCfg aws.Config, source statestore.Source, m *metrics.WorkerMetrics, logger *logging.Logger, workers ...string) []*verifier.Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if len(workers) == 0 {
		workers = []string{WorkerDocuments, WorkerSanction}
	}

	runners := make([]*verifier.Runner, 0, len(workers))
	for _, name := range workers {
		var task verifier.Task
		switch name {
		case WorkerDocuments:
			seed := int64(cfg.VerifierSeed)
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			task = verifier.NewDocumentVerifier(verifier.NewWeightedRandomScorer(seed), logger).WithMetrics(m)
		case WorkerSanction:
			task = BuildSanctionTrigger(cfg, awsCfg, m, logger)
		default:
			logger.Warn("unknown worker, skipping", "worker", name)
			continue
		}
		runners = append(runners, verifier.NewRunner(source, task, logger).WithInterval(cfg.PollInterval).WithMetrics(m))
	}
	return runners
}
