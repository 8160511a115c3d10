package verifier

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Scorer assigns a confidence in [0, 1] to an uploaded document.
type Scorer interface {
	Score(ctx context.Context, doc loan.DocumentUpload, details loan.Details) (float64, error)
}

type modifierRange struct{ lo, hi float64 }

var typeModifiers = map[string]modifierRange{
	loan.DocIncomeTaxReturn: {0.10, 0.20},
	loan.DocSalarySlip:      {0.05, 0.15},
	loan.DocBankStatement:   {0.00, 0.10},
	loan.DocForm16:          {0.10, 0.20},
}

var defaultModifier = modifierRange{-0.10, 0.10}

// WeightedRandomScorer simulates OCR confidence: a uniform base in
// [0.4, 0.9] plus a per-type modifier, clamped to [0, 1].
type WeightedRandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedRandomScorer(seed int64) *WeightedRandomScorer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &WeightedRandomScorer{rng: rand.New(rand.NewSource(seed))}
}

func (s *WeightedRandomScorer) Score(_ context.Context, doc loan.DocumentUpload, _ loan.Details) (float64, error) {
	mod, ok := typeModifiers[doc.Type]
	if !ok {
		mod = defaultModifier
	}
	s.mu.Lock()
	base := 0.4 + s.rng.Float64()*0.5
	adj := mod.lo + s.rng.Float64()*(mod.hi-mod.lo)
	s.mu.Unlock()
	return clamp(base + adj), nil
}

// FixedScorer returns the same confidence for every document.
type FixedScorer float64

func (f FixedScorer) Score(context.Context, loan.DocumentUpload, loan.Details) (float64, error) {
	return clamp(float64(f)), nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// HasUnverifiedDocuments reports whether any upload is waiting for a score.
func HasUnverifiedDocuments(s *loan.State) bool {
	if s == nil {
		return false
	}
	for _, doc := range s.DocumentUploads {
		if !doc.Scored() {
			return true
		}
	}
	return false
}

// DocumentVerifier scores pending income proof uploads.
type DocumentVerifier struct {
	scorer  Scorer
	logger  *logging.Logger
	metrics *metrics.WorkerMetrics
	now     func() time.Time
}

func NewDocumentVerifier(scorer Scorer, logger *logging.Logger) *DocumentVerifier {
	if scorer == nil {
		scorer = NewWeightedRandomScorer(0)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DocumentVerifier{
		scorer: scorer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (v *DocumentVerifier) WithMetrics(m *metrics.WorkerMetrics) *DocumentVerifier {
	v.metrics = m
	return v
}

func (v *DocumentVerifier) Name() string { return "document-verifier" }

// Cycle checks the snapshot without locking and only takes the update path
// when there is something to score.
func (v *DocumentVerifier) Cycle(ctx context.Context, store statestore.Store) (bool, error) {
	current, err := store.Load(ctx, nil)
	if err != nil {
		return false, err
	}
	if !HasUnverifiedDocuments(current) {
		return false, nil
	}
	_, changed, err := store.Update(ctx, nil, func(s *loan.State) (bool, error) {
		return v.Verify(ctx, s)
	})
	return changed, err
}

// Verify scores every pending upload in s, recomputes the derived
// verification flags and appends a summary message. Already scored
// documents are left alone, so a second call is a no-op.
func (v *DocumentVerifier) Verify(ctx context.Context, s *loan.State) (bool, error) {
	pending := s.PendingDocuments()
	if len(pending) == 0 {
		return false, nil
	}
	now := v.now()
	for _, id := range pending {
		doc := s.DocumentUploads[id]
		score, err := v.scorer.Score(ctx, doc, s.CustomerDetails)
		if err != nil {
			return false, fmt.Errorf("verifier: score %s: %w", doc.Type, err)
		}
		score = clamp(score)
		doc.Confidence = score
		doc.Verified = score >= loan.VerifiedThreshold
		if doc.Verified {
			doc.Status = loan.DocumentApproved
		} else {
			doc.Status = loan.DocumentRejected
		}
		scoredAt := now
		doc.VerifiedAt = &scoredAt
		s.DocumentUploads[id] = doc
		v.metrics.ObserveDocumentScored(doc.Type, doc.Verified)
		v.logger.Info("document scored", "session_id", s.SessionID, "document_id", id, "document_type", doc.Type, "confidence", score, "verified", doc.Verified)
	}

	s.RecomputeDerived()
	s.AddMessage(loan.RoleAssistant, summary(s))
	return true, nil
}

func summary(s *loan.State) string {
	proof := s.IncomeProof
	if proof == nil {
		return "Your documents could not be verified. Please upload clearer documents."
	}
	types := make([]string, 0, len(proof.ByType))
	for t := range proof.ByType {
		types = append(types, strings.ReplaceAll(t, "_", " "))
	}
	sort.Strings(types)
	if proof.Verified {
		return fmt.Sprintf("Your documents (%s) were verified successfully with overall confidence score of %.2f.",
			strings.Join(types, ", "), proof.Confidence)
	}
	return fmt.Sprintf("Your documents (%s) could not be verified (confidence %.2f). Please upload clearer documents.",
		strings.Join(types, ", "), proof.Confidence)
}
