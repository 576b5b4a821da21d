package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/stratoroute/model-broker/internal/types"
)

// DefaultHistorySize bounds the per-(provider, model) outcome window.
const DefaultHistorySize = 200

// penaltyRecoverySamples is how many fresh outcomes must arrive before a
// drift-imposed confidence penalty is lifted.
const penaltyRecoverySamples = 20

type sample struct {
	costErr    float64 // |actual-predicted|/predicted
	latencyErr float64
	qualityErr float64
	hasQuality bool
	success    bool
	costRatio  float64 // actual/predicted, for correction factors
	latRatio   float64
	at         time.Time
}

// history is a bounded window with running sums so metrics recompute
// incrementally as outcomes arrive and old entries are evicted.
type history struct {
	samples []sample
	max     int

	sumCostErr    float64
	costMean      float64 // Welford running mean of costErr
	costM2        float64 // Welford sum of squared deviations
	sumLatErr     float64
	sumQualErr    float64
	qualCount     int
	successCount  int
	sumCostRatio  float64
	sumLatRatio   float64
	ratioCount    int
	penalty       float64
	penaltyLeft   int // samples remaining until the penalty lifts
	updatedAt     time.Time
}

func (h *history) add(s sample) {
	if len(h.samples) >= h.max {
		old := h.samples[0]
		n := float64(len(h.samples))
		h.samples = h.samples[1:]
		h.sumCostErr -= old.costErr
		// Reverse Welford update. Constant inputs keep the mean and M2 at
		// exactly zero deviation, where a sumSq running total accumulates
		// float residue.
		if n > 1 {
			newMean := h.costMean - (old.costErr-h.costMean)/(n-1)
			h.costM2 -= (old.costErr - h.costMean) * (old.costErr - newMean)
			h.costMean = newMean
		} else {
			h.costMean, h.costM2 = 0, 0
		}
		h.sumLatErr -= old.latencyErr
		if old.hasQuality {
			h.sumQualErr -= old.qualityErr
			h.qualCount--
		}
		if old.success {
			h.successCount--
		}
		if old.costRatio > 0 {
			h.sumCostRatio -= old.costRatio
			h.sumLatRatio -= old.latRatio
			h.ratioCount--
		}
	}

	h.samples = append(h.samples, s)
	h.sumCostErr += s.costErr
	delta := s.costErr - h.costMean
	h.costMean += delta / float64(len(h.samples))
	h.costM2 += delta * (s.costErr - h.costMean)
	h.sumLatErr += s.latencyErr
	if s.hasQuality {
		h.sumQualErr += s.qualityErr
		h.qualCount++
	}
	if s.success {
		h.successCount++
	}
	if s.costRatio > 0 {
		h.sumCostRatio += s.costRatio
		h.sumLatRatio += s.latRatio
		h.ratioCount++
	}
	h.updatedAt = s.at

	if h.penaltyLeft > 0 {
		h.penaltyLeft--
		if h.penaltyLeft == 0 {
			h.penalty = 0
		}
	}
}

func (h *history) metrics(provider, model string) *types.AccuracyMetrics {
	n := len(h.samples)
	m := &types.AccuracyMetrics{
		Provider:   provider,
		Model:      model,
		SampleSize: n,
		UpdatedAt:  h.updatedAt,
	}
	if n == 0 {
		return m
	}

	fn := float64(n)
	m.CostAccuracy = clamp01(1 - h.sumCostErr/fn)
	m.LatencyAccuracy = clamp01(1 - h.sumLatErr/fn)
	m.SuccessRate = float64(h.successCount) / fn
	if h.qualCount > 0 {
		m.QualityAccuracy = clamp01(1 - h.sumQualErr/float64(h.qualCount))
	} else {
		m.QualityAccuracy = 1
	}

	// 95% interval half-width on the cost error mean.
	if n > 1 {
		variance := h.costM2 / fn
		if variance > 0 {
			m.ConfidenceInterval = 1.96 * math.Sqrt(variance/fn)
		}
	}

	return m
}

// Tracker maintains accuracy windows for every (provider, model) pair and
// derives the calibration signals the predictor reads.
type Tracker struct {
	mu          sync.RWMutex
	histories   map[string]*history
	historySize int
}

// NewTracker creates a tracker with the given window size per pair.
func NewTracker(historySize int) *Tracker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Tracker{
		histories:   make(map[string]*history),
		historySize: historySize,
	}
}

func pairKey(provider, model string) string { return provider + "/" + model }

// Observe folds one outcome into the pair's window.
func (t *Tracker) Observe(o *types.ExecutionOutcome) {
	s := sample{
		success: o.Success,
		at:      o.Timestamp,
	}
	if s.at.IsZero() {
		s.at = time.Now()
	}

	if o.PredictedCost > 0 {
		s.costErr = math.Abs(o.Cost-o.PredictedCost) / o.PredictedCost
		s.costRatio = o.Cost / o.PredictedCost
	}
	if o.PredictedLatencyMs > 0 {
		s.latencyErr = math.Abs(o.LatencyMs-o.PredictedLatencyMs) / o.PredictedLatencyMs
		s.latRatio = o.LatencyMs / o.PredictedLatencyMs
	}
	if o.QualityScore != nil && o.PredictedQuality > 0 {
		s.qualityErr = math.Abs(*o.QualityScore-o.PredictedQuality) / o.PredictedQuality
		s.hasQuality = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := pairKey(o.Provider, o.Model)
	h, ok := t.histories[key]
	if !ok {
		h = &history{max: t.historySize}
		t.histories[key] = h
	}
	h.add(s)
}

// Metrics returns the current window snapshot for a pair.
func (t *Tracker) Metrics(provider, model string) *types.AccuracyMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok {
		return &types.AccuracyMetrics{Provider: provider, Model: model}
	}
	return h.metrics(provider, model)
}

// AllMetrics snapshots every tracked pair.
func (t *Tracker) AllMetrics() []*types.AccuracyMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.AccuracyMetrics, 0, len(t.histories))
	for key, h := range t.histories {
		provider, model := splitPairKey(key)
		out = append(out, h.metrics(provider, model))
	}
	return out
}

// CostFactor is the learned multiplicative correction on static cost
// estimates: mean(actual/predicted), clamped. 1.0 means unbiased.
func (t *Tracker) CostFactor(provider, model string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok || h.ratioCount == 0 {
		return 1.0
	}
	return clampFactor(h.sumCostRatio / float64(h.ratioCount))
}

// LatencyFactor is the learned correction on static latency estimates.
func (t *Tracker) LatencyFactor(provider, model string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok || h.ratioCount == 0 {
		return 1.0
	}
	return clampFactor(h.sumLatRatio / float64(h.ratioCount))
}

// QualitySignal is the rolling quality-accuracy value blended into quality
// predictions.
func (t *Tracker) QualitySignal(provider, model string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok || h.qualCount == 0 {
		return 1.0
	}
	return clamp01(1 - h.sumQualErr/float64(h.qualCount))
}

// SampleCount returns how many outcomes the pair's window holds.
func (t *Tracker) SampleCount(provider, model string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok {
		return 0
	}
	return len(h.samples)
}

// ConfidencePenalty returns the drift-imposed penalty in [0,1) subtracted
// from prediction confidence for the pair.
func (t *Tracker) ConfidencePenalty(provider, model string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.histories[pairKey(provider, model)]
	if !ok {
		return 0
	}
	return h.penalty
}

// PenalizeConfidence marks a pair as drifting. The penalty lifts after
// enough new outcomes arrive to re-establish trust.
func (t *Tracker) PenalizeConfidence(provider, model string, penalty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pairKey(provider, model)
	h, ok := t.histories[key]
	if !ok {
		h = &history{max: t.historySize}
		t.histories[key] = h
	}
	h.penalty = clamp01(penalty)
	h.penaltyLeft = penaltyRecoverySamples
}

func splitPairKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFactor(v float64) float64 {
	if v < 0.5 {
		return 0.5
	}
	if v > 2.0 {
		return 2.0
	}
	return v
}
