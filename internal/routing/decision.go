package routing

import (
	"fmt"
	"math"
	"sort"

	"github.com/stratoroute/model-broker/internal/types"
)

// balanced scoring weights. Quality gets the largest share because cost and
// latency already have dedicated strategies.
const (
	balancedCostWeight    = 0.3
	balancedLatencyWeight = 0.3
	balancedQualityWeight = 0.4
)

// filterByConstraints drops candidates whose predictions violate the
// request's hard constraints. A candidate either satisfies every bound or it
// is out, there is no soft penalty.
func filterByConstraints(candidates []types.CandidatePrediction, constraints *types.RoutingConstraints) ([]types.CandidatePrediction, []string) {
	if constraints == nil {
		return candidates, nil
	}

	var kept []types.CandidatePrediction
	var reasons []string

	for _, c := range candidates {
		if constraints.MaxCost != nil && c.PredictedCost > *constraints.MaxCost {
			reasons = append(reasons, fmt.Sprintf("%s/%s excluded: predicted cost $%.6f exceeds limit $%.6f", c.Provider, c.Model, c.PredictedCost, *constraints.MaxCost))
			continue
		}
		if constraints.MinQuality != nil && c.PredictedQuality < *constraints.MinQuality {
			reasons = append(reasons, fmt.Sprintf("%s/%s excluded: predicted quality %.2f below minimum %.2f", c.Provider, c.Model, c.PredictedQuality, *constraints.MinQuality))
			continue
		}
		if constraints.MaxResponseTimeMs != nil && c.PredictedLatencyMs > float64(*constraints.MaxResponseTimeMs) {
			reasons = append(reasons, fmt.Sprintf("%s/%s excluded: predicted latency %.0fms exceeds limit %dms", c.Provider, c.Model, c.PredictedLatencyMs, *constraints.MaxResponseTimeMs))
			continue
		}
		kept = append(kept, c)
	}

	return kept, reasons
}

// providerAllowed applies the request's provider include/exclude lists.
func providerAllowed(provider string, constraints *types.RoutingConstraints) bool {
	if constraints == nil {
		return true
	}
	for _, excluded := range constraints.ExcludeProviders {
		if provider == excluded {
			return false
		}
	}
	if len(constraints.PreferredProviders) > 0 {
		for _, preferred := range constraints.PreferredProviders {
			if provider == preferred {
				return true
			}
		}
		return false
	}
	return true
}

// scoreCandidates assigns a strategy score to each candidate in place.
func scoreCandidates(candidates []types.CandidatePrediction, strategy types.OptimizationType) {
	switch strategy {
	case types.OptimizeCost:
		for i := range candidates {
			candidates[i].Score = inverseScore(candidates[i].PredictedCost)
		}
	case types.OptimizeSpeed:
		for i := range candidates {
			candidates[i].Score = inverseScore(candidates[i].PredictedLatencyMs)
		}
	case types.OptimizeQuality:
		for i := range candidates {
			candidates[i].Score = candidates[i].PredictedQuality
		}
	default:
		scoreBalanced(candidates)
	}
}

// scoreBalanced blends normalized cost, latency, and quality signals. Cost
// and latency are inverted first so that higher is always better.
func scoreBalanced(candidates []types.CandidatePrediction) {
	if len(candidates) == 0 {
		return
	}

	costScores := make([]float64, len(candidates))
	latencyScores := make([]float64, len(candidates))
	for i, c := range candidates {
		costScores[i] = inverseScore(c.PredictedCost)
		latencyScores[i] = inverseScore(c.PredictedLatencyMs)
	}

	normalize(costScores)
	normalize(latencyScores)

	for i := range candidates {
		candidates[i].Score = balancedCostWeight*costScores[i] +
			balancedLatencyWeight*latencyScores[i] +
			balancedQualityWeight*candidates[i].PredictedQuality
	}
}

// inverseScore maps a cost-like value to a higher-is-better score. Zero cost
// (local inference) gets the maximum.
func inverseScore(v float64) float64 {
	if v <= 0 {
		return math.MaxFloat64
	}
	return 1.0 / v
}

// normalize rescales values to [0, 1] using min/max. Uniform inputs all map
// to 1 so they contribute equally.
func normalize(values []float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range values {
			values[i] = 1.0
		}
		return
	}
	for i := range values {
		values[i] = (values[i] - min) / (max - min)
	}
}

// rankCandidates orders candidates best-first. Ties on score break toward
// the lower predicted cost, then alphabetical provider name, so rankings are
// stable across runs.
func rankCandidates(candidates []types.CandidatePrediction) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].PredictedCost != candidates[j].PredictedCost {
			return candidates[i].PredictedCost < candidates[j].PredictedCost
		}
		return candidates[i].Provider < candidates[j].Provider
	})
}

// strategyName maps the optimization preference to the strategy label
// reported in routing decisions.
func strategyName(opt types.OptimizationType) string {
	switch opt {
	case types.OptimizeCost:
		return "cost_optimized"
	case types.OptimizeSpeed:
		return "speed_optimized"
	case types.OptimizeQuality:
		return "quality_optimized"
	default:
		return "balanced"
	}
}
