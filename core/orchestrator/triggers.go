package orchestrator

import (
	"strings"
	"time"

	"bridgeguard/config"
	"bridgeguard/core/store"
)

// RiskSignal is the asset.risk.computed event from the scoring service.
// health_score is a degradation index: higher means worse condition, so
// a score at or above the threshold is a trigger on its own.
type RiskSignal struct {
	AssetID               string    `json:"asset_id"`
	RiskLevel             string    `json:"risk_level"`
	HealthScore           float64   `json:"health_score"`
	FailureProbability72h float64   `json:"failure_probability_72h"`
	AnomalyFlag           bool      `json:"anomaly_flag"`
	EvaluatedAt           time.Time `json:"evaluated_at"`
}

// ForecastSignal is the asset.failure.predicted event.
type ForecastSignal struct {
	AssetID               string    `json:"asset_id"`
	FailureProbability72h float64   `json:"failure_probability_72h"`
	GeneratedAt           time.Time `json:"generated_at"`
}

const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

func normalizeRiskLevel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// effectiveFailureProbability folds the most recent forecast into the
// probability carried on the signal itself, taking the forecast only
// when it is newer than the signal.
func effectiveFailureProbability(sig RiskSignal, forecast *store.AssetForecast) float64 {
	p := sig.FailureProbability72h
	if forecast != nil && forecast.GeneratedAt.After(sig.EvaluatedAt) && forecast.Probability > p {
		p = forecast.Probability
	}
	return p
}

// evaluateTrigger decides whether a signal opens an incident. Conditions
// are a logical OR; the first match names the trigger reason.
func evaluateTrigger(cfg config.TriggersConfig, sig RiskSignal, effectiveProb float64) (bool, string) {
	minHealth := cfg.MinHealthScore
	if minHealth <= 0 {
		minHealth = 0.70
	}
	minProb := cfg.MinFailureProbability
	if minProb <= 0 {
		minProb = 0.60
	}
	level := normalizeRiskLevel(sig.RiskLevel)
	switch level {
	case RiskHigh, RiskCritical:
		return true, "risk_level_" + level
	}
	if sig.HealthScore >= minHealth {
		return true, "health_score_threshold"
	}
	if effectiveProb >= minProb {
		return true, "failure_probability_threshold"
	}
	if sig.AnomalyFlag {
		switch level {
		case RiskModerate, RiskHigh, RiskCritical:
			return true, "anomaly_with_elevated_risk"
		}
	}
	return false, ""
}

// classifyPriority is deterministic in (risk_level, effective probability).
func classifyPriority(riskLevel string, effectiveProb float64) string {
	switch {
	case riskLevel == RiskCritical || effectiveProb >= 0.85:
		return store.PriorityCritical
	case riskLevel == RiskHigh || effectiveProb >= 0.70:
		return store.PriorityHigh
	case riskLevel == RiskModerate:
		return store.PriorityMedium
	default:
		return store.PriorityLow
	}
}
