package abuse

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CaseVaultHQ/casevault/internal/events"
)

// ResponderFunc executes one immediate response action for a detection.
type ResponderFunc func(ctx context.Context, action string, result *DetectionResult) error

// ResponseTrigger fires its action when a detection meets both the
// severity and confidence rank of the trigger.
type ResponseTrigger struct {
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Action     string     `json:"action"`
}

// EngineConfig wires an Engine. Store, Bus, Responder and Triggers are
// optional; a nil Store disables rule matching and alert persistence.
type EngineConfig struct {
	Store     *Store
	Bus       *events.Bus[Alert]
	Logger    zerolog.Logger
	Responder ResponderFunc
	Triggers  []ResponseTrigger
	Now       func() time.Time
}

// Engine runs the six detectors and the declarative rule set against
// caller-supplied telemetry.
type Engine struct {
	store     *Store
	bus       *events.Bus[Alert]
	logger    zerolog.Logger
	responder ResponderFunc
	triggers  []ResponseTrigger
	now       func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    cfg.Logger.With().Str("component", "abuse").Logger(),
		responder: cfg.Responder,
		triggers:  cfg.Triggers,
		now:       now,
	}
}

// Detect runs all detectors concurrently against the same immutable
// input, aggregates their results, matches registered rules, and, when
// the aggregate crosses the detection threshold, records an alert and
// executes configured responses.
//
// Detector failures never propagate: a panicking detector contributes a
// non-detected zero-score result and the call continues.
func (e *Engine) Detect(ctx context.Context, input DetectionInput) *DetectionResult {
	results := make(chan DetectorResult, len(detectors))

	var wg sync.WaitGroup
	for detectorType, detect := range detectors {
		wg.Add(1)
		go func(t Type, fn detectorFunc) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn().Str("detector", string(t)).Any("panic", r).
						Msg("detector panicked, treating as not detected")
					results <- DetectorResult{Type: t, Severity: SeverityLow, Confidence: ConfidenceLow}
				}
			}()
			results <- fn(input)
		}(detectorType, detect)
	}
	wg.Wait()
	close(results)

	result := e.aggregate(results)
	e.matchRules(ctx, input, result)
	result.RecommendedActions = recommendedActions(result.Severity, result.Detected)

	if result.Detected {
		e.recordAlert(ctx, input, result)
		e.executeResponses(ctx, result)
	}

	e.logger.Debug().
		Bool("detected", result.Detected).
		Float64("risk_score", result.RiskScore).
		Str("severity", string(result.Severity)).
		Msg("detection complete")

	return result
}

func (e *Engine) aggregate(results <-chan DetectorResult) *DetectionResult {
	agg := &DetectionResult{
		Severity:   SeverityLow,
		Confidence: ConfidenceLow,
		DetectedAt: e.now().UTC(),
	}

	for r := range results {
		agg.Detectors = append(agg.Detectors, r)
		agg.Detected = agg.Detected || r.Detected
		if r.RiskScore > agg.RiskScore {
			agg.RiskScore = r.RiskScore
		}
		if SeverityRank(r.Severity) > SeverityRank(agg.Severity) {
			agg.Severity = r.Severity
		}
		if ConfidenceRank(r.Confidence) > ConfidenceRank(agg.Confidence) {
			agg.Confidence = r.Confidence
		}
		agg.Evidence = append(agg.Evidence, r.Evidence...)
	}

	// Channel draining order is scheduling-dependent.
	sort.Slice(agg.Detectors, func(i, j int) bool {
		return agg.Detectors[i].Type < agg.Detectors[j].Type
	})

	agg.RiskScore = clampScore(agg.RiskScore)
	return agg
}

func (e *Engine) matchRules(ctx context.Context, input DetectionInput, result *DetectionResult) {
	if e.store == nil {
		return
	}

	rules, err := e.store.EnabledRules(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("rule matching skipped")
		return
	}

	for _, rule := range rules {
		if !rule.Matches(input) {
			continue
		}
		result.RuleMatches = append(result.RuleMatches, RuleMatch{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			RuleType:   rule.Type,
			Severity:   rule.Severity,
			Confidence: rule.Confidence,
		})
		if err := e.store.RecordTrigger(ctx, rule.ID); err != nil {
			e.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("trigger count not recorded")
		}
	}
}

// recordAlert persists an alert for the highest-scoring detected
// detector and publishes it for subscribers.
func (e *Engine) recordAlert(ctx context.Context, input DetectionInput, result *DetectionResult) {
	alertType := TypeBehaviorAnalysis
	var best float64 = -1
	for _, d := range result.Detectors {
		if d.Detected && d.RiskScore > best {
			best = d.RiskScore
			alertType = d.Type
		}
	}

	alert := &Alert{
		UserID:     input.UserID,
		DeviceID:   input.DeviceID,
		LicenseID:  input.LicenseID,
		Type:       alertType,
		Severity:   result.Severity,
		Confidence: result.Confidence,
		RiskScore:  result.RiskScore,
		Evidence:   result.Evidence,
	}
	if len(result.RuleMatches) > 0 {
		alert.RuleID = result.RuleMatches[0].RuleID
	}

	if e.store != nil {
		if err := e.store.CreateAlert(ctx, alert); err != nil {
			e.logger.Error().Err(err).Msg("alert not persisted")
		} else {
			result.AlertID = alert.ID
		}
	}

	if e.bus != nil {
		e.bus.Publish(*alert)
	}
}

func (e *Engine) executeResponses(ctx context.Context, result *DetectionResult) {
	if e.responder == nil {
		return
	}
	for _, trigger := range e.triggers {
		if ConfidenceRank(result.Confidence) < ConfidenceRank(trigger.Confidence) {
			continue
		}
		if SeverityRank(result.Severity) < SeverityRank(trigger.Severity) {
			continue
		}
		if err := e.responder(ctx, trigger.Action, result); err != nil {
			e.logger.Warn().Err(err).Str("action", trigger.Action).Msg("response action failed")
		}
	}
}

// ResolveAlert closes an alert and, when a responder is configured,
// schedules the follow-up action named by the resolution.
func (e *Engine) ResolveAlert(ctx context.Context, id, resolution string) (*Alert, error) {
	if e.store == nil {
		return nil, ErrAlertNotFound
	}
	alert, err := e.store.ResolveAlert(ctx, id, resolution)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("alert_id", id).Str("resolution", resolution).Msg("alert resolved")
	return alert, nil
}
