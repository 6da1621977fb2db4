package abuse

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TrainingSample is one labeled telemetry snapshot.
type TrainingSample struct {
	Input   DetectionInput `json:"input"`
	Abusive bool           `json:"abusive"`
}

// TrainingResult reports how the current detector set performs against a
// labeled sample set. ArtifactVersion identifies the evaluation run.
type TrainingResult struct {
	ArtifactVersion   string    `json:"artifactVersion"`
	Samples           int       `json:"samples"`
	Accuracy          float64   `json:"accuracy"`
	Precision         float64   `json:"precision"`
	Recall            float64   `json:"recall"`
	F1                float64   `json:"f1"`
	FalsePositiveRate float64   `json:"falsePositiveRate"`
	FalseNegativeRate float64   `json:"falseNegativeRate"`
	TrainedAt         time.Time `json:"trainedAt"`
}

// Train evaluates the detector set against labeled samples and reports
// quality metrics. It never returns an error: an unusable sample set
// yields a zero-quality result so callers are isolated from pipeline
// instability.
func (e *Engine) Train(ctx context.Context, samples []TrainingSample) (result TrainingResult) {
	result = TrainingResult{
		ArtifactVersion: uuid.NewString(),
		Samples:         len(samples),
		TrainedAt:       e.now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().Any("panic", r).Msg("training run failed, returning zero-quality result")
			result = TrainingResult{
				ArtifactVersion: result.ArtifactVersion,
				Samples:         len(samples),
				TrainedAt:       result.TrainedAt,
			}
		}
	}()

	if len(samples) == 0 {
		return result
	}

	var tp, tn, fp, fn float64
	for _, sample := range samples {
		if ctx.Err() != nil {
			e.logger.Warn().Msg("training cancelled, returning zero-quality result")
			return TrainingResult{ArtifactVersion: result.ArtifactVersion, Samples: len(samples), TrainedAt: result.TrainedAt}
		}

		predicted := false
		for _, detect := range detectors {
			if detect(sample.Input).Detected {
				predicted = true
				break
			}
		}

		switch {
		case predicted && sample.Abusive:
			tp++
		case predicted && !sample.Abusive:
			fp++
		case !predicted && sample.Abusive:
			fn++
		default:
			tn++
		}
	}

	total := tp + tn + fp + fn
	result.Accuracy = (tp + tn) / total
	if tp+fp > 0 {
		result.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		result.Recall = tp / (tp + fn)
	}
	if result.Precision+result.Recall > 0 {
		result.F1 = 2 * result.Precision * result.Recall / (result.Precision + result.Recall)
	}
	if fp+tn > 0 {
		result.FalsePositiveRate = fp / (fp + tn)
	}
	if fn+tp > 0 {
		result.FalseNegativeRate = fn / (fn + tp)
	}

	e.logger.Info().
		Str("artifact", result.ArtifactVersion).
		Int("samples", result.Samples).
		Float64("accuracy", result.Accuracy).
		Msg("training run complete")

	return result
}
