package abuse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainOnLabeledSamples(t *testing.T) {
	engine := testEngine(t, EngineConfig{})

	samples := []TrainingSample{
		// Clear abuse, correctly flagged.
		{Input: sharingInput(), Abusive: true},
		{Input: DetectionInput{VMDetected: true, DeviceTrustScore: 10, MinDeviceTrustScore: 50}, Abusive: true},
		// Clean traffic, correctly passed.
		{Input: DetectionInput{}, Abusive: false},
		{Input: DetectionInput{ConcurrentSessions: 2, MaxSimultaneousUsers: 3}, Abusive: false},
		// Abuse the detectors miss: single weak signal.
		{Input: DetectionInput{BulkEndpointCalls: 150}, Abusive: true},
	}

	result := engine.Train(context.Background(), samples)

	require.NotEmpty(t, result.ArtifactVersion)
	assert.Equal(t, 5, result.Samples)
	// 2 TP, 2 TN, 1 FN, 0 FP.
	assert.InDelta(t, 0.8, result.Accuracy, 0.001)
	assert.InDelta(t, 1.0, result.Precision, 0.001)
	assert.InDelta(t, 2.0/3.0, result.Recall, 0.001)
	assert.InDelta(t, 0.8, result.F1, 0.001)
	assert.Zero(t, result.FalsePositiveRate)
	assert.InDelta(t, 1.0/3.0, result.FalseNegativeRate, 0.001)
}

func TestTrainEmptySamplesIsZeroQuality(t *testing.T) {
	engine := testEngine(t, EngineConfig{})

	result := engine.Train(context.Background(), nil)
	assert.NotEmpty(t, result.ArtifactVersion)
	assert.Zero(t, result.Samples)
	assert.Zero(t, result.Accuracy)
	assert.Zero(t, result.F1)
}

func TestTrainCancelledContextIsZeroQuality(t *testing.T) {
	engine := testEngine(t, EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := engine.Train(ctx, []TrainingSample{{Input: sharingInput(), Abusive: true}})
	assert.NotEmpty(t, result.ArtifactVersion)
	assert.Zero(t, result.Accuracy)
}
