package abuse

import "fmt"

// detectorFunc is a pure function of its input. Detectors never perform
// I/O so they can be exercised deterministically in tests.
type detectorFunc func(input DetectionInput) DetectorResult

// detectors lists every detector in the engine, keyed by abuse type.
var detectors = map[Type]detectorFunc{
	TypeLicenseSharing:    detectLicenseSharing,
	TypeUsageAnomaly:      detectUsageAnomaly,
	TypeDeviceFraud:       detectDeviceFraud,
	TypeSubscriptionFraud: detectSubscriptionFraud,
	TypeAccountAbuse:      detectAccountAbuse,
	TypeBehaviorAnalysis:  detectBehaviorAnalysis,
}

// finish clamps the score, applies the detection threshold, and fills in
// the derived severity and confidence buckets.
func finish(t Type, score, threshold float64, evidence []Evidence) DetectorResult {
	score = clampScore(score)

	var meanConfidence float64
	if len(evidence) > 0 {
		var sum float64
		for _, e := range evidence {
			sum += e.Confidence
		}
		meanConfidence = sum / float64(len(evidence))
	}

	return DetectorResult{
		Type:       t,
		Detected:   score >= threshold,
		RiskScore:  score,
		Severity:   SeverityForScore(score),
		Confidence: confidenceFor(meanConfidence, score),
		Evidence:   evidence,
	}
}

func detectLicenseSharing(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.MaxSimultaneousUsers > 0 && in.ConcurrentSessions > in.MaxSimultaneousUsers {
		score += 30
		evidence = append(evidence, Evidence{
			Signal:      "concurrent_sessions",
			Description: fmt.Sprintf("%d concurrent sessions exceed the limit of %d", in.ConcurrentSessions, in.MaxSimultaneousUsers),
			Confidence:  0.9,
		})
	}
	if in.LocationVarianceThreshold > 0 && in.LocationVariance > in.LocationVarianceThreshold {
		score += 25
		evidence = append(evidence, Evidence{
			Signal:      "location_variance",
			Description: fmt.Sprintf("geographic variance %.0f exceeds threshold %.0f", in.LocationVariance, in.LocationVarianceThreshold),
			Confidence:  0.8,
		})
	}
	if in.MaxDevicesPerLicense > 0 && in.DeviceCount > in.MaxDevicesPerLicense {
		score += 20
		evidence = append(evidence, Evidence{
			Signal:      "device_count",
			Description: fmt.Sprintf("license active on %d devices, limit is %d", in.DeviceCount, in.MaxDevicesPerLicense),
			Confidence:  0.85,
		})
	}

	return finish(TypeLicenseSharing, score, 50, evidence)
}

func detectUsageAnomaly(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.LoginFrequencyDeviation > 0 {
		score += in.LoginFrequencyDeviation * 0.30
		evidence = append(evidence, Evidence{
			Signal:      "login_frequency",
			Description: fmt.Sprintf("login frequency deviates %.0f points from the user baseline", in.LoginFrequencyDeviation),
			Confidence:  0.7,
		})
	}
	if in.BaselineSessionHours > 0 && in.SessionDurationHours > 3*in.BaselineSessionHours {
		score += 15
		evidence = append(evidence, Evidence{
			Signal:      "session_duration",
			Description: fmt.Sprintf("session of %.1fh exceeds 3x the %.1fh baseline", in.SessionDurationHours, in.BaselineSessionHours),
			Confidence:  0.75,
		})
	}
	if in.APICallRateThreshold > 0 && in.APICallRate > in.APICallRateThreshold {
		score += 20
		evidence = append(evidence, Evidence{
			Signal:      "api_call_rate",
			Description: fmt.Sprintf("API call rate %.0f/min exceeds threshold %.0f/min", in.APICallRate, in.APICallRateThreshold),
			Confidence:  0.8,
		})
	}

	return finish(TypeUsageAnomaly, score, 40, evidence)
}

func detectDeviceFraud(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.VMDetected {
		score += 40
		evidence = append(evidence, Evidence{
			Signal:      "virtual_machine",
			Description: "device reports virtual machine or emulator signatures",
			Confidence:  0.85,
		})
	}
	if in.MinDeviceTrustScore > 0 && in.DeviceTrustScore < in.MinDeviceTrustScore {
		score += 25
		evidence = append(evidence, Evidence{
			Signal:      "device_trust",
			Description: fmt.Sprintf("device trust score %.0f is below the minimum %.0f", in.DeviceTrustScore, in.MinDeviceTrustScore),
			Confidence:  0.7,
		})
	}
	if in.MaxActivationsPerHour > 0 && in.RecentActivations > in.MaxActivationsPerHour {
		score += 35
		evidence = append(evidence, Evidence{
			Signal:      "activation_rate",
			Description: fmt.Sprintf("%d activations in the last hour, limit is %d", in.RecentActivations, in.MaxActivationsPerHour),
			Confidence:  0.9,
		})
	}

	return finish(TypeDeviceFraud, score, 45, evidence)
}

func detectSubscriptionFraud(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.NetworkReputation == "critical" {
		score += 30
		evidence = append(evidence, Evidence{
			Signal:      "network_reputation",
			Description: "request origin network has a critical abuse reputation",
			Confidence:  0.8,
		})
	}
	if in.VPNDetected && in.ProxyDetected {
		score += 20
		evidence = append(evidence, Evidence{
			Signal:      "vpn_proxy",
			Description: "simultaneous VPN and proxy usage detected",
			Confidence:  0.65,
		})
	}

	return finish(TypeSubscriptionFraud, score, 35, evidence)
}

func detectAccountAbuse(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.BulkEndpointCalls > 100 {
		score += 15
		evidence = append(evidence, Evidence{
			Signal:      "bulk_operations",
			Description: fmt.Sprintf("%d calls against a single endpoint", in.BulkEndpointCalls),
			Confidence:  0.75,
		})
	}
	if in.ActivityAnomalyScore > 70 {
		score += in.ActivityAnomalyScore * 0.20
		evidence = append(evidence, Evidence{
			Signal:      "activity_anomaly",
			Description: fmt.Sprintf("activity anomaly score %.0f", in.ActivityAnomalyScore),
			Confidence:  0.7,
		})
	}

	return finish(TypeAccountAbuse, score, 25, evidence)
}

func detectBehaviorAnalysis(in DetectionInput) DetectorResult {
	var score float64
	var evidence []Evidence

	if in.SessionPatternScore > 60 {
		score += in.SessionPatternScore * 0.25
		evidence = append(evidence, Evidence{
			Signal:      "session_pattern",
			Description: fmt.Sprintf("irregular session pattern score %.0f", in.SessionPatternScore),
			Confidence:  0.65,
		})
	}
	if in.NetworkBehaviorScore > 50 {
		score += in.NetworkBehaviorScore * 0.30
		evidence = append(evidence, Evidence{
			Signal:      "network_behavior",
			Description: fmt.Sprintf("suspicious network behavior score %.0f", in.NetworkBehaviorScore),
			Confidence:  0.7,
		})
	}

	return finish(TypeBehaviorAnalysis, score, 30, evidence)
}
