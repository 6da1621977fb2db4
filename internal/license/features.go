package license

// Tier represents the subscription level of a license.
type Tier string

const (
	// TierTrial is the time-limited evaluation tier.
	TierTrial Tier = "trial"
	// TierBasic covers single-case review work.
	TierBasic Tier = "basic"
	// TierProfessional unlocks the full analysis toolset.
	TierProfessional Tier = "professional"
	// TierEnterprise unlocks everything including multi-seat features.
	TierEnterprise Tier = "enterprise"
)

// ValidTiers returns all recognized license tiers.
func ValidTiers() []Tier {
	return []Tier{TierTrial, TierBasic, TierProfessional, TierEnterprise}
}

// IsValid checks if the tier is a recognized value.
func (t Tier) IsValid() bool {
	for _, valid := range ValidTiers() {
		if t == valid {
			return true
		}
	}
	return false
}

// Feature represents a gated application capability.
type Feature string

const (
	// FeatureTimeline enables the evidence timeline view (all tiers).
	FeatureTimeline Feature = "timeline"
	// FeatureAudioAnalysis enables the audio analysis panel (Basic+).
	FeatureAudioAnalysis Feature = "audio_analysis"
	// FeatureVideoAnalysis enables the video analysis panel (Basic+).
	FeatureVideoAnalysis Feature = "video_analysis"
	// FeatureExportReports enables report export (Basic+).
	FeatureExportReports Feature = "export_reports"
	// FeatureBatchImport enables bulk evidence import (Professional+).
	FeatureBatchImport Feature = "batch_import"
	// FeatureStreamingStudio enables the streaming studio (Professional+).
	FeatureStreamingStudio Feature = "streaming_studio"
	// FeatureAdvancedSearch enables cross-case search (Professional+).
	FeatureAdvancedSearch Feature = "advanced_search"
	// FeatureMultiCase enables working multiple cases at once (Professional+).
	FeatureMultiCase Feature = "multi_case"
	// FeatureTeamSharing enables shared case access (Enterprise).
	FeatureTeamSharing Feature = "team_sharing"
	// FeatureAuditTrail enables the chain-of-custody audit trail (Enterprise).
	FeatureAuditTrail Feature = "audit_trail"
	// FeaturePrioritySupport marks priority support entitlement (Enterprise).
	FeaturePrioritySupport Feature = "priority_support"
)

// featureAccess maps each license tier to the features it unlocks.
var featureAccess = map[Tier][]Feature{
	TierTrial: {
		FeatureTimeline,
	},
	TierBasic: {
		FeatureTimeline,
		FeatureAudioAnalysis,
		FeatureVideoAnalysis,
		FeatureExportReports,
	},
	TierProfessional: {
		FeatureTimeline,
		FeatureAudioAnalysis,
		FeatureVideoAnalysis,
		FeatureExportReports,
		FeatureBatchImport,
		FeatureStreamingStudio,
		FeatureAdvancedSearch,
		FeatureMultiCase,
	},
	TierEnterprise: {
		FeatureTimeline,
		FeatureAudioAnalysis,
		FeatureVideoAnalysis,
		FeatureExportReports,
		FeatureBatchImport,
		FeatureStreamingStudio,
		FeatureAdvancedSearch,
		FeatureMultiCase,
		FeatureTeamSharing,
		FeatureAuditTrail,
		FeaturePrioritySupport,
	},
}

// HasFeature returns true if the given tier unlocks the feature. Tokens
// may carry additional explicit grants; see ValidatedLicense.HasFeature.
func HasFeature(tier Tier, feature Feature) bool {
	for _, f := range featureAccess[tier] {
		if f == feature {
			return true
		}
	}
	return false
}

// FeaturesForTier returns all features available for the given tier.
func FeaturesForTier(tier Tier) []Feature {
	features, ok := featureAccess[tier]
	if !ok {
		return nil
	}
	result := make([]Feature, len(features))
	copy(result, features)
	return result
}
