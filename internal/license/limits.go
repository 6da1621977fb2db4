package license

// UsageLimits defines the resource limits for a license tier.
type UsageLimits struct {
	MaxCases             int `json:"max_cases"`
	MaxEvidenceItems     int `json:"max_evidence_items"`
	MaxExportsPerDay     int `json:"max_exports_per_day"`
	MaxDevices           int `json:"max_devices"`
	MaxSimultaneousUsers int `json:"max_simultaneous_users"`
}

// Unlimited is a sentinel value indicating no limit on a resource.
const Unlimited = -1

// tierLimits maps each license tier to its resource limits.
var tierLimits = map[Tier]UsageLimits{
	TierTrial: {
		MaxCases:             1,
		MaxEvidenceItems:     50,
		MaxExportsPerDay:     3,
		MaxDevices:           1,
		MaxSimultaneousUsers: 1,
	},
	TierBasic: {
		MaxCases:             5,
		MaxEvidenceItems:     500,
		MaxExportsPerDay:     20,
		MaxDevices:           1,
		MaxSimultaneousUsers: 1,
	},
	TierProfessional: {
		MaxCases:             50,
		MaxEvidenceItems:     10000,
		MaxExportsPerDay:     Unlimited,
		MaxDevices:           2,
		MaxSimultaneousUsers: 2,
	},
	TierEnterprise: {
		MaxCases:             Unlimited,
		MaxEvidenceItems:     Unlimited,
		MaxExportsPerDay:     Unlimited,
		MaxDevices:           5,
		MaxSimultaneousUsers: 5,
	},
}

// LimitsForTier returns the resource limits for the given license tier.
// Unrecognized tiers get trial limits.
func LimitsForTier(tier Tier) UsageLimits {
	limits, ok := tierLimits[tier]
	if !ok {
		return tierLimits[TierTrial]
	}
	return limits
}

// IsUnlimited returns true if the given limit value represents unlimited.
func IsUnlimited(limit int) bool {
	return limit == Unlimited
}
