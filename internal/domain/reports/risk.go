package reports

import "strings"

// ParseRiskLevel maps a wire-level risk string to the internal enum.
// ok=false when the value is unrecognized; callers degrade to RiskMedium.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	}
	return RiskMedium, false
}

// CountByLevel tallies violations per risk level.
func CountByLevel(vs []*Violation) (critical, high, medium, low int) {
	for _, v := range vs {
		switch v.RiskLevel {
		case RiskCritical:
			critical++
		case RiskHigh:
			high++
		case RiskMedium:
			medium++
		case RiskLow:
			low++
		}
	}
	return
}
