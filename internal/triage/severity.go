package triage

import "fmt"

// Severity is the four-band triage scale.
type Severity string

// Severity bands, lowest first.
const (
	SeverityLow       Severity = "low"
	SeverityModerate  Severity = "moderate"
	SeverityHigh      Severity = "high"
	SeverityEmergency Severity = "emergency"
)

// IsValid reports whether s is one of the four bands.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityEmergency:
		return true
	}
	return false
}

// Thresholds are inclusive lower bounds of the upper three bands. A score exactly on a
// bound belongs to the higher band.
type Thresholds struct {
	Moderate  int `json:"moderate" yaml:"moderate"`
	High      int `json:"high" yaml:"high"`
	Emergency int `json:"emergency" yaml:"emergency"`
}

// DefaultThresholds: low 0-2, moderate 3-5, high 6-8, emergency 9+.
var DefaultThresholds = Thresholds{Moderate: 3, High: 6, Emergency: 9}

// Validate checks that bounds are positive and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Moderate <= 0 || t.High <= t.Moderate || t.Emergency <= t.High {
		return fmt.Errorf("severity thresholds must be positive and increasing, got moderate=%d high=%d emergency=%d", t.Moderate, t.High, t.Emergency)
	}
	return nil
}

// Band maps a weight total onto the scale.
func (t Thresholds) Band(score int) Severity {
	switch {
	case score >= t.Emergency:
		return SeverityEmergency
	case score >= t.High:
		return SeverityHigh
	case score >= t.Moderate:
		return SeverityModerate
	default:
		return SeverityLow
	}
}
