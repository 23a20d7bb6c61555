package scan

import "time"

// RiskLevel is the coarse severity tier of a result.
type RiskLevel string

const (
	RiskLow    RiskLevel = "BAJO"
	RiskMedium RiskLevel = "MEDIO"
	RiskHigh   RiskLevel = "ALTO"
)

// Valid reports whether r is one of the three known tiers.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Priority tags a follow-up step.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// NextStep is one recommended follow-up action.
type NextStep struct {
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}

// Result is one mock diagnosis. It is never mutated after Engine.Scan
// returns it.
type Result struct {
	ScanID          string     `json:"scanId"`
	TemplateID      int        `json:"id"`
	Diagnosis       string     `json:"diagnosis"`
	Confidence      int        `json:"confidence"`
	RiskLevel       RiskLevel  `json:"riskLevel"`
	Description     string     `json:"description"`
	Recommendations []string   `json:"recommendations"`
	NextSteps       []NextStep `json:"nextSteps"`
	Timestamp       string     `json:"timestamp"`
	CreatedAt       time.Time  `json:"createdAt"`
}
