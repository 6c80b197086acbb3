package models

// CalculationMethod records which formula produced a ward's final rate.
type CalculationMethod string

const (
	MethodPrimary  CalculationMethod = "primary"
	MethodFallback CalculationMethod = "fallback"
)

// Exclusion reasons recorded on facilities and wards.
const (
	ReasonInsufficientDenominator = "insufficient_denominator"
	ReasonUnresolvable            = "unresolvable"
)

// FacilityTPR is the per-facility positivity result for the selected age group.
// Rate is nil when the denominator is zero; it is never computed as 0 or NaN.
type FacilityTPR struct {
	FacilityID      string   `json:"facilityId"`
	FacilityName    string   `json:"facilityName"`
	Ward            string   `json:"ward"`
	Numerator       int      `json:"numerator"`
	Denominator     int      `json:"denominator"`
	Rate            *float64 `json:"rate,omitempty"`
	Excluded        bool     `json:"excluded,omitempty"`
	ExclusionReason string   `json:"exclusionReason,omitempty"`
}

// WardTPR aggregates FacilityTPR rows sharing a ward. Numerator and
// denominator are summed across facilities before dividing. Exactly one
// calculation method applies per ward.
type WardTPR struct {
	Ward                 string            `json:"ward"`
	LGA                  string            `json:"lga"`
	State                string            `json:"state"`
	Urban                bool              `json:"urban"`
	Numerator            int               `json:"numerator"`
	Denominator          int               `json:"denominator"`
	OutpatientAttendance int               `json:"outpatientAttendance"`
	Rate                 *float64          `json:"rate,omitempty"`
	Method               CalculationMethod `json:"calculationMethod"`
	Unresolvable         bool              `json:"unresolvable,omitempty"`
	ExclusionReason      string            `json:"exclusionReason,omitempty"`
	FacilityCount        int               `json:"facilityCount"`
	ExcludedFacilities   []string          `json:"excludedFacilities,omitempty"`
}

// RatePtr is a convenience for building optional rates.
func RatePtr(v float64) *float64 {
	return &v
}
