// internal/stages/tpr/threshold.go
package tpr

import (
	"tpr-pipeline/internal/models"
)

// DefaultUrbanTPRThreshold is the biological-plausibility ceiling for an urban
// ward's primary rate. Rates above it trigger the outpatient-attendance
// fallback. Overridable via pipeline.urban_tpr_threshold.
const DefaultUrbanTPRThreshold = 0.50

// Detector inspects ward rates against the urban plausibility threshold.
type Detector struct {
	threshold float64
}

func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultUrbanTPRThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured plausibility threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Detect returns the wards whose primary rate exceeds the threshold in an
// urban context, in input order.
func (d *Detector) Detect(wards []models.WardTPR) []string {
	var violating []string
	for _, w := range wards {
		if w.Urban && w.Rate != nil && *w.Rate > d.threshold {
			violating = append(violating, w.Ward)
		}
	}
	return violating
}

// ApplyAlternative recomputes the violating wards only, using outpatient
// attendance as the denominator. Non-violating wards keep their primary
// calculation. A violating ward with zero or missing attendance becomes
// unresolvable: it is excluded from the enriched output with a visible gap,
// never silently dropped.
func (d *Detector) ApplyAlternative(wards []models.WardTPR, violating []string) []models.WardTPR {
	violatingSet := make(map[string]bool, len(violating))
	for _, w := range violating {
		violatingSet[w] = true
	}

	out := make([]models.WardTPR, len(wards))
	for i, w := range wards {
		if !violatingSet[w.Ward] {
			out[i] = w
			continue
		}
		w.Method = models.MethodFallback
		if w.OutpatientAttendance > 0 {
			w.Rate = models.RatePtr(float64(w.Numerator) / float64(w.OutpatientAttendance))
			w.Unresolvable = false
		} else {
			w.Rate = nil
			w.Unresolvable = true
			w.ExclusionReason = models.ReasonUnresolvable
		}
		out[i] = w
	}
	return out
}
