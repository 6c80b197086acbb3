// internal/stages/tpr/calculator.go
package tpr

import (
	"sort"
	"strings"

	"tpr-pipeline/internal/models"
)

// Result holds the outcome of one calculation pass.
type Result struct {
	Facilities []models.FacilityTPR
	Wards      []models.WardTPR
}

// Calculator computes per-facility and per-ward positivity rates under the
// primary formula. Pure and deterministic: identical inputs yield identical
// outputs.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Filter returns the records matching the session's selections. Region and
// facility level comparisons are case-insensitive.
func Filter(records []models.RawTestingRecord, sel models.Selections) []models.RawTestingRecord {
	out := make([]models.RawTestingRecord, 0, len(records))
	for _, r := range records {
		if sel.Region != "" && !strings.EqualFold(r.State, sel.Region) {
			continue
		}
		if sel.FacilityLevel != "" && r.Level != sel.FacilityLevel {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Calculate derives facility and ward TPR for the selected age group.
//
// Per facility: numerator = max(rdtPositive, microscopyPositive),
// denominator = max(rdtTested, microscopyTested). A zero denominator excludes
// the facility with reason insufficient_denominator; it contributes (0,0) to
// the ward sums. Wards sum numerators and denominators across facilities
// before dividing, not a mean of per-facility rates.
func (c *Calculator) Calculate(records []models.RawTestingRecord, group models.AgeGroup) *Result {
	type wardAccum struct {
		ward       models.WardTPR
		facilities []string
		excluded   []string
	}
	wards := make(map[string]*wardAccum)

	facilities := make([]models.FacilityTPR, 0, len(records))
	for _, r := range records {
		counts := r.Counts(group)

		f := models.FacilityTPR{
			FacilityID:   r.FacilityID,
			FacilityName: r.FacilityName,
			Ward:         r.Ward,
			Numerator:    maxInt(counts.RDTPositive, counts.MicroscopyPositive),
			Denominator:  maxInt(counts.RDTTested, counts.MicroscopyTested),
		}
		if f.Numerator > f.Denominator {
			// Reported positives exceeding tested counts are a data entry
			// artifact; clamp so the invariant numerator <= denominator holds.
			f.Numerator = f.Denominator
		}
		if f.Denominator > 0 {
			f.Rate = models.RatePtr(float64(f.Numerator) / float64(f.Denominator))
		} else {
			f.Excluded = true
			f.ExclusionReason = models.ReasonInsufficientDenominator
		}
		facilities = append(facilities, f)

		acc, ok := wards[r.Ward]
		if !ok {
			acc = &wardAccum{ward: models.WardTPR{
				Ward:   r.Ward,
				LGA:    r.LGA,
				State:  r.State,
				Method: models.MethodPrimary,
			}}
			wards[r.Ward] = acc
		}
		// A ward is urban if any constituent facility reports urban.
		acc.ward.Urban = acc.ward.Urban || r.Urban
		acc.ward.OutpatientAttendance += r.OutpatientAttendance
		acc.ward.FacilityCount++
		if f.Excluded {
			acc.excluded = append(acc.excluded, r.FacilityID)
		} else {
			acc.ward.Numerator += f.Numerator
			acc.ward.Denominator += f.Denominator
		}
		acc.facilities = append(acc.facilities, r.FacilityID)
	}

	out := make([]models.WardTPR, 0, len(wards))
	for _, acc := range wards {
		w := acc.ward
		w.ExcludedFacilities = acc.excluded
		if w.Denominator > 0 {
			w.Rate = models.RatePtr(float64(w.Numerator) / float64(w.Denominator))
		} else {
			// No facility in the ward produced a usable denominator.
			w.Unresolvable = true
			w.ExclusionReason = models.ReasonInsufficientDenominator
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ward < out[j].Ward })

	sort.Slice(facilities, func(i, j int) bool {
		if facilities[i].Ward != facilities[j].Ward {
			return facilities[i].Ward < facilities[j].Ward
		}
		return facilities[i].FacilityID < facilities[j].FacilityID
	})

	return &Result{Facilities: facilities, Wards: out}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
