package models

import "strings"

// FacilityLevel classifies a health facility within the reporting hierarchy.
type FacilityLevel string

const (
	LevelPrimary   FacilityLevel = "Primary"
	LevelSecondary FacilityLevel = "Secondary"
	LevelTertiary  FacilityLevel = "Tertiary"
)

// AgeGroup identifies one of the reporting age bands, or all bands combined.
type AgeGroup string

const (
	AgeU5     AgeGroup = "u5"
	Age5To14  AgeGroup = "5-14"
	Age15Plus AgeGroup = "15+"
	AgeAll    AgeGroup = "all"
)

// AgeBandCounts holds tested/positive counts for both test modalities within
// one age band.
type AgeBandCounts struct {
	RDTTested          int `json:"rdtTested"`
	RDTPositive        int `json:"rdtPositive"`
	MicroscopyTested   int `json:"microscopyTested"`
	MicroscopyPositive int `json:"microscopyPositive"`
}

// Add returns the element-wise sum of two bands.
func (c AgeBandCounts) Add(other AgeBandCounts) AgeBandCounts {
	return AgeBandCounts{
		RDTTested:          c.RDTTested + other.RDTTested,
		RDTPositive:        c.RDTPositive + other.RDTPositive,
		MicroscopyTested:   c.MicroscopyTested + other.MicroscopyTested,
		MicroscopyPositive: c.MicroscopyPositive + other.MicroscopyPositive,
	}
}

// RawTestingRecord is one row per facility-period of the ingested dataset.
// Immutable once ingested.
type RawTestingRecord struct {
	FacilityID           string        `json:"facilityId"`
	FacilityName         string        `json:"facilityName"`
	State                string        `json:"state"`
	LGA                  string        `json:"lga"`
	Ward                 string        `json:"ward"`
	Level                FacilityLevel `json:"facilityLevel"`
	Urban                bool          `json:"urban"`
	OutpatientAttendance int           `json:"outpatientAttendance"`
	Period               string        `json:"period"` // YYYY-MM
	U5                   AgeBandCounts `json:"u5"`
	Age5To14             AgeBandCounts `json:"age5to14"`
	Age15Plus            AgeBandCounts `json:"age15plus"`
}

// Counts returns the tested/positive counts for the selected age group.
// AgeAll sums the three bands.
func (r *RawTestingRecord) Counts(group AgeGroup) AgeBandCounts {
	switch group {
	case AgeU5:
		return r.U5
	case Age5To14:
		return r.Age5To14
	case Age15Plus:
		return r.Age15Plus
	default:
		return r.U5.Add(r.Age5To14).Add(r.Age15Plus)
	}
}

// ParseFacilityLevel normalizes a free-text facility level, returning false
// when the text matches no known level.
func ParseFacilityLevel(s string) (FacilityLevel, bool) {
	switch normalizeToken(s) {
	case "primary", "phc":
		return LevelPrimary, true
	case "secondary":
		return LevelSecondary, true
	case "tertiary":
		return LevelTertiary, true
	}
	return "", false
}

// ParseAgeGroup normalizes a free-text age group selection.
func ParseAgeGroup(s string) (AgeGroup, bool) {
	switch normalizeToken(s) {
	case "u5", "under5", "under_5", "<5":
		return AgeU5, true
	case "5-14", "5_14", "5to14":
		return Age5To14, true
	case "15+", "15plus", "15_plus", "adult", "adults":
		return Age15Plus, true
	case "all", "allages", "all_ages":
		return AgeAll, true
	}
	return "", false
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return strings.Trim(s, ".!\"'")
}
