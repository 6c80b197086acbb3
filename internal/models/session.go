package models

import "time"

// Stage is the conversation stage of a session.
type Stage string

const (
	StageAwaitingRegionSelection   Stage = "awaiting_region_selection"
	StageAwaitingFacilityLevel     Stage = "awaiting_facility_level"
	StageAwaitingAgeGroup          Stage = "awaiting_age_group"
	StageCalculating               Stage = "calculating"
	StageThresholdCheck            Stage = "threshold_check"
	StageAlternativeRecalculation  Stage = "alternative_recalculation"
	StageOutputReady               Stage = "output_ready"
	StageComplete                  Stage = "complete"
	StageCancelled                 Stage = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageCancelled
}

// Selections are the user choices accumulated over the conversation.
type Selections struct {
	Region        string        `json:"region,omitempty"`
	Zone          string        `json:"zone,omitempty"`
	FacilityLevel FacilityLevel `json:"facilityLevel,omitempty"`
	AgeGroup      AgeGroup      `json:"ageGroup,omitempty"`
}

// ConversationSession is one user's pipeline run. Mutated exclusively by the
// state machine; serialized to JSON for the external session store and must
// round-trip exactly, including calculation method tags and gap markers.
type ConversationSession struct {
	ID         string     `json:"id"`
	Stage      Stage      `json:"stage"`
	Selections Selections `json:"selections"`

	// DatasetRef points at the parsed dataset in the store.
	DatasetRef      string `json:"datasetRef"`
	RecordCount     int    `json:"recordCount"`
	ReportingPeriod string `json:"reportingPeriod"` // YYYY-MM

	// Intermediate results, populated as the pipeline advances.
	Wards          []WardTPR `json:"wards,omitempty"`
	ViolatingWards []string  `json:"violatingWards,omitempty"`

	// BundleDir is set once the output packager finishes.
	BundleDir string `json:"bundleDir,omitempty"`
	RunID     string `json:"runId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Touch updates the modification timestamp.
func (s *ConversationSession) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
