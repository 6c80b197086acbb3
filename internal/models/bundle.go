package models

import "time"

// ArtifactType identifies one of the three bundle artifacts.
type ArtifactType string

const (
	ArtifactTPRTable      ArtifactType = "tpr_table"
	ArtifactEnrichedTable ArtifactType = "enriched_table"
	ArtifactBoundary      ArtifactType = "boundary"
)

// ArtifactInfo describes one artifact in the manifest.
type ArtifactInfo struct {
	Type      ArtifactType `json:"type"`
	Filename  string       `json:"filename"`
	MediaType string       `json:"mediaType"`
	Rows      int          `json:"rows"`
}

// Manifest describes a finished output bundle. Written last; a bundle without
// a manifest is treated as absent.
type Manifest struct {
	RunID           string                    `json:"runId"`
	SessionID       string                    `json:"sessionId"`
	Region          string                    `json:"region"`
	Zone            string                    `json:"zone"`
	FacilityLevel   FacilityLevel             `json:"facilityLevel"`
	AgeGroup        AgeGroup                  `json:"ageGroup"`
	ReportingPeriod string                    `json:"reportingPeriod"`
	GeneratedAt     time.Time                 `json:"generatedAt"`
	WardCount       int                       `json:"wardCount"`
	Artifacts       []ArtifactInfo            `json:"artifacts"`
	MethodCounts    map[CalculationMethod]int `json:"methodCounts"`
	Unresolvable    []string                  `json:"unresolvableWards,omitempty"`
	CovariateGaps   []CovariateGap            `json:"covariateGaps,omitempty"`
}

// OutputBundle is the terminal artifact set. Created once, never mutated.
type OutputBundle struct {
	Dir      string   `json:"dir"`
	Manifest Manifest `json:"manifest"`
}
