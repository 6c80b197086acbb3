package models

// CovariateGap records a (ward, covariate) pair whose value could not be
// extracted. Gaps are carried into the manifest rather than fabricated as zeros.
type CovariateGap struct {
	Ward      string `json:"ward"`
	Covariate string `json:"covariate"`
	Reason    string `json:"reason"`
}

// Gap reasons.
const (
	GapRasterUnavailable = "raster_unavailable"
	GapRasterUnreadable  = "raster_unreadable"
	GapNoCellsInWard     = "no_cells_within_ward"
	GapBoundaryMissing   = "boundary_missing"
)

// WardCovariateRow is a WardTPR joined with one scalar per covariate of the
// resolved zone profile. Unavailable covariates are absent from Covariates and
// present in Gaps.
type WardCovariateRow struct {
	WardTPR
	Covariates map[string]float64 `json:"covariates"`
	Gaps       []CovariateGap     `json:"gaps,omitempty"`
}
