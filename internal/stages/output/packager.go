// internal/stages/output/packager.go
package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/models"

	"github.com/paulmach/orb/geojson"
)

const TaskType = "package-outputs"

const (
	tprFilename      = "tpr_table.csv"
	enrichedFilename = "enriched_table.csv"
	boundaryFilename = "boundary.geojson"
	manifestFilename = "manifest.json"
)

type Config struct {
	OutputRoot string
}

type Input struct {
	SessionID       string
	RunID           string
	Selections      models.Selections
	ReportingPeriod string
	// Covariates fixes the enriched table's column order (registry order).
	Covariates []string
	Wards      []models.WardTPR
	Enriched   []models.WardCovariateRow
	Boundaries *geojson.FeatureCollection
}

// Packager emits the terminal three-artifact bundle. All artifacts are staged
// in a temp directory and published with a single rename, so either the whole
// bundle exists or none of it does.
type Packager struct {
	config *Config
	logger logger.Logger
}

func NewPackager(config *Config, log logger.Logger) *Packager {
	return &Packager{
		config: config,
		logger: log.With(map[string]interface{}{"taskType": TaskType}),
	}
}

// Execute writes the TPR table, the covariate-enriched table, the ward
// boundary geometry, and the manifest. The three artifacts share one ward set
// and one ordering key (ward name, ascending); unresolvable wards appear with
// their exclusion reason rather than being silently dropped.
func (p *Packager) Execute(ctx context.Context, input *Input) (*models.OutputBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageDir := filepath.Join(p.config.OutputRoot, ".staging-"+input.RunID)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}
	defer os.RemoveAll(stageDir) // no-op after a successful rename

	manifest := models.Manifest{
		RunID:           input.RunID,
		SessionID:       input.SessionID,
		Region:          input.Selections.Region,
		Zone:            input.Selections.Zone,
		FacilityLevel:   input.Selections.FacilityLevel,
		AgeGroup:        input.Selections.AgeGroup,
		ReportingPeriod: input.ReportingPeriod,
		GeneratedAt:     time.Now().UTC(),
		WardCount:       len(input.Wards),
		MethodCounts:    map[models.CalculationMethod]int{},
	}
	for _, w := range input.Wards {
		if w.Unresolvable {
			manifest.Unresolvable = append(manifest.Unresolvable, w.Ward)
			continue
		}
		manifest.MethodCounts[w.Method]++
	}
	for _, row := range input.Enriched {
		manifest.CovariateGaps = append(manifest.CovariateGaps, row.Gaps...)
	}

	tprRows, err := p.writeTPRTable(filepath.Join(stageDir, tprFilename), input.Wards)
	if err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}
	enrichedRows, err := p.writeEnrichedTable(filepath.Join(stageDir, enrichedFilename), input)
	if err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}
	features, err := p.writeBoundary(filepath.Join(stageDir, boundaryFilename), input)
	if err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}

	manifest.Artifacts = []models.ArtifactInfo{
		{Type: models.ArtifactTPRTable, Filename: tprFilename, MediaType: "text/csv", Rows: tprRows},
		{Type: models.ArtifactEnrichedTable, Filename: enrichedFilename, MediaType: "text/csv", Rows: enrichedRows},
		{Type: models.ArtifactBoundary, Filename: boundaryFilename, MediaType: "application/geo+json", Rows: features},
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, manifestFilename), manifestData, 0o644); err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}

	finalDir := filepath.Join(p.config.OutputRoot, input.SessionID)
	if err := os.RemoveAll(finalDir); err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}
	if err := os.Rename(stageDir, finalDir); err != nil {
		return nil, stderrors.NewBundleWriteFailedError(err)
	}

	p.logger.Info("bundle published", map[string]interface{}{
		"sessionId": input.SessionID,
		"runId":     input.RunID,
		"dir":       finalDir,
		"wards":     len(input.Wards),
	})

	return &models.OutputBundle{Dir: finalDir, Manifest: manifest}, nil
}

func (p *Packager) writeTPRTable(path string, wards []models.WardTPR) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"ward", "lga", "state", "urban", "facilities", "numerator", "denominator",
		"outpatient_attendance", "rate", "calculation_method", "exclusion_reason",
	}
	if err := w.Write(header); err != nil {
		return 0, err
	}
	for _, ward := range wards {
		if err := w.Write(tprRow(ward)); err != nil {
			return 0, err
		}
	}
	w.Flush()
	return len(wards), w.Error()
}

func tprRow(w models.WardTPR) []string {
	rate := ""
	if w.Rate != nil {
		rate = strconv.FormatFloat(*w.Rate, 'f', 6, 64)
	}
	return []string{
		w.Ward, w.LGA, w.State, strconv.FormatBool(w.Urban),
		strconv.Itoa(w.FacilityCount), strconv.Itoa(w.Numerator), strconv.Itoa(w.Denominator),
		strconv.Itoa(w.OutpatientAttendance), rate, string(w.Method), w.ExclusionReason,
	}
}

func (p *Packager) writeEnrichedTable(path string, input *Input) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enrichedByWard := make(map[string]models.WardCovariateRow, len(input.Enriched))
	for _, row := range input.Enriched {
		enrichedByWard[row.Ward] = row
	}

	w := csv.NewWriter(f)
	header := []string{"ward", "lga", "state", "urban", "rate", "calculation_method", "exclusion_reason"}
	header = append(header, input.Covariates...)
	if err := w.Write(header); err != nil {
		return 0, err
	}

	for _, ward := range input.Wards {
		rate := ""
		if ward.Rate != nil && !ward.Unresolvable {
			rate = strconv.FormatFloat(*ward.Rate, 'f', 6, 64)
		}
		row := []string{
			ward.Ward, ward.LGA, ward.State, strconv.FormatBool(ward.Urban),
			rate, string(ward.Method), ward.ExclusionReason,
		}
		enriched, ok := enrichedByWard[ward.Ward]
		for _, cov := range input.Covariates {
			// A missing covariate stays blank: a recorded gap, not a zero.
			cell := ""
			if ok {
				if v, has := enriched.Covariates[cov]; has {
					cell = strconv.FormatFloat(v, 'f', 6, 64)
				}
			}
			row = append(row, cell)
		}
		if err := w.Write(row); err != nil {
			return 0, err
		}
	}
	w.Flush()
	return len(input.Wards), w.Error()
}

func (p *Packager) writeBoundary(path string, input *Input) (int, error) {
	wardSet := make(map[string]bool, len(input.Wards))
	for _, w := range input.Wards {
		wardSet[w.Ward] = true
	}

	fc := geojson.NewFeatureCollection()
	if input.Boundaries != nil {
		for _, f := range input.Boundaries.Features {
			if ward, ok := f.Properties["ward"].(string); ok && wardSet[ward] {
				fc.Append(f)
			}
		}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

// ReadArtifact loads one artifact from a published bundle. The manifest is
// required: a directory without one is treated as absent.
func (p *Packager) ReadArtifact(sessionID string, artifactType models.ArtifactType) (models.ArtifactInfo, []byte, error) {
	dir := filepath.Join(p.config.OutputRoot, sessionID)

	manifestData, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return models.ArtifactInfo{}, nil, stderrors.NewArtifactNotReadyError(sessionID, string(artifactType))
	}
	var manifest models.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return models.ArtifactInfo{}, nil, stderrors.NewBundleWriteFailedError(err)
	}

	for _, info := range manifest.Artifacts {
		if info.Type == artifactType {
			data, err := os.ReadFile(filepath.Join(dir, info.Filename))
			if err != nil {
				return models.ArtifactInfo{}, nil, stderrors.NewBundleWriteFailedError(err)
			}
			return info, data, nil
		}
	}
	return models.ArtifactInfo{}, nil, fmt.Errorf("unknown artifact type %q", artifactType)
}

// Discard removes any published or staged output for a session. Used on
// cancellation so partial results are never exposed.
func (p *Packager) Discard(sessionID, runID string) {
	_ = os.RemoveAll(filepath.Join(p.config.OutputRoot, sessionID))
	if runID != "" {
		_ = os.RemoveAll(filepath.Join(p.config.OutputRoot, ".staging-"+runID))
	}
}
