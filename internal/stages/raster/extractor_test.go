// internal/stages/raster/extractor_test.go
package raster

import (
	"context"
	"path/filepath"
	"testing"

	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/models"
	"tpr-pipeline/pkg/registry"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func squareWard(minX, minY, maxX, maxY float64) orb.MultiPolygon {
	return orb.MultiPolygon{{
		{
			{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
		},
	}}
}

func newTestExtractor(t *testing.T, rasterDir, statistic string) *Extractor {
	return NewExtractor(&Config{
		RasterDir: rasterDir,
		Statistic: statistic,
		Workers:   2,
	}, logger.NewTestLogger(t))
}

func wardTPR(name string) models.WardTPR {
	return models.WardTPR{Ward: name, Rate: models.RatePtr(0.3), Method: models.MethodPrimary}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestExtractor_Execute_StaticLayer(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, filepath.Join("north_west", "elevation.asc"), sampleGrid)

	e := newTestExtractor(t, dir, StatisticMean)
	out, err := e.Execute(context.Background(), &Input{
		Zone:    "North West",
		Profile: registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{{Name: "elevation"}}},
		Period:  "2024-03",
		Wards:   []models.WardTPR{wardTPR("WardA")},
		Geometries: map[string]orb.MultiPolygon{
			"WardA": squareWard(0, 0, 2, 2),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)

	row := out.Rows[0]
	assert.Empty(t, row.Gaps)
	// Cells with centers inside (0,0)-(2,2): values 9, 10, 13, 14.
	assert.InDelta(t, 11.5, row.Covariates["elevation"], 1e-9)
}

func TestExtractor_Execute_NearestTemporalLayer(t *testing.T) {
	dir := t.TempDir()
	// January is all 1s, May all 5s.
	writeGrid(t, dir, filepath.Join("north_west", "rainfall_202401.asc"),
		"ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 4\n1\n")
	writeGrid(t, dir, filepath.Join("north_west", "rainfall_202405.asc"),
		"ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 4\n5\n")

	profile := registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{{Name: "rainfall", Temporal: true}}}
	geoms := map[string]orb.MultiPolygon{"WardA": squareWard(0, 0, 4, 4)}

	e := newTestExtractor(t, dir, StatisticMean)

	tests := []struct {
		name     string
		period   string
		expected float64
	}{
		{name: "closer to may", period: "2024-04", expected: 5},
		{name: "closer to january", period: "2024-02", expected: 1},
		{name: "equidistant ties to the earlier period", period: "2024-03", expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Execute(context.Background(), &Input{
				Zone:       "North West",
				Profile:    profile,
				Period:     tt.period,
				Wards:      []models.WardTPR{wardTPR("WardA")},
				Geometries: geoms,
			})
			require.NoError(t, err)
			require.Len(t, out.Rows, 1)
			assert.InDelta(t, tt.expected, out.Rows[0].Covariates["rainfall"], 1e-9)
		})
	}
}

// ==========================
// Gap Isolation Tests
// ==========================

func TestExtractor_Execute_MissingLayerGapsOnlyItself(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, filepath.Join("north_west", "elevation.asc"), sampleGrid)

	e := newTestExtractor(t, dir, StatisticMean)
	out, err := e.Execute(context.Background(), &Input{
		Zone: "North West",
		Profile: registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{
			{Name: "elevation"},
			{Name: "population_density"},
		}},
		Period: "2024-03",
		Wards:  []models.WardTPR{wardTPR("WardA")},
		Geometries: map[string]orb.MultiPolygon{
			"WardA": squareWard(0, 0, 2, 2),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)

	row := out.Rows[0]
	assert.Contains(t, row.Covariates, "elevation")
	assert.NotContains(t, row.Covariates, "population_density")
	require.Len(t, row.Gaps, 1)
	assert.Equal(t, "population_density", row.Gaps[0].Covariate)
	assert.Equal(t, models.GapRasterUnavailable, row.Gaps[0].Reason)
}

func TestExtractor_Execute_UnreadableLayerIsAGap(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, filepath.Join("north_west", "elevation.asc"), "not a grid at all")

	e := newTestExtractor(t, dir, StatisticMean)
	out, err := e.Execute(context.Background(), &Input{
		Zone:       "North West",
		Profile:    registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{{Name: "elevation"}}},
		Period:     "2024-03",
		Wards:      []models.WardTPR{wardTPR("WardA")},
		Geometries: map[string]orb.MultiPolygon{"WardA": squareWard(0, 0, 2, 2)},
	})
	require.NoError(t, err)
	require.Len(t, out.Rows[0].Gaps, 1)
	assert.Equal(t, models.GapRasterUnreadable, out.Rows[0].Gaps[0].Reason)
}

func TestExtractor_Execute_MissingGeometryGapsAllCovariates(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, filepath.Join("north_west", "elevation.asc"), sampleGrid)

	e := newTestExtractor(t, dir, StatisticMean)
	out, err := e.Execute(context.Background(), &Input{
		Zone:       "North West",
		Profile:    registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{{Name: "elevation"}}},
		Period:     "2024-03",
		Wards:      []models.WardTPR{wardTPR("WardA")},
		Geometries: map[string]orb.MultiPolygon{},
	})
	require.NoError(t, err)
	require.Len(t, out.Rows[0].Gaps, 1)
	assert.Equal(t, models.GapBoundaryMissing, out.Rows[0].Gaps[0].Reason)
}

func TestExtractor_Execute_WardOutsideGrid(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, filepath.Join("north_west", "elevation.asc"), sampleGrid)

	e := newTestExtractor(t, dir, StatisticMean)
	out, err := e.Execute(context.Background(), &Input{
		Zone:       "North West",
		Profile:    registry.ZoneProfile{Zone: "North West", Covariates: []registry.Covariate{{Name: "elevation"}}},
		Period:     "2024-03",
		Wards:      []models.WardTPR{wardTPR("WardA")},
		Geometries: map[string]orb.MultiPolygon{"WardA": squareWard(100, 100, 102, 102)},
	})
	require.NoError(t, err)
	require.Len(t, out.Rows[0].Gaps, 1)
	assert.Equal(t, models.GapNoCellsInWard, out.Rows[0].Gaps[0].Reason)
}

// ==========================
// Statistic Policy Tests
// ==========================

func TestZonalStatistic_NoDataCellsIgnored(t *testing.T) {
	content := `ncols 2
nrows 2
xllcorner 0
yllcorner 0
cellsize 1
NODATA_value -9999
10 -9999
20 30
`
	path := writeGrid(t, t.TempDir(), "layer.asc", content)
	g, err := LoadGrid(path)
	require.NoError(t, err)

	v, err := zonalStatistic(g, squareWard(0, 0, 2, 2), StatisticMean)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, v, 1e-9)
}

func TestZonalStatistic_NoCellsInWard(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "layer.asc", sampleGrid)
	g, err := LoadGrid(path)
	require.NoError(t, err)

	_, err = zonalStatistic(g, squareWard(100, 100, 102, 102), StatisticMean)
	assert.ErrorIs(t, err, ErrNoCellsInWard)
}

func TestZonalStatistic_AreaWeightedMean(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "layer.asc", sampleGrid)
	g, err := LoadGrid(path)
	require.NoError(t, err)

	plain, err := zonalStatistic(g, squareWard(0, 0, 2, 2), StatisticMean)
	require.NoError(t, err)
	weighted, err := zonalStatistic(g, squareWard(0, 0, 2, 2), StatisticAreaWeightedMean)
	require.NoError(t, err)

	// At low latitudes the weights are near 1, so the means are close but the
	// weighted one tilts toward the southern cells, which here hold the larger
	// values.
	assert.InDelta(t, plain, weighted, 0.01)
	assert.Greater(t, weighted, plain)
}

func TestPeriodHelpers(t *testing.T) {
	assert.Equal(t, periodMonths("2024-03"), stampMonths("202403"))
	assert.Equal(t, 1, periodMonths("2024-04")-periodMonths("2024-03"))
	assert.Equal(t, 0, periodMonths("garbage"))
}
