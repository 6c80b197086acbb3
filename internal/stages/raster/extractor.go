// internal/stages/raster/extractor.go
package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/common/metrics"
	"tpr-pipeline/internal/models"
	"tpr-pipeline/pkg/registry"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const TaskType = "extract-covariates"

var (
	ErrRasterUnavailable = errors.New("RASTER_UNAVAILABLE")
	ErrNoCellsInWard     = errors.New("NO_CELLS_WITHIN_WARD")
)

// Statistic policies for zonal extraction.
const (
	StatisticMean             = "mean"
	StatisticAreaWeightedMean = "area_weighted_mean"
)

type Config struct {
	RasterDir string
	Statistic string
	Workers   int
}

type Input struct {
	Zone       string
	Profile    registry.ZoneProfile
	Period     string // YYYY-MM reporting window of the dataset
	Wards      []models.WardTPR
	Geometries map[string]orb.MultiPolygon
}

type Output struct {
	Rows []models.WardCovariateRow
}

// Extractor computes ward-level zonal statistics from zone-specific raster
// layers. Extraction is independent per (ward, covariate) pair; one missing or
// corrupt raster degrades only its own pairs.
type Extractor struct {
	config *Config
	logger logger.Logger
}

func NewExtractor(config *Config, log logger.Logger) *Extractor {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Statistic == "" {
		config.Statistic = StatisticMean
	}
	return &Extractor{
		config: config,
		logger: log.With(map[string]interface{}{"taskType": TaskType}),
	}
}

// Execute joins each ward with one scalar per covariate of the zone profile.
// Static rasters are loaded once and shared across wards; temporal rasters
// select the nearest available period to the dataset's reporting window.
func (e *Extractor) Execute(ctx context.Context, input *Input) (*Output, error) {
	// Load every covariate layer up front. Load failures become per-ward gaps
	// rather than aborting the run.
	grids := make(map[string]*Grid, len(input.Profile.Covariates))
	loadGaps := make(map[string]string)
	for _, cov := range input.Profile.Covariates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := e.resolveLayer(input.Zone, cov, input.Period)
		if err != nil {
			e.logger.Warn("raster layer unavailable", map[string]interface{}{
				"zone": input.Zone, "covariate": cov.Name, "error": err.Error(),
			})
			loadGaps[cov.Name] = models.GapRasterUnavailable
			continue
		}
		grid, err := LoadGrid(path)
		if err != nil {
			e.logger.Warn("raster layer unreadable", map[string]interface{}{
				"zone": input.Zone, "covariate": cov.Name, "path": path, "error": err.Error(),
			})
			loadGaps[cov.Name] = models.GapRasterUnreadable
			continue
		}
		grids[cov.Name] = grid
	}

	rows := make([]models.WardCovariateRow, len(input.Wards))

	var wg sync.WaitGroup
	wardCh := make(chan int)
	for w := 0; w < e.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range wardCh {
				rows[i] = e.extractWard(input, grids, loadGaps, input.Wards[i])
			}
		}()
	}
	for i := range input.Wards {
		wardCh <- i
	}
	close(wardCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, row := range rows {
		for _, gap := range row.Gaps {
			metrics.CovariateGaps.WithLabelValues(gap.Reason).Inc()
			stdErr := stderrors.NewRasterExtractionError(gap.Ward, gap.Covariate, gap.Reason)
			e.logger.Warn(stdErr.Message, stdErr.Metadata)
		}
	}

	return &Output{Rows: rows}, nil
}

func (e *Extractor) extractWard(input *Input, grids map[string]*Grid, loadGaps map[string]string, ward models.WardTPR) models.WardCovariateRow {
	row := models.WardCovariateRow{
		WardTPR:    ward,
		Covariates: make(map[string]float64),
	}

	geom, hasGeom := input.Geometries[ward.Ward]

	for _, cov := range input.Profile.Covariates {
		if reason, gapped := loadGaps[cov.Name]; gapped {
			row.Gaps = append(row.Gaps, models.CovariateGap{Ward: ward.Ward, Covariate: cov.Name, Reason: reason})
			continue
		}
		if !hasGeom {
			row.Gaps = append(row.Gaps, models.CovariateGap{Ward: ward.Ward, Covariate: cov.Name, Reason: models.GapBoundaryMissing})
			continue
		}
		value, err := zonalStatistic(grids[cov.Name], geom, e.config.Statistic)
		if err != nil {
			row.Gaps = append(row.Gaps, models.CovariateGap{Ward: ward.Ward, Covariate: cov.Name, Reason: models.GapNoCellsInWard})
			continue
		}
		row.Covariates[cov.Name] = value
	}
	return row
}

// resolveLayer locates the raster file for a covariate. Static layers live at
// <dir>/<zone>/<name>.asc; temporal layers at <dir>/<zone>/<name>_<YYYYMM>.asc.
func (e *Extractor) resolveLayer(zone string, cov registry.Covariate, period string) (string, error) {
	zoneDir := filepath.Join(e.config.RasterDir, zoneSlug(zone))

	if !cov.Temporal {
		path := filepath.Join(zoneDir, cov.Name+".asc")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrRasterUnavailable, path)
		}
		return path, nil
	}

	entries, err := os.ReadDir(zoneDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRasterUnavailable, err)
	}

	re := regexp.MustCompile("^" + regexp.QuoteMeta(cov.Name) + `_(\d{6})\.asc$`)
	target := periodMonths(period)

	best, bestDist := "", math.MaxInt
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names) // ties resolve to the earlier period

	for _, name := range names {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		months := stampMonths(m[1])
		dist := months - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist = name, dist
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: no periods for %s in %s", ErrRasterUnavailable, cov.Name, zoneDir)
	}
	return filepath.Join(zoneDir, best), nil
}

// zonalStatistic computes the configured statistic over the grid cells whose
// centers fall inside the ward geometry. Returns ErrNoCellsInWard when no
// cell with data falls inside the geometry.
func zonalStatistic(g *Grid, geom orb.MultiPolygon, statistic string) (float64, error) {
	colMin, colMax, rowMin, rowMax := g.CellRange(geom.Bound())

	var sum, weightSum float64
	covered := 0
	for row := rowMin; row < rowMax; row++ {
		for col := colMin; col < colMax; col++ {
			center := g.CellCenter(col, row)
			if !planar.MultiPolygonContains(geom, center) {
				continue
			}
			v, ok := g.Value(col, row)
			if !ok {
				continue
			}
			weight := 1.0
			if statistic == StatisticAreaWeightedMean {
				// Geographic cells shrink with latitude; weight by true cell area.
				weight = math.Cos(center[1] * math.Pi / 180)
			}
			sum += v * weight
			weightSum += weight
			covered++
		}
	}

	if covered == 0 || weightSum == 0 {
		return 0, ErrNoCellsInWard
	}
	return sum / weightSum, nil
}

func zoneSlug(zone string) string {
	return strings.ReplaceAll(strings.ToLower(zone), " ", "_")
}

// periodMonths converts YYYY-MM to a month index.
func periodMonths(period string) int {
	parts := strings.SplitN(period, "-", 2)
	if len(parts) != 2 {
		return 0
	}
	year, _ := strconv.Atoi(parts[0])
	month, _ := strconv.Atoi(parts[1])
	return year*12 + month - 1
}

// stampMonths converts YYYYMM to a month index.
func stampMonths(stamp string) int {
	if len(stamp) != 6 {
		return 0
	}
	year, _ := strconv.Atoi(stamp[:4])
	month, _ := strconv.Atoi(stamp[4:])
	return year*12 + month - 1
}
