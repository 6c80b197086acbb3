// internal/boundaries/geojson.go
package boundaries

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"

	"github.com/paulmach/orb/geojson"
)

// FileRepository reads ward boundaries from per-state GeoJSON files, e.g.
// <dir>/adamawa.geojson. Each feature carries ward, lga, and state properties.
type FileRepository struct {
	dir    string
	logger logger.Logger
}

func NewFileRepository(dir string, log logger.Logger) *FileRepository {
	return &FileRepository{dir: dir, logger: log}
}

func (r *FileRepository) WardBoundaries(ctx context.Context, state string) (*geojson.FeatureCollection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(r.dir, stateSlug(state)+".geojson")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stderrors.NewBoundaryQueryFailedError(state, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, stderrors.NewBoundaryQueryFailedError(state, fmt.Errorf("unparseable GeoJSON %s: %w", path, err))
	}

	r.logger.Debug("loaded ward boundaries", map[string]interface{}{
		"state": state, "features": len(fc.Features), "path": path,
	})
	return fc, nil
}

func stateSlug(state string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(state)), " ", "_")
}
