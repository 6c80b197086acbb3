// internal/boundaries/repository.go
package boundaries

import (
	"context"
	"fmt"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/database"
	"tpr-pipeline/internal/common/logger"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Repository provides ward boundary geometry for a state. Boundaries are
// read-only reference data, safe for concurrent access.
type Repository interface {
	WardBoundaries(ctx context.Context, state string) (*geojson.FeatureCollection, error)
}

// GeometriesByWard indexes a boundary collection by ward name, normalizing
// Polygon features to MultiPolygon.
func GeometriesByWard(fc *geojson.FeatureCollection) map[string]orb.MultiPolygon {
	out := make(map[string]orb.MultiPolygon, len(fc.Features))
	for _, f := range fc.Features {
		ward, ok := f.Properties["ward"].(string)
		if !ok || ward == "" {
			continue
		}
		switch geom := f.Geometry.(type) {
		case orb.Polygon:
			out[ward] = orb.MultiPolygon{geom}
		case orb.MultiPolygon:
			out[ward] = geom
		}
	}
	return out
}

// PostgresRepository reads ward boundaries from a PostGIS table with columns
// ward, lga, state, and a geometry column exposed as GeoJSON.
type PostgresRepository struct {
	db     *database.PostgresClient
	table  string
	logger logger.Logger
}

func NewPostgresRepository(db *database.PostgresClient, table string, log logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, table: table, logger: log}
}

func (r *PostgresRepository) WardBoundaries(ctx context.Context, state string) (*geojson.FeatureCollection, error) {
	query := fmt.Sprintf(
		`SELECT ward, lga, state, ST_AsGeoJSON(geom) FROM %s WHERE LOWER(state) = LOWER($1) ORDER BY ward`,
		r.table,
	)

	rows, err := r.db.Query(ctx, query, state)
	if err != nil {
		return nil, stderrors.NewBoundaryQueryFailedError(state, err)
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var ward, lga, st, geomJSON string
		if err := rows.Scan(&ward, &lga, &st, &geomJSON); err != nil {
			return nil, stderrors.NewBoundaryQueryFailedError(state, err)
		}

		geom, err := geojson.UnmarshalGeometry([]byte(geomJSON))
		if err != nil {
			r.logger.Warn("skipping ward with unparseable geometry", map[string]interface{}{
				"ward": ward, "state": st, "error": err.Error(),
			})
			continue
		}

		f := geojson.NewFeature(geom.Geometry())
		f.Properties["ward"] = ward
		f.Properties["lga"] = lga
		f.Properties["state"] = st
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewBoundaryQueryFailedError(state, err)
	}

	return fc, nil
}
