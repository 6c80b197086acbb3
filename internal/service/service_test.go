// internal/service/service_test.go
package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tpr-pipeline/internal/boundaries"
	"tpr-pipeline/internal/common/config"
	"tpr-pipeline/internal/common/database"
	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/common/metrics"
	"tpr-pipeline/internal/models"
	"tpr-pipeline/internal/session"
	"tpr-pipeline/internal/stages/ingest"
	"tpr-pipeline/pkg/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

const testDatasetHeader = "facility_id,facility_name,state,lga,ward,facility_level,urban,outpatient_attendance,period," +
	"rdt_tested_u5,rdt_positive_u5,micro_tested_u5,micro_positive_u5," +
	"rdt_tested_5_14,rdt_positive_5_14,micro_tested_5_14,micro_positive_5_14," +
	"rdt_tested_15_plus,rdt_positive_15_plus,micro_tested_15_plus,micro_positive_15_plus"

// testDataset has one urban ward whose primary rate (0.60) violates the
// plausibility threshold and one rural ward that does not.
var testDataset = []byte(testDatasetHeader + "\n" +
	"f1,Urban PHC,Kano,Dala,WardA,Primary,urban,1200,2024-03,100,60,0,0,0,0,0,0,0,0,0,0\n" +
	"f2,Rural PHC,Kano,Dala,WardB,Primary,rural,900,2024-03,100,40,0,0,0,0,0,0,0,0,0,0\n")

type testEnv struct {
	svc   *Service
	store *session.Store
	cfg   *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	mr := miniredis.RunT(t)
	redisClient := &database.RedisClient{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
	store := session.NewStore(redisClient, time.Hour)

	boundaryDir := t.TempDir()
	writeKanoBoundaries(t, boundaryDir)

	rasterDir := t.TempDir()
	writeTestRaster(t, rasterDir)

	cfg := &config.Config{}
	cfg.Pipeline = config.PipelineConfig{
		UrbanTPRThreshold: 0.50,
		ZonalStatistic:    "mean",
		RasterDir:         rasterDir,
		OutputDir:         t.TempDir(),
		ExtractWorkers:    2,
	}

	log := logger.NewTestLogger(t)
	svc := New(cfg, Dependencies{
		Store:      store,
		Boundaries: boundaries.NewFileRepository(boundaryDir, log),
		Registry:   registry.Default(),
	}, log)

	return &testEnv{svc: svc, store: store, cfg: cfg}
}

func writeKanoBoundaries(t *testing.T, dir string) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for i, ward := range []string{"WardA", "WardB"} {
		x := float64(i * 2)
		f := geojson.NewFeature(orb.Polygon{{
			{x, 0}, {x + 2, 0}, {x + 2, 2}, {x, 2}, {x, 0},
		}})
		f.Properties["ward"] = ward
		f.Properties["lga"] = "Dala"
		f.Properties["state"] = "Kano"
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kano.geojson"), data, 0o644))
}

func writeTestRaster(t *testing.T, dir string) {
	t.Helper()
	grid := "ncols 4\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n10 20 30 40\n50 60 70 80\n"
	path := filepath.Join(dir, "north_west", "elevation.asc")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(grid), 0o644))
}

func runToThresholdCheck(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()

	reply, err := env.svc.Ingest(ctx, "dataset.csv", testDataset)
	require.NoError(t, err)
	require.Equal(t, models.StageAwaitingRegionSelection, reply.Stage)

	reply, err = env.svc.Advance(ctx, reply.SessionID, "Kano")
	require.NoError(t, err)
	require.Equal(t, models.StageAwaitingFacilityLevel, reply.Stage)

	reply, err = env.svc.Advance(ctx, reply.SessionID, "primary")
	require.NoError(t, err)
	require.Equal(t, models.StageAwaitingAgeGroup, reply.Stage)

	reply, err = env.svc.Advance(ctx, reply.SessionID, "u5")
	require.NoError(t, err)
	require.Equal(t, models.StageThresholdCheck, reply.Stage)
	return reply.SessionID
}

// ==========================
// End-to-End Flow Tests
// ==========================

func TestService_FullRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := runToThresholdCheck(t, env)

	// The threshold summary names the violating urban ward.
	sess, prompt, err := env.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"WardA"}, sess.ViolatingWards)
	assert.Contains(t, prompt, "WardA")

	// Confirming routes through the alternative recalculation.
	reply, err := env.svc.Advance(ctx, id, "yes")
	require.NoError(t, err)
	assert.Equal(t, models.StageOutputReady, reply.Stage)

	sess, _, err = env.svc.Status(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Wards, 2)
	wardA := sess.Wards[0]
	assert.Equal(t, models.MethodFallback, wardA.Method)
	require.NotNil(t, wardA.Rate)
	assert.InDelta(t, 0.05, *wardA.Rate, 1e-9) // 60 / 1200
	assert.Equal(t, models.MethodPrimary, sess.Wards[1].Method)

	// Generating packages the bundle and completes the session.
	reply, err = env.svc.Advance(ctx, id, "generate")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, reply.Stage)

	sess, _, err = env.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.BundleDir)
	assert.NotEmpty(t, sess.RunID)

	info, data, err := env.svc.Download(ctx, id, models.ArtifactTPRTable)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", info.MediaType)
	assert.Contains(t, string(data), "WardA")
	assert.Contains(t, string(data), "fallback")

	_, enriched, err := env.svc.Download(ctx, id, models.ArtifactEnrichedTable)
	require.NoError(t, err)
	assert.Contains(t, string(enriched), "elevation")
}

func TestService_NoViolationsSkipsRecalculation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Rural-only dataset: the high ward rate is not an urban violation.
	dataset := []byte(testDatasetHeader + "\n" +
		"f1,Rural PHC,Kano,Dala,WardA,Primary,rural,1200,2024-03,100,60,0,0,0,0,0,0,0,0,0,0\n")

	reply, err := env.svc.Ingest(ctx, "dataset.csv", dataset)
	require.NoError(t, err)
	id := reply.SessionID

	for _, msg := range []string{"Kano", "primary", "u5"} {
		reply, err = env.svc.Advance(ctx, id, msg)
		require.NoError(t, err)
	}
	require.Equal(t, models.StageThresholdCheck, reply.Stage)

	reply, err = env.svc.Advance(ctx, id, "yes")
	require.NoError(t, err)
	assert.Equal(t, models.StageOutputReady, reply.Stage)

	sess, _, err := env.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MethodPrimary, sess.Wards[0].Method)
}

func TestService_ClarificationKeepsStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reply, err := env.svc.Ingest(ctx, "dataset.csv", testDataset)
	require.NoError(t, err)

	reply, err = env.svc.Advance(ctx, reply.SessionID, "Narnia")
	require.NoError(t, err)
	assert.Equal(t, models.StageAwaitingRegionSelection, reply.Stage)
	assert.Contains(t, reply.Prompt, "Narnia")
}

// ==========================
// Resumability Tests
// ==========================

func TestService_StatusReplaysPromptAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reply, err := env.svc.Ingest(ctx, "dataset.csv", testDataset)
	require.NoError(t, err)
	_, err = env.svc.Advance(ctx, reply.SessionID, "Kano")
	require.NoError(t, err)

	// A fresh service over the same store sees the identical stage and prompt.
	sess, prompt, err := env.svc.Status(ctx, reply.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StageAwaitingFacilityLevel, sess.Stage)
	assert.Contains(t, prompt, "Kano")
	assert.Equal(t, "Kano", sess.Selections.Region)
}

// ==========================
// Concurrency & Lifecycle Tests
// ==========================

func TestService_AdvanceWhileLockedIsBusy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reply, err := env.svc.Ingest(ctx, "dataset.csv", testDataset)
	require.NoError(t, err)

	token, err := env.store.AcquireLock(ctx, reply.SessionID)
	require.NoError(t, err)
	defer env.store.ReleaseLock(ctx, reply.SessionID, token)

	_, err = env.svc.Advance(ctx, reply.SessionID, "Kano")
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeSessionBusy))
}

func TestService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := runToThresholdCheck(t, env)

	require.NoError(t, env.svc.Cancel(ctx, id))

	sess, _, err := env.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, sess.Stage)

	// Further messages are inert.
	reply, err := env.svc.Advance(ctx, id, "yes")
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, reply.Stage)

	// Cancel is idempotent, including for unknown sessions.
	assert.NoError(t, env.svc.Cancel(ctx, id))
	assert.NoError(t, env.svc.Cancel(ctx, "no-such-session"))
}

func TestService_CancelAfterCompleteRevokesBundle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := runToThresholdCheck(t, env)
	for _, msg := range []string{"yes", "generate"} {
		_, err := env.svc.Advance(ctx, id, msg)
		require.NoError(t, err)
	}

	sess, _, err := env.svc.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StageComplete, sess.Stage)
	require.DirExists(t, sess.BundleDir)

	require.NoError(t, env.svc.Cancel(ctx, id))

	assert.NoDirExists(t, sess.BundleDir)
	_, _, err = env.svc.Download(ctx, id, models.ArtifactTPRTable)
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeSessionCancelled))
}

func TestService_IngestFailureCountsStageFailure(t *testing.T) {
	env := newTestEnv(t)

	counter := metrics.StageFailed.WithLabelValues(ingest.TaskType, string(stderrors.ErrCodeDataValidationFailed))
	before := testutil.ToFloat64(counter)

	_, err := env.svc.Ingest(context.Background(), "dataset.csv", []byte("wrong,header\n1,2\n"))
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeDataValidationFailed))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestService_DownloadBeforeCompleteIsNotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := runToThresholdCheck(t, env)

	_, _, err := env.svc.Download(ctx, id, models.ArtifactTPRTable)
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeArtifactNotReady))
}

func TestService_IngestRejectsBadDataset(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Ingest(context.Background(), "dataset.csv", []byte("a,b,c\n1,2,3\n"))
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeDataValidationFailed))
}

func TestService_NoMatchingFacilitiesRevertsStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reply, err := env.svc.Ingest(ctx, "dataset.csv", testDataset)
	require.NoError(t, err)
	id := reply.SessionID

	_, err = env.svc.Advance(ctx, id, "Kano")
	require.NoError(t, err)
	_, err = env.svc.Advance(ctx, id, "tertiary")
	require.NoError(t, err)

	_, err = env.svc.Advance(ctx, id, "u5")
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeDataValidationFailed))

	// The session fell back to the level question so the user can recover.
	sess, _, err := env.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StageAwaitingFacilityLevel, sess.Stage)
	assert.Equal(t, models.LevelTertiary, sess.Selections.FacilityLevel)
}
