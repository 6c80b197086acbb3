// internal/service/service.go
package service

import (
	"context"
	"time"

	"tpr-pipeline/internal/audit"
	"tpr-pipeline/internal/boundaries"
	"tpr-pipeline/internal/common/config"
	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/common/metrics"
	"tpr-pipeline/internal/common/observability"
	"tpr-pipeline/internal/conversation"
	"tpr-pipeline/internal/models"
	"tpr-pipeline/internal/notify"
	"tpr-pipeline/internal/session"
	"tpr-pipeline/internal/stages/ingest"
	"tpr-pipeline/internal/stages/output"
	"tpr-pipeline/internal/stages/raster"
	"tpr-pipeline/internal/stages/tpr"
	"tpr-pipeline/internal/stages/zone"
	"tpr-pipeline/pkg/registry"

	"github.com/google/uuid"
)

// Reply is what the conversational surface sends back after each call.
type Reply struct {
	SessionID string       `json:"sessionId"`
	Stage     models.Stage `json:"stage"`
	Prompt    string       `json:"prompt"`
}

// Service ties the stages together behind five operations: Ingest, Advance,
// Status, Download, Cancel. All pipeline work runs synchronously inside
// Advance; the session store is the only shared state.
type Service struct {
	config     *config.Config
	store      *session.Store
	machine    *conversation.Machine
	resolver   *zone.Resolver
	ingester   *ingest.Handler
	calculator *tpr.Calculator
	detector   *tpr.Detector
	extractor  *raster.Extractor
	packager   *output.Packager
	boundaries boundaries.Repository
	audit      *audit.Indexer
	notifier   *notify.Notifier
	obs        *observability.Observability
	logger     logger.Logger
}

type Dependencies struct {
	Store      *session.Store
	Boundaries boundaries.Repository
	Registry   *registry.CovariateRegistry
	Audit      *audit.Indexer
	Notifier   *notify.Notifier
	Obs        *observability.Observability
}

func New(cfg *config.Config, deps Dependencies, log logger.Logger) *Service {
	resolver := zone.NewResolver(deps.Registry)
	return &Service{
		config:     cfg,
		store:      deps.Store,
		machine:    conversation.NewMachine(resolver),
		resolver:   resolver,
		ingester:   ingest.NewHandler(&ingest.Config{MaxRows: cfg.Pipeline.MaxDatasetRows}, log),
		calculator: tpr.NewCalculator(),
		detector:   tpr.NewDetector(cfg.Pipeline.UrbanTPRThreshold),
		extractor: raster.NewExtractor(&raster.Config{
			RasterDir: cfg.Pipeline.RasterDir,
			Statistic: cfg.Pipeline.ZonalStatistic,
			Workers:   cfg.Pipeline.ExtractWorkers,
		}, log),
		packager:   output.NewPackager(&output.Config{OutputRoot: cfg.Pipeline.OutputDir}, log),
		boundaries: deps.Boundaries,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		obs:        deps.Obs,
		logger:     log.With(map[string]interface{}{"component": "service"}),
	}
}

// Ingest parses an uploaded dataset and opens a conversation session at the
// region-selection stage.
func (s *Service) Ingest(ctx context.Context, filename string, content []byte) (*Reply, error) {
	start := time.Now()

	out, err := s.ingester.Execute(ctx, &ingest.Input{Filename: filename, Content: content})
	if err != nil {
		metrics.StageFailed.WithLabelValues(ingest.TaskType, string(stderrors.Code(err))).Inc()
		return nil, err
	}
	metrics.StageCompleted.WithLabelValues(ingest.TaskType).Inc()
	metrics.StageDuration.WithLabelValues(ingest.TaskType).Observe(time.Since(start).Seconds())

	ref, err := s.store.SaveDataset(ctx, out.Records)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &models.ConversationSession{
		ID:              uuid.NewString(),
		Stage:           models.StageAwaitingRegionSelection,
		DatasetRef:      ref,
		RecordCount:     len(out.Records),
		ReportingPeriod: out.ReportingPeriod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	metrics.SessionsActive.Inc()

	s.logger.Info("session opened", map[string]interface{}{
		"sessionId": sess.ID,
		"records":   sess.RecordCount,
		"period":    sess.ReportingPeriod,
		"warnings":  len(out.Warnings),
	})

	return &Reply{SessionID: sess.ID, Stage: sess.Stage, Prompt: s.machine.PromptFor(sess)}, nil
}

// Advance applies one inbound message to a session. Exactly one message is
// processed per session at a time; concurrent callers get SESSION_BUSY.
func (s *Service) Advance(ctx context.Context, sessionID, message string) (*Reply, error) {
	token, err := s.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.store.ReleaseLock(ctx, sessionID, token)

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	decision := s.machine.Transition(sess, message)
	wasActive := !sess.Stage.IsTerminal()
	sess.Stage = decision.Stage
	sess.Selections = decision.Selections
	prompt := decision.Prompt

	if decision.Action != conversation.ActionNone {
		prompt, err = s.runAction(ctx, sess, decision.Action)
		if err != nil {
			// Persist whatever stage the session reached so a retry resumes
			// from there instead of replaying the whole conversation.
			sess.Touch()
			_ = s.store.Save(ctx, sess)
			return nil, err
		}
	}

	if wasActive && sess.Stage.IsTerminal() {
		metrics.SessionsActive.Dec()
	}

	sess.Touch()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Reply{SessionID: sess.ID, Stage: sess.Stage, Prompt: prompt}, nil
}

// Status returns the persisted session plus the prompt for its current stage,
// so an interrupted conversation can be resumed exactly where it stopped.
func (s *Service) Status(ctx context.Context, sessionID string) (*models.ConversationSession, string, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return sess, s.machine.PromptFor(sess), nil
}

// Download returns one artifact from a completed session's bundle.
func (s *Service) Download(ctx context.Context, sessionID string, artifactType models.ArtifactType) (models.ArtifactInfo, []byte, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return models.ArtifactInfo{}, nil, err
	}
	if sess.Stage == models.StageCancelled {
		return models.ArtifactInfo{}, nil, stderrors.NewSessionCancelledError(sessionID)
	}
	if sess.Stage != models.StageComplete {
		return models.ArtifactInfo{}, nil, stderrors.NewArtifactNotReadyError(sessionID, string(artifactType))
	}
	return s.packager.ReadArtifact(sessionID, artifactType)
}

// Cancel terminates a session and discards its output, including a published
// bundle if the session already completed. Idempotent: cancelling an unknown
// or already-cancelled session is a no-op. It does not wait for the session
// lock; cancellation wins over in-flight work.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeSessionNotFound) {
			return nil
		}
		return err
	}
	if sess.Stage == models.StageCancelled {
		return nil
	}

	wasActive := !sess.Stage.IsTerminal()
	sess.Stage = models.StageCancelled
	sess.Touch()
	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}
	s.packager.Discard(sessionID, sess.RunID)
	if wasActive {
		metrics.SessionsActive.Dec()
	}

	s.logger.Info("session cancelled", map[string]interface{}{"sessionId": sessionID})
	return nil
}

func (s *Service) runAction(ctx context.Context, sess *models.ConversationSession, action conversation.Action) (string, error) {
	start := time.Now()
	stage := string(action)

	var err error
	switch action {
	case conversation.ActionRunCalculation:
		err = s.runCalculation(ctx, sess)
	case conversation.ActionRunAlternative:
		err = s.runAlternative(sess)
	case conversation.ActionPackageOutputs:
		err = s.packageOutputs(ctx, sess)
	default:
		err = stderrors.NewSessionStateError(string(sess.Stage), "unknown action "+stage)
	}

	if err != nil {
		metrics.StageFailed.WithLabelValues(stage, string(stderrors.Code(err))).Inc()
		return "", err
	}
	metrics.StageCompleted.WithLabelValues(stage).Inc()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return s.machine.PromptFor(sess), nil
}

func (s *Service) runCalculation(ctx context.Context, sess *models.ConversationSession) error {
	records, err := s.store.GetDataset(ctx, sess.DatasetRef)
	if err != nil {
		return err
	}

	filtered := tpr.Filter(records, sess.Selections)
	if len(filtered) == 0 {
		// Nothing to calculate; send the user back to pick a different level.
		sess.Stage = models.StageAwaitingFacilityLevel
		return stderrors.NewDataValidationError([]string{
			"no facilities match the selected region and facility level",
		})
	}

	result := s.calculator.Calculate(filtered, sess.Selections.AgeGroup)
	sess.Wards = result.Wards
	sess.ViolatingWards = s.detector.Detect(result.Wards)
	for range sess.ViolatingWards {
		metrics.ThresholdViolations.Inc()
	}
	sess.Stage = models.StageThresholdCheck

	s.logger.Info("calculation complete", map[string]interface{}{
		"sessionId":  sess.ID,
		"wards":      len(sess.Wards),
		"violations": len(sess.ViolatingWards),
	})
	return nil
}

func (s *Service) runAlternative(sess *models.ConversationSession) error {
	sess.Wards = s.detector.ApplyAlternative(sess.Wards, sess.ViolatingWards)
	sess.Stage = models.StageOutputReady

	s.logger.Info("alternative recalculation complete", map[string]interface{}{
		"sessionId": sess.ID,
		"wards":     len(sess.ViolatingWards),
	})
	return nil
}

func (s *Service) packageOutputs(ctx context.Context, sess *models.ConversationSession) error {
	start := time.Now()

	// The session completes only once the bundle is published; a failure here
	// leaves it at output_ready so the user can retry.
	sess.Stage = models.StageOutputReady

	_, zoneName, profile, ok := s.resolver.Resolve(sess.Selections.Region)
	if !ok {
		return stderrors.NewRegionNotRecognizedError(sess.Selections.Region)
	}

	fc, err := s.boundaries.WardBoundaries(ctx, sess.Selections.Region)
	if err != nil {
		s.recordRun(ctx, "failed")
		return err
	}
	geometries := boundaries.GeometriesByWard(fc)

	// Only wards with a resolved rate get covariates; unresolvable wards are
	// re-joined by the packager with blank covariate cells.
	resolvable := make([]models.WardTPR, 0, len(sess.Wards))
	for _, w := range sess.Wards {
		if !w.Unresolvable {
			resolvable = append(resolvable, w)
		}
	}

	extracted, err := s.extractor.Execute(ctx, &raster.Input{
		Zone:       zoneName,
		Profile:    profile,
		Period:     sess.ReportingPeriod,
		Wards:      resolvable,
		Geometries: geometries,
	})
	if err != nil {
		s.recordRun(ctx, "failed")
		return err
	}

	covariateNames := make([]string, 0, len(profile.Covariates))
	for _, cov := range profile.Covariates {
		covariateNames = append(covariateNames, cov.Name)
	}

	sess.RunID = uuid.NewString()
	bundle, err := s.packager.Execute(ctx, &output.Input{
		SessionID:       sess.ID,
		RunID:           sess.RunID,
		Selections:      sess.Selections,
		ReportingPeriod: sess.ReportingPeriod,
		Covariates:      covariateNames,
		Wards:           sess.Wards,
		Enriched:        extracted.Rows,
		Boundaries:      fc,
	})
	if err != nil {
		s.recordRun(ctx, "failed")
		return err
	}
	sess.BundleDir = bundle.Dir
	sess.Stage = models.StageComplete

	if s.audit != nil {
		if err := s.audit.IndexManifest(ctx, bundle.Manifest); err != nil {
			s.logger.Warn("manifest indexing failed", map[string]interface{}{
				"runId": sess.RunID,
				"error": err.Error(),
			})
		}
	}
	if s.notifier != nil {
		s.notifier.RunCompleted(ctx, bundle.Manifest,
			s.config.Notifications.Email.ToEmail,
			s.config.Notifications.SMS.PhoneNumber)
	}

	s.recordRun(ctx, "completed")
	if s.obs != nil {
		s.obs.RecordRunDuration(ctx, time.Since(start), "completed")
	}
	return nil
}

func (s *Service) recordRun(ctx context.Context, status string) {
	if s.obs != nil {
		s.obs.RecordRunProcessed(ctx, status)
	}
}
