package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/precision"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
	"github.com/noah-isme/assessment-stats-api/pkg/middleware/requestid"
)

// DefaultSchemaVersion is the version stamped on persisted documents.
const DefaultSchemaVersion = "v1.2"

// AggregationStore persists aggregation documents.
type AggregationStore interface {
	MarkPending(ctx context.Context, key models.AggregationKey, schoolName, runID string) error
	SaveCompleted(ctx context.Context, record *models.AggregationRecord) error
	MarkFailed(ctx context.Context, key models.AggregationKey, runID, message string) (bool, error)
	Get(ctx context.Context, key models.AggregationKey) (*models.AggregationRecord, error)
	ListByBatch(ctx context.Context, batchCode string) ([]models.AggregationRecord, error)
}

// AggregationRequest asks for one aggregation run. An empty SchoolID runs
// the REGIONAL level.
type AggregationRequest struct {
	BatchCode string `json:"batch_code" validate:"required,max=64"`
	SchoolID  string `json:"school_id" validate:"omitempty,max=64"`
}

// Key returns the natural key of the document the request produces.
func (r AggregationRequest) Key() models.AggregationKey {
	level := models.AggregationLevelRegional
	if r.SchoolID != "" {
		level = models.AggregationLevelSchool
	}
	return models.AggregationKey{BatchCode: r.BatchCode, Level: level, SchoolID: r.SchoolID}
}

// AggregationResult is a stored document together with its lifecycle status.
type AggregationResult struct {
	Status       models.CalculationStatus  `json:"calculation_status"`
	RunID        string                    `json:"run_id"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
	Report       *models.AggregationReport `json:"report,omitempty"`
}

// AggregationServiceConfig carries the document settings.
type AggregationServiceConfig struct {
	SchemaVersion string
	CacheTTL      time.Duration
}

// AggregationService coordinates a multi-layer aggregation run: subject
// statistics, cross-school rankings, merging, formatting and persistence.
type AggregationService struct {
	subjects  *SubjectService
	rankings  *RankingService
	reader    ScoreReader
	store     AggregationStore
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AggregationServiceConfig
	now       func() time.Time
	newID     func() string
}

// NewAggregationService wires the coordinator.
func NewAggregationService(
	subjects *SubjectService,
	rankings *RankingService,
	reader ScoreReader,
	store AggregationStore,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AggregationServiceConfig,
) *AggregationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = DefaultSchemaVersion
	}
	return &AggregationService{
		subjects:  subjects,
		rankings:  rankings,
		reader:    reader,
		store:     store,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Aggregate runs one aggregation and persists its document. Validation
// errors are returned before anything is written. Any later failure marks
// the run FAILED and leaves a previously COMPLETED document untouched.
func (s *AggregationService) Aggregate(ctx context.Context, req AggregationRequest) (*models.AggregationReport, *Run, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	school, err := s.subjects.ResolveScope(ctx, req.BatchCode, req.SchoolID)
	if err != nil {
		return nil, nil, err
	}

	key := req.Key()
	run := newRun(s.newID(), key, s.now())
	s.logState(run)

	schoolName := ""
	if school != nil {
		schoolName = school.SchoolName
	}
	if err := s.store.MarkPending(ctx, key, schoolName, run.ID); err != nil {
		return nil, run, s.failRun(ctx, run, persistenceError(err, "failed to mark aggregation pending"))
	}

	report, err := s.execute(ctx, run, school)
	if err != nil {
		return nil, run, s.failRun(ctx, run, err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, run, s.failRun(ctx, run, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode report"))
	}
	record := &models.AggregationRecord{
		BatchCode:        key.BatchCode,
		AggregationLevel: key.Level,
		SchoolID:         key.SchoolID,
		SchoolName:       schoolName,
		StatisticsData:   types.NullJSONText{JSONText: types.JSONText(payload), Valid: true},
		RunID:            run.ID,
	}
	if err := s.store.SaveCompleted(ctx, record); err != nil {
		return nil, run, s.failRun(ctx, run, persistenceError(err, "failed to persist aggregation"))
	}
	if err := s.transition(run, RunStatePersisted); err != nil {
		return nil, run, err
	}

	s.metrics.ObserveAggregation(key.Level, models.CalculationStatusCompleted, s.now().Sub(run.StartedAt))
	_ = s.cache.InvalidateBatch(ctx, key.BatchCode)
	_ = s.cache.Set(ctx, reportCacheKey(key), AggregationResult{
		Status:    models.CalculationStatusCompleted,
		RunID:     run.ID,
		UpdatedAt: record.UpdatedAt,
		Report:    report,
	}, s.cfg.CacheTTL)

	s.logger.Info("aggregation persisted",
		zap.String("run_id", run.ID),
		zap.String("request_id", requestid.FromContext(ctx)),
		zap.String("batch_code", key.BatchCode),
		zap.String("level", string(key.Level)),
		zap.String("school_id", key.SchoolID),
		zap.Int("subjects", len(report.Subjects)),
	)
	return report, run, nil
}

func (s *AggregationService) execute(ctx context.Context, run *Run, school *models.School) (*models.AggregationReport, error) {
	key := run.Key

	if err := s.transition(run, RunStateComputingExam); err != nil {
		return nil, err
	}
	exam, err := s.subjects.AggregateSubjects(ctx, SubjectQuery{
		BatchCode: key.BatchCode,
		SchoolID:  key.SchoolID,
		Types:     models.ExamSubjectTypes,
	})
	if err != nil {
		return nil, err
	}

	if err := s.transition(run, RunStateComputingQuestionnaire); err != nil {
		return nil, err
	}
	questionnaire, err := s.subjects.AggregateSubjects(ctx, SubjectQuery{
		BatchCode: key.BatchCode,
		SchoolID:  key.SchoolID,
		Types:     []models.SubjectType{models.SubjectTypeQuestionnaire},
	})
	if err != nil {
		return nil, err
	}
	if exam.NoData && questionnaire.NoData {
		return nil, appErrors.Clone(appErrors.ErrNoData, fmt.Sprintf("no score data for batch %s", key.BatchCode))
	}

	if err := s.transition(run, RunStateRanking); err != nil {
		return nil, err
	}
	rankings, err := s.rankings.BatchRankings(ctx, key.BatchCode, "")
	if err != nil {
		return nil, err
	}

	if err := s.transition(run, RunStateMerging); err != nil {
		return nil, err
	}
	statistics := append(append([]models.SubjectStatistics{}, exam.Subjects...), questionnaire.Subjects...)
	report, err := s.merge(ctx, key, school, statistics, rankings)
	if err != nil {
		return nil, err
	}

	if err := s.transition(run, RunStateFormatting); err != nil {
		return nil, err
	}
	warnings, err := precision.FormatReport(report)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to format report")
	}
	for _, w := range warnings {
		s.logger.Warn("percentage clamped",
			zap.String("run_id", run.ID),
			zap.String("path", w.Path),
			zap.Float64("value", w.Value),
		)
		s.metrics.RecordIntegrityWarning(ReasonPercentOutOfRange)
	}
	return report, nil
}

// merge builds the unified document: one subjects list ordered exam,
// interaction, questionnaire and then by name.
func (s *AggregationService) merge(ctx context.Context, key models.AggregationKey, school *models.School, statistics []models.SubjectStatistics, rankings map[string]*SubjectRanking) (*models.AggregationReport, error) {
	sort.SliceStable(statistics, func(i, j int) bool {
		a, b := statistics[i], statistics[j]
		if a.SubjectType.Order() != b.SubjectType.Order() {
			return a.SubjectType.Order() < b.SubjectType.Order()
		}
		return a.SubjectName < b.SubjectName
	})

	subjects := make([]models.SubjectReport, 0, len(statistics))
	for _, st := range statistics {
		subjects = append(subjects, buildSubjectReport(key, st, rankings[st.SubjectName]))
	}

	report := &models.AggregationReport{
		SchemaVersion:    s.cfg.SchemaVersion,
		AggregationLevel: key.Level,
		BatchCode:        key.BatchCode,
		Subjects:         subjects,
		GeneratedAt:      s.now().Truncate(time.Second),
	}
	report.Metadata.TotalSubjects = len(subjects)

	if school != nil {
		report.SchoolCode = school.SchoolCode
		report.SchoolName = school.SchoolName
		report.Metadata.TotalStudents = school.StudentCount
		report.Metadata.TotalSchools = 1
		return report, nil
	}

	students, err := s.reader.CountStudents(ctx, key.BatchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to count students")
	}
	schools, err := s.reader.ListSchools(ctx, key.BatchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list schools")
	}
	report.Metadata.TotalStudents = students
	report.Metadata.TotalSchools = len(schools)
	return report, nil
}

func buildSubjectReport(key models.AggregationKey, st models.SubjectStatistics, ranking *SubjectRanking) models.SubjectReport {
	subject := models.SubjectReport{
		Name:               st.SubjectName,
		Type:               st.SubjectType,
		StudentCount:       st.StudentCount,
		AvgScore:           st.Mean,
		StdDeviation:       st.StdDev,
		AvgScoreRatePct:    precision.ToPct(st.ScoreRate),
		Discrimination:     st.Discrimination,
		DifficultyPct:      precision.ToPct(st.Difficulty),
		MaxScore:           st.MaxScore,
		Percentiles:        st.Percentiles,
		OptionDistribution: st.OptionDistribution,
		Dimensions:         make([]models.DimensionReport, 0, len(st.Dimensions)),
	}

	regional := key.Level == models.AggregationLevelRegional
	if ranking != nil {
		if regional {
			subject.SchoolRankings = ranking.Schools
		} else if rank, total, ok := SchoolPosition(ranking.Schools, key.SchoolID); ok {
			subject.RegionRank = intPtr(rank)
			subject.TotalSchools = intPtr(total)
		}
	}

	for _, dim := range st.Dimensions {
		entry := models.DimensionReport{
			Code:            dim.Code,
			Name:            dim.Name,
			AvgScore:        dim.Mean,
			AvgScoreRatePct: precision.ToPct(dim.ScoreRate),
			StdDeviation:    dim.StdDev,
			Discrimination:  dim.Discrimination,
			DifficultyPct:   precision.ToPct(dim.Difficulty),
		}
		if ranking != nil {
			if regional {
				entry.SchoolRankings = ranking.Dimensions[dim.Code]
			} else if rank, _, ok := SchoolPosition(ranking.Dimensions[dim.Code], key.SchoolID); ok {
				entry.Rank = intPtr(rank)
			}
		}
		subject.Dimensions = append(subject.Dimensions, entry)
	}
	return subject
}

func (s *AggregationService) transition(run *Run, to RunState) error {
	if err := run.advance(to, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid aggregation state")
	}
	s.logState(run)
	return nil
}

// failRun records the failure. The returned error is always the
// originating one; a failure to record it is only logged.
func (s *AggregationService) failRun(ctx context.Context, run *Run, cause error) error {
	run.fail(cause, s.now())
	s.logState(run)
	s.metrics.ObserveAggregation(run.Key.Level, models.CalculationStatusFailed, s.now().Sub(run.StartedAt))

	changed, err := s.store.MarkFailed(ctx, run.Key, run.ID, cause.Error())
	if err != nil {
		s.logger.Error("mark aggregation failed", zap.String("run_id", run.ID), zap.Error(err))
	} else if !changed {
		s.logger.Info("kept previous completed aggregation", zap.String("run_id", run.ID))
	}
	s.logger.Warn("aggregation failed",
		zap.String("run_id", run.ID),
		zap.String("request_id", requestid.FromContext(ctx)),
		zap.String("batch_code", run.Key.BatchCode),
		zap.String("level", string(run.Key.Level)),
		zap.String("school_id", run.Key.SchoolID),
		zap.Error(cause),
	)
	return cause
}

func (s *AggregationService) logState(run *Run) {
	s.logger.Debug("aggregation state",
		zap.String("run_id", run.ID),
		zap.String("batch_code", run.Key.BatchCode),
		zap.String("level", string(run.Key.Level)),
		zap.String("school_id", run.Key.SchoolID),
		zap.String("state", string(run.State)),
	)
}

// Result returns the stored document of a key, read through the cache.
func (s *AggregationService) Result(ctx context.Context, batchCode, schoolID string) (*AggregationResult, error) {
	req := AggregationRequest{BatchCode: batchCode, SchoolID: schoolID}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	key := req.Key()
	cacheKey := reportCacheKey(key)

	var cached AggregationResult
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	start := time.Now()
	record, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no aggregation for batch %s", batchCode))
		}
		return nil, persistenceError(err, "failed to load aggregation")
	}
	s.metrics.ObserveDBQuery("aggregation_get", time.Since(start))

	result := &AggregationResult{
		Status:    record.CalculationStatus,
		RunID:     record.RunID,
		UpdatedAt: record.UpdatedAt,
	}
	if record.ErrorMessage != nil {
		result.ErrorMessage = *record.ErrorMessage
	}
	if record.StatisticsData.Valid && len(record.StatisticsData.JSONText) > 0 {
		var report models.AggregationReport
		if err := record.StatisticsData.Unmarshal(&report); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored aggregation is corrupt")
		}
		result.Report = &report
	}
	if result.Status == models.CalculationStatusCompleted {
		_ = s.cache.Set(ctx, cacheKey, result, s.cfg.CacheTTL)
	}
	return result, nil
}

// Records lists the stored aggregation rows of a batch.
func (s *AggregationService) Records(ctx context.Context, batchCode string) ([]models.AggregationRecord, error) {
	if batchCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code is required")
	}
	records, err := s.store.ListByBatch(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list aggregations")
	}
	return records, nil
}

// BatchOverview summarises the population of a batch.
func (s *AggregationService) BatchOverview(ctx context.Context, batchCode string) (*models.BatchOverview, error) {
	if _, err := s.subjects.ResolveScope(ctx, batchCode, ""); err != nil {
		return nil, err
	}
	cacheKey := makeAggregationCacheKey(batchCode, "overview")
	var cached models.BatchOverview
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	start := time.Now()
	students, err := s.reader.CountStudents(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to count students")
	}
	schools, err := s.reader.ListSchools(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list schools")
	}
	subjects, err := s.reader.ListSubjects(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list subjects")
	}
	s.metrics.ObserveDBQuery("batch_overview", time.Since(start))

	overview := &models.BatchOverview{
		BatchCode:     batchCode,
		TotalStudents: students,
		TotalSchools:  len(schools),
		TotalSubjects: len(subjects),
		Subjects:      subjects,
		Schools:       schools,
	}
	for _, subject := range subjects {
		switch subject.SubjectType {
		case models.SubjectTypeExam:
			overview.ExamSubjects++
		case models.SubjectTypeInteraction:
			overview.InteractionSubjects++
		case models.SubjectTypeQuestionnaire:
			overview.QuestionnaireSubjects++
		}
	}
	_ = s.cache.Set(ctx, cacheKey, overview, s.cfg.CacheTTL)
	return overview, nil
}

func reportCacheKey(key models.AggregationKey) string {
	return makeAggregationCacheKey(key.BatchCode, "report", string(key.Level), key.SchoolID)
}

func persistenceError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, message)
}

func intPtr(v int) *int {
	return &v
}
