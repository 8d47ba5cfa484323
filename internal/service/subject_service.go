package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/stats"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

// ScoreReader is the read-only view of the cleaned score tables.
type ScoreReader interface {
	BatchExists(ctx context.Context, batchCode string) (bool, error)
	FindSchool(ctx context.Context, batchCode, schoolID string) (*models.School, error)
	ListSchools(ctx context.Context, batchCode string) ([]models.School, error)
	ListSubjects(ctx context.Context, batchCode string) ([]models.SubjectInfo, error)
	CountStudents(ctx context.Context, batchCode string) (int, error)
	ListScoreFacts(ctx context.Context, filter models.ScoreFilter) ([]models.ScoreFact, error)
	ListQuestionConfigs(ctx context.Context, batchCode string) ([]models.QuestionConfig, error)
	ListDimensionDefinitions(ctx context.Context, batchCode string) ([]models.DimensionDefinition, error)
	ListQuestionDimensions(ctx context.Context, batchCode string) ([]models.QuestionDimension, error)
	ListQuestionnaireAnswers(ctx context.Context, filter models.ScoreFilter) ([]models.QuestionnaireAnswer, error)
}

// SubjectQuery scopes a subject aggregation. An empty SchoolID means the
// REGIONAL level.
type SubjectQuery struct {
	BatchCode   string               `validate:"required"`
	SchoolID    string               `validate:"omitempty"`
	SubjectName string               `validate:"omitempty"`
	Types       []models.SubjectType `validate:"omitempty,dive,oneof=exam interaction questionnaire"`
}

// Level returns the aggregation level implied by the query.
func (q SubjectQuery) Level() models.AggregationLevel {
	if q.SchoolID != "" {
		return models.AggregationLevelSchool
	}
	return models.AggregationLevelRegional
}

// SubjectResult is the outcome of a subject aggregation. NoData marks an
// empty population, which is not an error.
type SubjectResult struct {
	Level    models.AggregationLevel
	School   *models.School
	Subjects []models.SubjectStatistics
	Warnings []IntegrityWarning
	NoData   bool
}

// SubjectServiceConfig tunes the statistics computed per subject.
type SubjectServiceConfig struct {
	ScaleLevel int
	MinSample  int
}

// SubjectService computes per-subject statistics for exam, interaction and
// questionnaire subjects.
type SubjectService struct {
	repo      ScoreReader
	registry  aggregatorRegistry
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SubjectServiceConfig
}

// NewSubjectService creates a new subject service.
func NewSubjectService(repo ScoreReader, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg SubjectServiceConfig) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScaleLevel < 2 {
		cfg.ScaleLevel = 5
	}
	if cfg.MinSample <= 0 {
		cfg.MinSample = stats.DefaultMinSample
	}
	return &SubjectService{
		repo:      repo,
		registry:  newAggregatorRegistry(),
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// ResolveScope checks that the batch exists and, for the school level, that
// the school belongs to it. The returned school is nil at the REGIONAL level.
func (s *SubjectService) ResolveScope(ctx context.Context, batchCode, schoolID string) (*models.School, error) {
	batchCode = strings.TrimSpace(batchCode)
	if batchCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code is required")
	}
	exists, err := s.repo.BatchExists(ctx, batchCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to check batch")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown batch_code %s", batchCode))
	}
	if schoolID == "" {
		return nil, nil
	}
	school, err := s.repo.FindSchool(ctx, batchCode, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load school")
	}
	if school == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("school %s does not belong to batch %s", schoolID, batchCode))
	}
	return school, nil
}

// AggregateSubjects computes statistics for every subject of the query scope.
func (s *SubjectService) AggregateSubjects(ctx context.Context, query SubjectQuery) (*SubjectResult, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	school, err := s.ResolveScope(ctx, query.BatchCode, query.SchoolID)
	if err != nil {
		return nil, err
	}

	result := &SubjectResult{Level: query.Level(), School: school}
	filter := models.ScoreFilter{
		BatchCode:   query.BatchCode,
		SchoolID:    query.SchoolID,
		SubjectName: query.SubjectName,
		Types:       query.Types,
	}

	start := time.Now()
	facts, err := s.repo.ListScoreFacts(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load score facts")
	}
	s.metrics.ObserveDBQuery("score_facts", time.Since(start))
	if len(facts) == 0 {
		result.NoData = true
		return result, nil
	}

	maxScores, err := s.subjectMaxScores(ctx, query.BatchCode)
	if err != nil {
		return nil, err
	}
	dimensionNames, err := s.dimensionNames(ctx, query.BatchCode)
	if err != nil {
		return nil, err
	}

	grouped := groupFacts(facts)
	var questionnaire []string
	for _, name := range grouped.order {
		group := grouped.bySubject[name]
		agg, ok := s.registry.aggregatorFor(group.subjectType)
		if !ok {
			s.logger.Warn("unknown subject type", zap.String("subject", name), zap.String("type", string(group.subjectType)))
			continue
		}
		statistics, warnings := agg.Compute(Population{
			BatchCode:      query.BatchCode,
			Level:          result.Level,
			SchoolID:       query.SchoolID,
			SubjectName:    name,
			SubjectType:    group.subjectType,
			Facts:          group.facts,
			MaxScore:       maxScores[name],
			DimensionNames: dimensionNames[name],
			MinSample:      s.cfg.MinSample,
		})
		result.Warnings = append(result.Warnings, warnings...)
		if statistics.StudentCount == 0 {
			continue
		}
		result.Subjects = append(result.Subjects, statistics)
		if _, ok := agg.(OptionDistributor); ok {
			questionnaire = append(questionnaire, name)
		}
	}

	if len(questionnaire) > 0 {
		if err := s.attachOptionDistributions(ctx, query, result, questionnaire); err != nil {
			return nil, err
		}
	}

	s.reportWarnings(query, result.Warnings)
	if len(result.Subjects) == 0 {
		result.NoData = true
	}
	return result, nil
}

func (s *SubjectService) attachOptionDistributions(ctx context.Context, query SubjectQuery, result *SubjectResult, subjects []string) error {
	start := time.Now()
	answers, err := s.repo.ListQuestionnaireAnswers(ctx, models.ScoreFilter{
		BatchCode:   query.BatchCode,
		SchoolID:    query.SchoolID,
		SubjectName: query.SubjectName,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load questionnaire answers")
	}
	s.metrics.ObserveDBQuery("questionnaire_answers", time.Since(start))
	if len(answers) == 0 {
		return nil
	}

	mappingRows, err := s.repo.ListQuestionDimensions(ctx, query.BatchCode)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load question dimension mapping")
	}
	mapping := make(map[string]map[string]string)
	for _, row := range mappingRows {
		if mapping[row.SubjectName] == nil {
			mapping[row.SubjectName] = make(map[string]string)
		}
		mapping[row.SubjectName][row.QuestionID] = row.DimensionCode
	}

	bySubject := make(map[string][]models.QuestionnaireAnswer)
	for _, answer := range answers {
		bySubject[answer.SubjectName] = append(bySubject[answer.SubjectName], answer)
	}

	wanted := make(map[string]bool, len(subjects))
	for _, name := range subjects {
		wanted[name] = true
	}
	for i := range result.Subjects {
		subject := &result.Subjects[i]
		if !wanted[subject.SubjectName] {
			continue
		}
		agg, _ := s.registry.aggregatorFor(subject.SubjectType)
		distributor, ok := agg.(OptionDistributor)
		if !ok {
			continue
		}
		dist, warnings := distributor.OptionDistribution(subject.SubjectName, bySubject[subject.SubjectName], mapping[subject.SubjectName], s.cfg.ScaleLevel)
		subject.OptionDistribution = dist
		result.Warnings = append(result.Warnings, warnings...)
	}
	return nil
}

// subjectMaxScores sums the configured question max scores per subject.
func (s *SubjectService) subjectMaxScores(ctx context.Context, batchCode string) (map[string]float64, error) {
	configs, err := s.repo.ListQuestionConfigs(ctx, batchCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load subject configuration")
	}
	questionMax := make(map[string][]float64)
	for _, cfg := range configs {
		questionMax[cfg.SubjectName] = append(questionMax[cfg.SubjectName], cfg.MaxScore)
	}
	totals := make(map[string]float64, len(questionMax))
	for subject, values := range questionMax {
		totals[subject] = stats.SubjectMaxScore(values)
	}
	return totals, nil
}

func (s *SubjectService) dimensionNames(ctx context.Context, batchCode string) (map[string]map[string]string, error) {
	defs, err := s.repo.ListDimensionDefinitions(ctx, batchCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load dimension definitions")
	}
	names := make(map[string]map[string]string)
	for _, def := range defs {
		if names[def.SubjectName] == nil {
			names[def.SubjectName] = make(map[string]string)
		}
		names[def.SubjectName][def.DimensionCode] = def.DimensionName
	}
	return names, nil
}

func (s *SubjectService) reportWarnings(query SubjectQuery, warnings []IntegrityWarning) {
	for _, w := range warnings {
		s.logger.Warn("data integrity warning",
			zap.String("batch_code", query.BatchCode),
			zap.String("school_id", query.SchoolID),
			zap.String("student_id", w.StudentID),
			zap.String("subject", w.SubjectName),
			zap.String("reason", w.Reason),
			zap.String("detail", w.Detail),
		)
		s.metrics.RecordIntegrityWarning(w.Reason)
	}
}

type subjectGroup struct {
	subjectType models.SubjectType
	facts       []models.ScoreFact
}

type groupedFacts struct {
	order     []string
	bySubject map[string]*subjectGroup
}

// groupFacts splits facts by subject, ordered by subject type then name.
func groupFacts(facts []models.ScoreFact) groupedFacts {
	grouped := groupedFacts{bySubject: make(map[string]*subjectGroup)}
	for _, fact := range facts {
		group, ok := grouped.bySubject[fact.SubjectName]
		if !ok {
			group = &subjectGroup{subjectType: fact.SubjectType}
			grouped.bySubject[fact.SubjectName] = group
			grouped.order = append(grouped.order, fact.SubjectName)
		}
		group.facts = append(group.facts, fact)
	}
	sort.SliceStable(grouped.order, func(i, j int) bool {
		a, b := grouped.bySubject[grouped.order[i]], grouped.bySubject[grouped.order[j]]
		if a.subjectType.Order() != b.subjectType.Order() {
			return a.subjectType.Order() < b.subjectType.Order()
		}
		return grouped.order[i] < grouped.order[j]
	})
	return grouped
}
