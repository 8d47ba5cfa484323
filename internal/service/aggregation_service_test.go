package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

type mockAggregationStore struct {
	mu         sync.Mutex
	records    map[models.AggregationKey]*models.AggregationRecord
	pending    []models.AggregationKey
	failed     []string
	saves      int
	pendingErr error
	saveErr    error
	getErr     error
}

func newMockAggregationStore() *mockAggregationStore {
	return &mockAggregationStore{records: map[models.AggregationKey]*models.AggregationRecord{}}
}

func (m *mockAggregationStore) MarkPending(_ context.Context, key models.AggregationKey, schoolName, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return m.pendingErr
	}
	m.pending = append(m.pending, key)
	if existing, ok := m.records[key]; ok && existing.CalculationStatus == models.CalculationStatusCompleted {
		return nil
	}
	m.records[key] = &models.AggregationRecord{
		BatchCode:         key.BatchCode,
		AggregationLevel:  key.Level,
		SchoolID:          key.SchoolID,
		SchoolName:        schoolName,
		CalculationStatus: models.CalculationStatusPending,
		RunID:             runID,
	}
	return nil
}

func (m *mockAggregationStore) SaveCompleted(_ context.Context, record *models.AggregationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	record.CalculationStatus = models.CalculationStatusCompleted
	record.UpdatedAt = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clone := *record
	m.records[models.AggregationKey{BatchCode: record.BatchCode, Level: record.AggregationLevel, SchoolID: record.SchoolID}] = &clone
	return nil
}

func (m *mockAggregationStore) MarkFailed(_ context.Context, key models.AggregationKey, runID, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, message)
	existing, ok := m.records[key]
	if !ok || existing.CalculationStatus == models.CalculationStatusCompleted {
		return false, nil
	}
	existing.CalculationStatus = models.CalculationStatusFailed
	existing.ErrorMessage = &message
	existing.RunID = runID
	return true, nil
}

func (m *mockAggregationStore) Get(_ context.Context, key models.AggregationKey) (*models.AggregationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	record, ok := m.records[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *record
	return &clone, nil
}

func (m *mockAggregationStore) ListByBatch(_ context.Context, batchCode string) ([]models.AggregationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AggregationRecord
	for key, record := range m.records {
		if key.BatchCode == batchCode {
			out = append(out, *record)
		}
	}
	return out, nil
}

type stubCacheRepo struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.store {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.store, key)
		}
	}
	return nil
}

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestAggregationService(repo ScoreReader, store AggregationStore, cache *CacheService, metrics *MetricsService) *AggregationService {
	logger := zap.NewNop()
	subjects := NewSubjectService(repo, nil, metrics, logger, SubjectServiceConfig{ScaleLevel: 5, MinSample: 10})
	rankings := NewRankingService(repo, metrics, logger)
	svc := NewAggregationService(subjects, rankings, repo, store, cache, metrics, nil, logger, AggregationServiceConfig{CacheTTL: time.Minute})
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "run-1" }
	return svc
}

func subjectNames(report *models.AggregationReport) []string {
	names := make([]string, len(report.Subjects))
	for i, s := range report.Subjects {
		names[i] = s.Name
	}
	return names
}

func TestAggregateRegional(t *testing.T) {
	store := newMockAggregationStore()
	metrics := NewMetricsService()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, metrics)

	report, run, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: testBatch})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, "v1.2", report.SchemaVersion)
	assert.Equal(t, models.AggregationLevelRegional, report.AggregationLevel)
	assert.Empty(t, report.SchoolCode)
	assert.Equal(t, fixedNow, report.GeneratedAt)
	assert.Equal(t, []string{"Math", "Lab", "Wellbeing"}, subjectNames(report))
	assert.Equal(t, models.ReportMetadata{TotalStudents: 6, TotalSubjects: 3, TotalSchools: 3}, report.Metadata)

	math := report.Subjects[0]
	assert.Equal(t, models.SubjectTypeExam, math.Type)
	assert.Equal(t, 83.33, math.AvgScore)
	assert.Equal(t, 83.33, math.AvgScoreRatePct)
	assert.Equal(t, 83.33, math.DifficultyPct)
	assert.Equal(t, 100.0, math.MaxScore)
	assert.Nil(t, math.RegionRank)
	assert.Equal(t, []int{1, 1, 2}, ranks(math.SchoolRankings))
	assert.Equal(t, []string{"1001", "1002", "1003"}, codes(math.SchoolRankings))
	require.Len(t, math.Dimensions, 2)
	assert.Equal(t, "Algebra", math.Dimensions[0].Name)
	assert.Equal(t, 80.0, math.Dimensions[0].AvgScoreRatePct)
	assert.Equal(t, []int{1, 1, 2}, ranks(math.Dimensions[0].SchoolRankings))

	assert.Equal(t, models.SubjectTypeInteraction, report.Subjects[1].Type)
	wellbeing := report.Subjects[2]
	assert.Equal(t, models.SubjectTypeQuestionnaire, wellbeing.Type)
	require.NotNil(t, wellbeing.OptionDistribution)
	assert.Contains(t, wellbeing.OptionDistribution.Dimensions, "WB1")

	assert.Equal(t, RunStatePersisted, run.State)
	var states []RunState
	for _, h := range run.History {
		states = append(states, h.To)
	}
	assert.Equal(t, []RunState{
		RunStateRequested, RunStateComputingExam, RunStateComputingQuestionnaire,
		RunStateRanking, RunStateMerging, RunStateFormatting, RunStatePersisted,
	}, states)

	key := models.AggregationKey{BatchCode: testBatch, Level: models.AggregationLevelRegional}
	record, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, models.CalculationStatusCompleted, record.CalculationStatus)
	assert.Equal(t, "run-1", record.RunID)
	var stored map[string]interface{}
	require.NoError(t, record.StatisticsData.Unmarshal(&stored))
	assert.Equal(t, "v1.2", stored["schema_version"])
	assert.Equal(t, "REGIONAL", stored["aggregation_level"])
	assert.Len(t, stored["subjects"], 3)

	assert.Equal(t, uint64(1), metrics.Snapshot().AggregationsCompleted)
}

func TestAggregateSchoolLevel(t *testing.T) {
	store := newMockAggregationStore()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)

	report, _, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: testBatch, SchoolID: "S3"})
	require.NoError(t, err)

	assert.Equal(t, models.AggregationLevelSchool, report.AggregationLevel)
	assert.Equal(t, "1003", report.SchoolCode)
	assert.Equal(t, "East", report.SchoolName)
	assert.Equal(t, models.ReportMetadata{TotalStudents: 2, TotalSubjects: 1, TotalSchools: 1}, report.Metadata)
	require.Equal(t, []string{"Math"}, subjectNames(report))

	math := report.Subjects[0]
	assert.Empty(t, math.SchoolRankings)
	require.NotNil(t, math.RegionRank)
	require.NotNil(t, math.TotalSchools)
	assert.Equal(t, 2, *math.RegionRank)
	assert.Equal(t, 3, *math.TotalSchools)
	require.NotNil(t, math.Dimensions[0].Rank)
	assert.Equal(t, 2, *math.Dimensions[0].Rank)

	record, err := store.Get(context.Background(), models.AggregationKey{BatchCode: testBatch, Level: models.AggregationLevelSchool, SchoolID: "S3"})
	require.NoError(t, err)
	assert.Equal(t, "East", record.SchoolName)
}

func TestAggregateValidationWritesNothing(t *testing.T) {
	store := newMockAggregationStore()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)
	ctx := context.Background()

	_, run, err := svc.Aggregate(ctx, AggregationRequest{BatchCode: "G9-2030"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Nil(t, run)

	_, _, err = svc.Aggregate(ctx, AggregationRequest{BatchCode: testBatch, SchoolID: "S9"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = svc.Aggregate(ctx, AggregationRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Empty(t, store.pending)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.records)
}

func TestAggregatePersistenceFailureMarksFailed(t *testing.T) {
	store := newMockAggregationStore()
	store.saveErr = errors.New("connection reset")
	metrics := NewMetricsService()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, metrics)

	report, run, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: testBatch})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.Equal(t, RunStateFailed, run.State)
	assert.Equal(t, RunStateFormatting, run.History[len(run.History)-1].From)
	assert.ErrorIs(t, run.Err, appErrors.ErrPersistence)

	require.Len(t, store.failed, 1)
	record, err := store.Get(context.Background(), models.AggregationKey{BatchCode: testBatch, Level: models.AggregationLevelRegional})
	require.NoError(t, err)
	assert.Equal(t, models.CalculationStatusFailed, record.CalculationStatus)
	assert.Equal(t, uint64(1), metrics.Snapshot().AggregationsFailed)
}

func TestAggregateFailureKeepsCompletedDocument(t *testing.T) {
	store := newMockAggregationStore()
	key := models.AggregationKey{BatchCode: testBatch, Level: models.AggregationLevelRegional}
	previous := types.NullJSONText{JSONText: types.JSONText(`{"schema_version":"v1.2","subjects":[]}`), Valid: true}
	store.records[key] = &models.AggregationRecord{
		BatchCode:         testBatch,
		AggregationLevel:  models.AggregationLevelRegional,
		StatisticsData:    previous,
		CalculationStatus: models.CalculationStatusCompleted,
		RunID:             "run-0",
	}
	store.saveErr = errors.New("connection reset")
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)

	_, _, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: testBatch})
	require.Error(t, err)

	record, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, models.CalculationStatusCompleted, record.CalculationStatus)
	assert.Equal(t, "run-0", record.RunID)
	assert.Equal(t, previous, record.StatisticsData)
}

func TestAggregateNoData(t *testing.T) {
	store := newMockAggregationStore()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)

	_, run, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: "EMPTY-2025"})
	assert.ErrorIs(t, err, appErrors.ErrNoData)
	assert.Equal(t, RunStateFailed, run.State)
	assert.Equal(t, 0, store.saves)
}

func TestAggregatePendingFailure(t *testing.T) {
	store := newMockAggregationStore()
	store.pendingErr = errors.New("store unavailable")
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)

	_, run, err := svc.Aggregate(context.Background(), AggregationRequest{BatchCode: testBatch})
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.Equal(t, RunStateFailed, run.State)
	assert.Equal(t, RunStateRequested, run.History[len(run.History)-1].From)
}

func TestAggregateRefreshesCache(t *testing.T) {
	cacheRepo := &stubCacheRepo{store: map[string][]byte{
		"aggregation:G4-2025:overview":          []byte(`{"batch_code":"G4-2025"}`),
		"aggregation:G5-2025:report:REGIONAL":   []byte(`{}`),
		"aggregation:G4-2025:report:SCHOOL:S1": []byte(`{}`),
	}}
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	store := newMockAggregationStore()
	repo := newFixtureRepo()
	svc := newTestAggregationService(repo, store, cache, nil)
	ctx := context.Background()

	_, _, err := svc.Aggregate(ctx, AggregationRequest{BatchCode: testBatch})
	require.NoError(t, err)

	assert.NotContains(t, cacheRepo.store, "aggregation:G4-2025:overview")
	assert.NotContains(t, cacheRepo.store, "aggregation:G4-2025:report:SCHOOL:S1")
	assert.Contains(t, cacheRepo.store, "aggregation:G5-2025:report:REGIONAL")
	assert.Contains(t, cacheRepo.store, "aggregation:G4-2025:report:REGIONAL")

	store.getErr = errors.New("must be served from cache")
	result, err := svc.Result(ctx, testBatch, "")
	require.NoError(t, err)
	assert.Equal(t, models.CalculationStatusCompleted, result.Status)
	require.NotNil(t, result.Report)
	assert.Equal(t, []string{"Math", "Lab", "Wellbeing"}, subjectNames(result.Report))
}

func TestResultReadsStore(t *testing.T) {
	store := newMockAggregationStore()
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)
	ctx := context.Background()

	_, err := svc.Result(ctx, testBatch, "S1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, _, err = svc.Aggregate(ctx, AggregationRequest{BatchCode: testBatch, SchoolID: "S1"})
	require.NoError(t, err)

	result, err := svc.Result(ctx, testBatch, "S1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)
	require.NotNil(t, result.Report)
	assert.Equal(t, "1001", result.Report.SchoolCode)

	store.getErr = errors.New("timeout")
	_, err = svc.Result(ctx, testBatch, "S2")
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
}

func TestResultOfFailedRun(t *testing.T) {
	store := newMockAggregationStore()
	message := "no score data"
	store.records[models.AggregationKey{BatchCode: testBatch, Level: models.AggregationLevelRegional}] = &models.AggregationRecord{
		CalculationStatus: models.CalculationStatusFailed,
		ErrorMessage:      &message,
		RunID:             "run-9",
	}
	svc := newTestAggregationService(newFixtureRepo(), store, nil, nil)

	result, err := svc.Result(context.Background(), testBatch, "")
	require.NoError(t, err)
	assert.Equal(t, models.CalculationStatusFailed, result.Status)
	assert.Equal(t, message, result.ErrorMessage)
	assert.Nil(t, result.Report)
}

func TestBatchOverview(t *testing.T) {
	svc := newTestAggregationService(newFixtureRepo(), newMockAggregationStore(), nil, nil)

	overview, err := svc.BatchOverview(context.Background(), testBatch)
	require.NoError(t, err)
	assert.Equal(t, 6, overview.TotalStudents)
	assert.Equal(t, 3, overview.TotalSchools)
	assert.Equal(t, 3, overview.TotalSubjects)
	assert.Equal(t, 1, overview.ExamSubjects)
	assert.Equal(t, 1, overview.InteractionSubjects)
	assert.Equal(t, 1, overview.QuestionnaireSubjects)

	_, err = svc.BatchOverview(context.Background(), "G9-2030")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRunRejectsIllegalTransition(t *testing.T) {
	run := newRun("run-1", models.AggregationKey{BatchCode: testBatch}, fixedNow)
	require.Error(t, run.advance(RunStateRanking, fixedNow))
	require.NoError(t, run.advance(RunStateComputingExam, fixedNow))

	run.fail(assert.AnError, fixedNow)
	assert.Equal(t, RunStateFailed, run.State)
	assert.True(t, run.State.Terminal())
	assert.Equal(t, assert.AnError.Error(), run.Error())
	require.Error(t, run.advance(RunStateComputingQuestionnaire, fixedNow))

	run.fail(errors.New("second"), fixedNow)
	assert.Equal(t, assert.AnError, run.Err)
}
