package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

const testBatch = "G4-2025"

type mockScoreRepo struct {
	batches    map[string]bool
	facts      []models.ScoreFact
	configs    []models.QuestionConfig
	dimensions []models.DimensionDefinition
	mapping    []models.QuestionDimension
	answers    []models.QuestionnaireAnswer
	factsErr   error
	factCalls  int
}

func (m *mockScoreRepo) BatchExists(_ context.Context, batchCode string) (bool, error) {
	if m.batches[batchCode] {
		return true, nil
	}
	for _, f := range m.facts {
		if f.BatchCode == batchCode {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockScoreRepo) FindSchool(ctx context.Context, batchCode, schoolID string) (*models.School, error) {
	schools, _ := m.ListSchools(ctx, batchCode)
	for _, s := range schools {
		if s.SchoolID == schoolID {
			school := s
			return &school, nil
		}
	}
	return nil, nil
}

func (m *mockScoreRepo) ListSchools(_ context.Context, batchCode string) ([]models.School, error) {
	var schools []models.School
	students := map[string]map[string]bool{}
	for _, f := range m.facts {
		if f.BatchCode != batchCode {
			continue
		}
		if students[f.SchoolID] == nil {
			students[f.SchoolID] = map[string]bool{}
			schools = append(schools, models.School{SchoolID: f.SchoolID, SchoolCode: f.SchoolCode, SchoolName: f.SchoolName})
		}
		students[f.SchoolID][f.StudentID] = true
	}
	for i := range schools {
		schools[i].StudentCount = len(students[schools[i].SchoolID])
	}
	return schools, nil
}

func (m *mockScoreRepo) ListSubjects(_ context.Context, batchCode string) ([]models.SubjectInfo, error) {
	var subjects []models.SubjectInfo
	index := map[string]int{}
	for _, f := range m.facts {
		if f.BatchCode != batchCode {
			continue
		}
		i, ok := index[f.SubjectName]
		if !ok {
			index[f.SubjectName] = len(subjects)
			subjects = append(subjects, models.SubjectInfo{SubjectName: f.SubjectName, SubjectType: f.SubjectType})
			i = len(subjects) - 1
		}
		subjects[i].StudentCount++
	}
	return subjects, nil
}

func (m *mockScoreRepo) CountStudents(_ context.Context, batchCode string) (int, error) {
	students := map[string]bool{}
	for _, f := range m.facts {
		if f.BatchCode == batchCode {
			students[f.StudentID] = true
		}
	}
	return len(students), nil
}

func (m *mockScoreRepo) ListScoreFacts(_ context.Context, filter models.ScoreFilter) ([]models.ScoreFact, error) {
	m.factCalls++
	if m.factsErr != nil {
		return nil, m.factsErr
	}
	var out []models.ScoreFact
	for _, f := range m.facts {
		if f.BatchCode != filter.BatchCode {
			continue
		}
		if filter.SchoolID != "" && f.SchoolID != filter.SchoolID {
			continue
		}
		if filter.SubjectName != "" && f.SubjectName != filter.SubjectName {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, f.SubjectType) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *mockScoreRepo) ListQuestionConfigs(_ context.Context, _ string) ([]models.QuestionConfig, error) {
	return m.configs, nil
}

func (m *mockScoreRepo) ListDimensionDefinitions(_ context.Context, _ string) ([]models.DimensionDefinition, error) {
	return m.dimensions, nil
}

func (m *mockScoreRepo) ListQuestionDimensions(_ context.Context, _ string) ([]models.QuestionDimension, error) {
	return m.mapping, nil
}

func (m *mockScoreRepo) ListQuestionnaireAnswers(_ context.Context, filter models.ScoreFilter) ([]models.QuestionnaireAnswer, error) {
	var out []models.QuestionnaireAnswer
	for _, a := range m.answers {
		if filter.SchoolID != "" && a.SchoolID != filter.SchoolID {
			continue
		}
		if filter.SubjectName != "" && a.SubjectName != filter.SubjectName {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func containsType(list []models.SubjectType, t models.SubjectType) bool {
	for _, candidate := range list {
		if candidate == t {
			return true
		}
	}
	return false
}

type fixtureSchool struct{ id, code, name string }

var (
	schoolNorth = fixtureSchool{"S1", "1001", "North"}
	schoolSouth = fixtureSchool{"S2", "1002", "South"}
	schoolEast  = fixtureSchool{"S3", "1003", "East"}
)

func mathFact(s fixtureSchool, student string, total, d1, d2 float64) models.ScoreFact {
	return models.ScoreFact{
		BatchCode:          testBatch,
		StudentID:          student,
		SubjectName:        "Math",
		SubjectType:        models.SubjectTypeExam,
		SchoolID:           s.id,
		SchoolCode:         s.code,
		SchoolName:         s.name,
		TotalScore:         total,
		MaxScore:           100,
		DimensionScores:    types.JSONText(`{"D1":{"name":"Algebra","score":` + ftoa(d1) + `},"D2":` + ftoa(d2) + `}`),
		DimensionMaxScores: types.JSONText(`{"D1":{"name":"Algebra","max_score":50},"D2":{"max_score":50}}`),
	}
}

func simpleFact(s fixtureSchool, student, subject string, subjectType models.SubjectType, total, max float64) models.ScoreFact {
	return models.ScoreFact{
		BatchCode:   testBatch,
		StudentID:   student,
		SubjectName: subject,
		SubjectType: subjectType,
		SchoolID:    s.id,
		SchoolCode:  s.code,
		SchoolName:  s.name,
		TotalScore:  total,
		MaxScore:    max,
	}
}

func answer(s fixtureSchool, student, question string, original float64) models.QuestionnaireAnswer {
	return models.QuestionnaireAnswer{
		StudentID:     student,
		SchoolID:      s.id,
		SubjectName:   "Wellbeing",
		QuestionID:    question,
		OriginalScore: original,
		MaxScore:      5,
		ScaleLevel:    5,
	}
}

func ftoa(v float64) string {
	return formatNumber(v)
}

// newFixtureRepo builds three schools where Math averages are 85, 85 and 80.
func newFixtureRepo() *mockScoreRepo {
	return &mockScoreRepo{
		batches: map[string]bool{"EMPTY-2025": true},
		facts: []models.ScoreFact{
			mathFact(schoolNorth, "st1", 80, 40, 40),
			mathFact(schoolNorth, "st2", 90, 45, 45),
			mathFact(schoolSouth, "st3", 85, 40, 45),
			mathFact(schoolSouth, "st4", 85, 45, 40),
			mathFact(schoolEast, "st5", 80, 35, 45),
			mathFact(schoolEast, "st6", 80, 35, 45),
			simpleFact(schoolNorth, "st1", "Lab", models.SubjectTypeInteraction, 8, 10),
			simpleFact(schoolSouth, "st3", "Lab", models.SubjectTypeInteraction, 6, 10),
			simpleFact(schoolNorth, "st1", "Wellbeing", models.SubjectTypeQuestionnaire, 9, 10),
			simpleFact(schoolNorth, "st2", "Wellbeing", models.SubjectTypeQuestionnaire, 8, 10),
			simpleFact(schoolSouth, "st3", "Wellbeing", models.SubjectTypeQuestionnaire, 7, 10),
		},
		configs: []models.QuestionConfig{
			{BatchCode: testBatch, SubjectName: "Math", QuestionID: "Q1", MaxScore: 20},
			{BatchCode: testBatch, SubjectName: "Math", QuestionID: "Q2", MaxScore: 30},
			{BatchCode: testBatch, SubjectName: "Math", QuestionID: "Q3", MaxScore: 50},
			{BatchCode: testBatch, SubjectName: "Wellbeing", QuestionID: "Q1", MaxScore: 5},
			{BatchCode: testBatch, SubjectName: "Wellbeing", QuestionID: "Q2", MaxScore: 5},
		},
		dimensions: []models.DimensionDefinition{
			{BatchCode: testBatch, SubjectName: "Math", DimensionCode: "D1", DimensionName: "Algebra"},
			{BatchCode: testBatch, SubjectName: "Math", DimensionCode: "D2", DimensionName: "Geometry"},
		},
		mapping: []models.QuestionDimension{
			{SubjectName: "Wellbeing", QuestionID: "Q1", DimensionCode: "WB1"},
			{SubjectName: "Wellbeing", QuestionID: "Q2", DimensionCode: "WB1"},
		},
		answers: []models.QuestionnaireAnswer{
			answer(schoolNorth, "st1", "Q1", 5),
			answer(schoolNorth, "st1", "Q2", 4),
			answer(schoolNorth, "st2", "Q1", 4),
			answer(schoolNorth, "st2", "Q2", 4),
			answer(schoolSouth, "st3", "Q1", 3),
			answer(schoolSouth, "st3", "Q2", 5),
		},
	}
}

func newTestSubjectService(repo ScoreReader, metrics *MetricsService) *SubjectService {
	return NewSubjectService(repo, nil, metrics, zap.NewNop(), SubjectServiceConfig{ScaleLevel: 5, MinSample: 10})
}

func TestAggregateSubjectsRegionalExam(t *testing.T) {
	svc := newTestSubjectService(newFixtureRepo(), nil)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: testBatch, Types: models.ExamSubjectTypes})
	require.NoError(t, err)
	assert.False(t, result.NoData)
	assert.Equal(t, models.AggregationLevelRegional, result.Level)
	assert.Nil(t, result.School)
	require.Len(t, result.Subjects, 2)

	math := result.Subjects[0]
	assert.Equal(t, "Math", math.SubjectName)
	assert.Equal(t, models.SubjectTypeExam, math.SubjectType)
	assert.Equal(t, 6, math.StudentCount)
	assert.InDelta(t, 83.3333, math.Mean, 1e-3)
	assert.InDelta(t, 0.8333, math.ScoreRate, 1e-3)
	assert.Equal(t, 0.0, math.Discrimination, "six students is below the minimum sample")
	require.Len(t, math.Dimensions, 2)
	assert.Equal(t, "Algebra", math.Dimensions[0].Name)
	assert.Equal(t, "Geometry", math.Dimensions[1].Name)
	assert.InDelta(t, 40.0, math.Dimensions[0].Mean, 1e-9)
	assert.Nil(t, math.OptionDistribution)

	lab := result.Subjects[1]
	assert.Equal(t, "Lab", lab.SubjectName)
	assert.Equal(t, models.SubjectTypeInteraction, lab.SubjectType)
	assert.Equal(t, 10.0, lab.MaxScore, "without configuration the record max score is used")
	assert.Empty(t, lab.Dimensions)
}

func TestAggregateSubjectsMaxScoreIsQuestionSum(t *testing.T) {
	svc := newTestSubjectService(newFixtureRepo(), nil)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: testBatch, SubjectName: "Math"})
	require.NoError(t, err)
	require.Len(t, result.Subjects, 1)
	assert.Equal(t, 100.0, result.Subjects[0].MaxScore)
	assert.NotEqual(t, 50.0, result.Subjects[0].MaxScore)
}

func TestAggregateSubjectsSchoolScope(t *testing.T) {
	svc := newTestSubjectService(newFixtureRepo(), nil)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: testBatch, SchoolID: "S3", Types: models.ExamSubjectTypes})
	require.NoError(t, err)
	assert.Equal(t, models.AggregationLevelSchool, result.Level)
	require.NotNil(t, result.School)
	assert.Equal(t, "1003", result.School.SchoolCode)
	require.Len(t, result.Subjects, 1)
	assert.Equal(t, 80.0, result.Subjects[0].Mean)
	assert.Equal(t, 0.0, result.Subjects[0].StdDev)
	assert.Equal(t, "S3", result.Subjects[0].SchoolID)
}

func TestAggregateSubjectsValidation(t *testing.T) {
	repo := newFixtureRepo()
	svc := newTestSubjectService(repo, nil)
	ctx := context.Background()

	_, err := svc.AggregateSubjects(ctx, SubjectQuery{BatchCode: "G9-2030"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AggregateSubjects(ctx, SubjectQuery{BatchCode: testBatch, SchoolID: "S9"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AggregateSubjects(ctx, SubjectQuery{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AggregateSubjects(ctx, SubjectQuery{BatchCode: testBatch, Types: []models.SubjectType{"essay"}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, repo.factCalls)
}

func TestAggregateSubjectsNoData(t *testing.T) {
	svc := newTestSubjectService(newFixtureRepo(), nil)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: "EMPTY-2025"})
	require.NoError(t, err)
	assert.True(t, result.NoData)
	assert.Empty(t, result.Subjects)
}

func TestAggregateSubjectsPersistenceError(t *testing.T) {
	repo := newFixtureRepo()
	repo.factsErr = assert.AnError
	svc := newTestSubjectService(repo, nil)

	_, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: testBatch})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAggregateSubjectsSkipsIntegrityViolations(t *testing.T) {
	repo := newFixtureRepo()
	bad := mathFact(schoolEast, "st7", 120, 35, 45)
	malformed := mathFact(schoolEast, "st8", 70, 30, 40)
	malformed.DimensionScores = types.JSONText(`{"D1":`)
	unknown := mathFact(schoolEast, "st9", 60, 30, 30)
	unknown.DimensionScores = types.JSONText(`{"D1":30,"D2":30,"DX":1}`)
	repo.facts = append(repo.facts, bad, malformed, unknown)
	metrics := NewMetricsService()
	svc := newTestSubjectService(repo, metrics)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{BatchCode: testBatch, SubjectName: "Math"})
	require.NoError(t, err)
	require.Len(t, result.Subjects, 1)
	assert.Equal(t, 8, result.Subjects[0].StudentCount, "score above max is dropped, malformed dimensions keep the total")

	reasons := map[string]int{}
	for _, w := range result.Warnings {
		reasons[w.Reason]++
	}
	assert.Equal(t, 1, reasons["score_exceeds_max"])
	assert.Equal(t, 1, reasons[ReasonMalformedDimension])
	assert.Equal(t, 1, reasons[ReasonUnknownDimension])
	assert.Equal(t, uint64(3), metrics.Snapshot().IntegrityWarnings)

	for _, dim := range result.Subjects[0].Dimensions {
		assert.NotEqual(t, "DX", dim.Code)
	}
}

func TestQuestionnaireOptionDistribution(t *testing.T) {
	svc := newTestSubjectService(newFixtureRepo(), nil)

	result, err := svc.AggregateSubjects(context.Background(), SubjectQuery{
		BatchCode: testBatch,
		Types:     []models.SubjectType{models.SubjectTypeQuestionnaire},
	})
	require.NoError(t, err)
	require.Len(t, result.Subjects, 1)
	dist := result.Subjects[0].OptionDistribution
	require.NotNil(t, dist)
	require.Len(t, dist.Questions, 2)
	require.Contains(t, dist.Dimensions, "WB1")

	groups := map[string][]models.OptionShare{}
	for k, v := range dist.Questions {
		groups["q:"+k] = v
	}
	for k, v := range dist.Dimensions {
		groups["d:"+k] = v
	}
	for key, shares := range groups {
		var total float64
		for _, share := range shares {
			total += share.Pct
			assert.GreaterOrEqual(t, share.OptionLevel, 1)
			assert.LessOrEqual(t, share.OptionLevel, 5)
		}
		assert.InDelta(t, 100, total, 0.05, key)
	}

	wb := dist.Dimensions["WB1"]
	require.Len(t, wb, 3)
	assert.Equal(t, models.OptionShare{OptionLevel: 3, OptionLabel: "Neutral", Count: 1, Pct: 16.67}, wb[0])
	assert.Equal(t, models.OptionShare{OptionLevel: 4, OptionLabel: "Satisfied", Count: 3, Pct: 50}, wb[1])
	assert.Equal(t, models.OptionShare{OptionLevel: 5, OptionLabel: "Very satisfied", Count: 2, Pct: 33.33}, wb[2])
}

func TestOptionLevel(t *testing.T) {
	cases := []struct {
		original, max float64
		scale         int
		want          int
	}{
		{3, 5, 5, 3},
		{0, 5, 5, 1},
		{7, 5, 5, 5},
		{2, 0, 5, 1},
		{2.5, 5, 5, 3},
		{50, 100, 4, 2},
		{1, 3, 7, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, OptionLevel(tc.original, tc.max, tc.scale), "%v/%v on %d", tc.original, tc.max, tc.scale)
	}
}

func TestScaleLabels(t *testing.T) {
	assert.Len(t, ScaleLabels(7), 7)
	assert.Equal(t, "Neutral", ScaleLabels(3)[2])
	assert.Nil(t, ScaleLabels(6))
}

func TestAggregatorRegistryDispatch(t *testing.T) {
	registry := newAggregatorRegistry()
	for _, st := range []models.SubjectType{models.SubjectTypeExam, models.SubjectTypeInteraction, models.SubjectTypeQuestionnaire} {
		agg, ok := registry.aggregatorFor(st)
		require.True(t, ok)
		assert.Equal(t, st, agg.Type())
		_, distributes := agg.(OptionDistributor)
		assert.Equal(t, st == models.SubjectTypeQuestionnaire, distributes)
	}
	_, ok := registry.aggregatorFor("essay")
	assert.False(t, ok)
}
