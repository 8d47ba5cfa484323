package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/dimension"
	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/precision"
	"github.com/noah-isme/assessment-stats-api/internal/stats"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

// SchoolAverage is the input of the dense ranking.
type SchoolAverage struct {
	SchoolID   string
	SchoolCode string
	SchoolName string
	Average    float64
}

// DenseRank orders schools by their 2-decimal average, highest first, with
// school_code as the tie-break. Equal rounded averages share a rank and the
// next distinct average advances the rank by one.
func DenseRank(averages []SchoolAverage) []models.RankingEntry {
	entries := make([]models.RankingEntry, len(averages))
	for i, avg := range averages {
		entries[i] = models.RankingEntry{
			SchoolID:   avg.SchoolID,
			SchoolCode: avg.SchoolCode,
			SchoolName: avg.SchoolName,
			AvgScore:   precision.Round2(avg.Average),
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AvgScore != entries[j].AvgScore {
			return entries[i].AvgScore > entries[j].AvgScore
		}
		return entries[i].SchoolCode < entries[j].SchoolCode
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].AvgScore != entries[i-1].AvgScore {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}

// SchoolPosition returns a school's rank and the number of ranked schools.
func SchoolPosition(entries []models.RankingEntry, schoolID string) (rank, total int, ok bool) {
	for _, entry := range entries {
		if entry.SchoolID == schoolID {
			return entry.Rank, len(entries), true
		}
	}
	return 0, len(entries), false
}

// SubjectRanking holds the cross-school rankings of one subject and its dimensions.
type SubjectRanking struct {
	SubjectName string
	Schools     []models.RankingEntry
	Dimensions  map[string][]models.RankingEntry
}

// RankingService ranks schools of a batch against each other.
type RankingService struct {
	repo    ScoreReader
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRankingService constructs the ranking service.
func NewRankingService(repo ScoreReader, metrics *MetricsService, logger *zap.Logger) *RankingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingService{repo: repo, metrics: metrics, logger: logger}
}

// RankSchools ranks the schools of a batch on one subject, or on one
// dimension of it when dimensionCode is set.
func (s *RankingService) RankSchools(ctx context.Context, batchCode, subjectName, dimensionCode string) ([]models.RankingEntry, error) {
	if batchCode == "" || subjectName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code and subject are required")
	}
	rankings, err := s.BatchRankings(ctx, batchCode, subjectName)
	if err != nil {
		return nil, err
	}
	ranking, ok := rankings[subjectName]
	if !ok {
		return []models.RankingEntry{}, nil
	}
	if dimensionCode == "" {
		return ranking.Schools, nil
	}
	entries, ok := ranking.Dimensions[dimensionCode]
	if !ok {
		return []models.RankingEntry{}, nil
	}
	return entries, nil
}

// BatchRankings ranks every subject of a batch, or only subjectName when set.
func (s *RankingService) BatchRankings(ctx context.Context, batchCode, subjectName string) (map[string]*SubjectRanking, error) {
	start := time.Now()
	facts, err := s.repo.ListScoreFacts(ctx, models.ScoreFilter{BatchCode: batchCode, SubjectName: subjectName})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load score facts for ranking")
	}
	s.metrics.ObserveDBQuery("ranking_score_facts", time.Since(start))
	return buildRankings(facts), nil
}

type schoolBucket struct {
	school models.School
	scores []float64
	dims   *dimension.Accumulator
}

func buildRankings(facts []models.ScoreFact) map[string]*SubjectRanking {
	buckets := make(map[string]map[string]*schoolBucket)
	for _, fact := range facts {
		if !usable(stats.Record{Score: fact.TotalScore, MaxScore: fact.MaxScore}) {
			continue
		}
		schools, ok := buckets[fact.SubjectName]
		if !ok {
			schools = make(map[string]*schoolBucket)
			buckets[fact.SubjectName] = schools
		}
		bucket, ok := schools[fact.SchoolID]
		if !ok {
			bucket = &schoolBucket{
				school: models.School{SchoolID: fact.SchoolID, SchoolCode: fact.SchoolCode, SchoolName: fact.SchoolName},
				dims:   dimension.NewAccumulator(),
			}
			schools[fact.SchoolID] = bucket
		}
		bucket.scores = append(bucket.scores, fact.TotalScore)
		_ = bucket.dims.Add(fact.DimensionScores, fact.DimensionMaxScores)
	}

	rankings := make(map[string]*SubjectRanking, len(buckets))
	for subject, schools := range buckets {
		ranking := &SubjectRanking{SubjectName: subject, Dimensions: make(map[string][]models.RankingEntry)}
		subjectAverages := make([]SchoolAverage, 0, len(schools))
		dimAverages := make(map[string][]SchoolAverage)
		for _, bucket := range schools {
			subjectAverages = append(subjectAverages, SchoolAverage{
				SchoolID:   bucket.school.SchoolID,
				SchoolCode: bucket.school.SchoolCode,
				SchoolName: bucket.school.SchoolName,
				Average:    stats.Mean(bucket.scores),
			})
			for _, vec := range bucket.dims.Vectors() {
				dimAverages[vec.Code] = append(dimAverages[vec.Code], SchoolAverage{
					SchoolID:   bucket.school.SchoolID,
					SchoolCode: bucket.school.SchoolCode,
					SchoolName: bucket.school.SchoolName,
					Average:    stats.Mean(vec.Scores),
				})
			}
		}
		ranking.Schools = DenseRank(subjectAverages)
		for code, averages := range dimAverages {
			ranking.Dimensions[code] = DenseRank(averages)
		}
		rankings[subject] = ranking
	}
	return rankings
}

// usable reports whether a record takes part in means. Records without a
// positive max score stay in; they only drop out of ratios.
func usable(r stats.Record) bool {
	reason, ok := stats.Check(r)
	return ok || reason == stats.ReasonNonPositiveMax
}

// OverallSchoolRanking ranks the schools of a batch by the mean of their
// per-subject score rates.
func (s *RankingService) OverallSchoolRanking(ctx context.Context, batchCode string) ([]models.SchoolPerformance, error) {
	if batchCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code is required")
	}
	start := time.Now()
	facts, err := s.repo.ListScoreFacts(ctx, models.ScoreFilter{BatchCode: batchCode})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load score facts for ranking")
	}
	s.metrics.ObserveDBQuery("ranking_score_facts", time.Since(start))

	type schoolAcc struct {
		school   models.School
		students map[string]struct{}
		subjects map[string][]stats.Record
	}
	schools := make(map[string]*schoolAcc)
	for _, fact := range facts {
		record := stats.Record{Score: fact.TotalScore, MaxScore: fact.MaxScore}
		if !usable(record) {
			continue
		}
		acc, ok := schools[fact.SchoolID]
		if !ok {
			acc = &schoolAcc{
				school:   models.School{SchoolID: fact.SchoolID, SchoolCode: fact.SchoolCode, SchoolName: fact.SchoolName},
				students: make(map[string]struct{}),
				subjects: make(map[string][]stats.Record),
			}
			schools[fact.SchoolID] = acc
		}
		acc.students[fact.StudentID] = struct{}{}
		acc.subjects[fact.SubjectName] = append(acc.subjects[fact.SubjectName], record)
	}

	averages := make([]SchoolAverage, 0, len(schools))
	for _, acc := range schools {
		rates := make([]float64, 0, len(acc.subjects))
		for _, records := range acc.subjects {
			rates = append(rates, stats.ScoreRate(records))
		}
		averages = append(averages, SchoolAverage{
			SchoolID:   acc.school.SchoolID,
			SchoolCode: acc.school.SchoolCode,
			SchoolName: acc.school.SchoolName,
			Average:    precision.ToPct(stats.Mean(rates)),
		})
	}

	ranked := DenseRank(averages)
	result := make([]models.SchoolPerformance, len(ranked))
	for i, entry := range ranked {
		acc := schools[entry.SchoolID]
		result[i] = models.SchoolPerformance{
			SchoolID:            entry.SchoolID,
			SchoolCode:          entry.SchoolCode,
			SchoolName:          entry.SchoolName,
			StudentCount:        len(acc.students),
			SubjectsAnalyzed:    len(acc.subjects),
			OverallScoreRatePct: entry.AvgScore,
			Rank:                entry.Rank,
		}
	}
	return result, nil
}
