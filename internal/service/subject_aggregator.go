package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/assessment-stats-api/internal/dimension"
	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/precision"
	"github.com/noah-isme/assessment-stats-api/internal/stats"
)

// Integrity warning reasons raised while building a population, in addition
// to the record level reasons of the stats package.
const (
	ReasonMalformedDimension = "malformed_dimension_json"
	ReasonUnknownDimension   = "unknown_dimension"
	ReasonPercentOutOfRange  = "pct_out_of_range"
)

// IntegrityWarning is a per-record data problem that was logged and skipped.
type IntegrityWarning struct {
	StudentID   string `json:"student_id,omitempty"`
	SubjectName string `json:"subject_name"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

// Population is the score facts of one subject within one scope.
type Population struct {
	BatchCode      string
	Level          models.AggregationLevel
	SchoolID       string
	SubjectName    string
	SubjectType    models.SubjectType
	Facts          []models.ScoreFact
	MaxScore       float64
	DimensionNames map[string]string
	MinSample      int
}

// SubjectAggregator turns a population into subject statistics.
type SubjectAggregator interface {
	Type() models.SubjectType
	Compute(pop Population) (models.SubjectStatistics, []IntegrityWarning)
}

// OptionDistributor is implemented by aggregators that can tabulate
// per-question answers into option levels.
type OptionDistributor interface {
	OptionDistribution(subjectName string, answers []models.QuestionnaireAnswer, mapping map[string]string, scale int) (*models.OptionDistribution, []IntegrityWarning)
}

type baseAggregator struct{}

func (baseAggregator) compute(pop Population) (models.SubjectStatistics, []IntegrityWarning) {
	var warnings []IntegrityWarning
	records := make([]stats.Record, 0, len(pop.Facts))
	acc := dimension.NewAccumulator()

	var recordMax float64
	for _, fact := range pop.Facts {
		record := stats.Record{Score: fact.TotalScore, MaxScore: fact.MaxScore}
		if reason, ok := stats.Check(record); !ok {
			warnings = append(warnings, IntegrityWarning{
				StudentID:   fact.StudentID,
				SubjectName: fact.SubjectName,
				Reason:      reason,
				Detail:      fmt.Sprintf("score=%g max=%g", fact.TotalScore, fact.MaxScore),
			})
			if reason != stats.ReasonNonPositiveMax {
				continue
			}
		}
		records = append(records, record)
		if record.MaxScore > recordMax {
			recordMax = record.MaxScore
		}
		if err := acc.Add(fact.DimensionScores, fact.DimensionMaxScores); err != nil {
			warnings = append(warnings, IntegrityWarning{
				StudentID:   fact.StudentID,
				SubjectName: fact.SubjectName,
				Reason:      ReasonMalformedDimension,
				Detail:      err.Error(),
			})
		}
	}

	summary := stats.Basic(records)
	dims, unknown := dimension.Summarize(acc, pop.DimensionNames, pop.MinSample)
	for _, code := range unknown {
		warnings = append(warnings, IntegrityWarning{
			SubjectName: pop.SubjectName,
			Reason:      ReasonUnknownDimension,
			Detail:      code,
		})
	}
	if dims == nil {
		dims = []models.DimensionStatistics{}
	}

	maxScore := pop.MaxScore
	if maxScore <= 0 {
		maxScore = recordMax
	}

	return models.SubjectStatistics{
		BatchCode:    pop.BatchCode,
		Level:        pop.Level,
		SchoolID:     pop.SchoolID,
		SubjectName:  pop.SubjectName,
		SubjectType:  pop.SubjectType,
		StudentCount: summary.StudentCount,
		Mean:         summary.Mean,
		StdDev:       summary.StdDev,
		ScoreRate:    summary.ScoreRate,
		Percentiles: models.Percentiles{
			P10: summary.Percentiles.P10,
			P50: summary.Percentiles.P50,
			P90: summary.Percentiles.P90,
		},
		Difficulty:     stats.Difficulty(records),
		Discrimination: stats.Discrimination(records, pop.MinSample),
		MaxScore:       maxScore,
		Dimensions:     dims,
	}, warnings
}

// examAggregator handles exam and interaction subjects.
type examAggregator struct {
	baseAggregator
	subjectType models.SubjectType
}

func (a examAggregator) Type() models.SubjectType { return a.subjectType }

func (a examAggregator) Compute(pop Population) (models.SubjectStatistics, []IntegrityWarning) {
	return a.compute(pop)
}

// questionnaireAggregator adds option distributions on top of the shared
// statistics.
type questionnaireAggregator struct {
	baseAggregator
}

func (questionnaireAggregator) Type() models.SubjectType { return models.SubjectTypeQuestionnaire }

func (a questionnaireAggregator) Compute(pop Population) (models.SubjectStatistics, []IntegrityWarning) {
	return a.compute(pop)
}

type optionCounter struct {
	counts map[int]int
	scale  int
	total  int
}

func (c *optionCounter) add(level, scale int) {
	if c.counts == nil {
		c.counts = make(map[int]int)
	}
	c.counts[level]++
	c.total++
	if scale > c.scale {
		c.scale = scale
	}
}

// OptionDistribution tabulates answers per question and per dimension. The
// mapping assigns question ids to dimension codes; unmapped questions only
// appear under questions.
func (questionnaireAggregator) OptionDistribution(subjectName string, answers []models.QuestionnaireAnswer, mapping map[string]string, scale int) (*models.OptionDistribution, []IntegrityWarning) {
	if len(answers) == 0 {
		return nil, nil
	}
	questions := make(map[string]*optionCounter)
	dimensions := make(map[string]*optionCounter)
	counter := func(groups map[string]*optionCounter, key string) *optionCounter {
		c, ok := groups[key]
		if !ok {
			c = &optionCounter{}
			groups[key] = c
		}
		return c
	}

	var warnings []IntegrityWarning
	for _, answer := range answers {
		if math.IsNaN(answer.OriginalScore) || math.IsInf(answer.OriginalScore, 0) {
			warnings = append(warnings, IntegrityWarning{
				StudentID:   answer.StudentID,
				SubjectName: subjectName,
				Reason:      stats.ReasonNonFiniteScore,
				Detail:      answer.QuestionID,
			})
			continue
		}
		answerScale := answer.ScaleLevel
		if answerScale < 2 {
			answerScale = scale
		}
		level := OptionLevel(answer.OriginalScore, answer.MaxScore, answerScale)
		counter(questions, answer.QuestionID).add(level, answerScale)
		if code := mapping[answer.QuestionID]; code != "" {
			counter(dimensions, code).add(level, answerScale)
		}
	}

	dist := &models.OptionDistribution{
		Dimensions: make(map[string][]models.OptionShare, len(dimensions)),
		Questions:  make(map[string][]models.OptionShare, len(questions)),
	}
	for code, c := range dimensions {
		shares, w := c.shares(subjectName, code)
		dist.Dimensions[code] = shares
		warnings = append(warnings, w...)
	}
	for qid, c := range questions {
		shares, w := c.shares(subjectName, qid)
		dist.Questions[qid] = shares
		warnings = append(warnings, w...)
	}
	if dist.Empty() {
		return nil, warnings
	}
	return dist, warnings
}

func (c *optionCounter) shares(subjectName, key string) ([]models.OptionShare, []IntegrityWarning) {
	labels := ScaleLabels(c.scale)
	levels := make([]int, 0, len(c.counts))
	for level := range c.counts {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	var warnings []IntegrityWarning
	shares := make([]models.OptionShare, 0, len(levels))
	for _, level := range levels {
		ratio := float64(c.counts[level]) / float64(c.total)
		if ratio < 0 || ratio > 1 {
			warnings = append(warnings, IntegrityWarning{
				SubjectName: subjectName,
				Reason:      ReasonPercentOutOfRange,
				Detail:      fmt.Sprintf("%s level %d ratio %g", key, level, ratio),
			})
		}
		shares = append(shares, models.OptionShare{
			OptionLevel: level,
			OptionLabel: labels[level],
			Count:       c.counts[level],
			Pct:         precision.ToPct(ratio),
		})
	}
	return shares, warnings
}

// OptionLevel normalises a raw answer onto a 1..scale option level using
// round(original/max*scale). A non-positive max yields level 1.
func OptionLevel(original, maxScore float64, scale int) int {
	if scale < 1 {
		scale = 1
	}
	if maxScore <= 0 {
		return 1
	}
	level := int(math.Round(original / maxScore * float64(scale)))
	if level < 1 {
		return 1
	}
	if level > scale {
		return scale
	}
	return level
}

var scaleLabels = map[int]map[int]string{
	3: {1: "Dissatisfied", 2: "Neutral", 3: "Satisfied"},
	4: {1: "Dissatisfied", 2: "Neutral", 3: "Satisfied", 4: "Very satisfied"},
	5: {1: "Very dissatisfied", 2: "Dissatisfied", 3: "Neutral", 4: "Satisfied", 5: "Very satisfied"},
	7: {
		1: "Very dissatisfied", 2: "Dissatisfied", 3: "Somewhat dissatisfied", 4: "Neutral",
		5: "Somewhat satisfied", 6: "Satisfied", 7: "Very satisfied",
	},
}

// ScaleLabels returns the generic satisfaction labels of a Likert scale, or
// nil for scales without a generic wording.
func ScaleLabels(scale int) map[int]string {
	return scaleLabels[scale]
}

type aggregatorRegistry map[models.SubjectType]SubjectAggregator

func newAggregatorRegistry() aggregatorRegistry {
	registry := aggregatorRegistry{}
	for _, agg := range []SubjectAggregator{
		examAggregator{subjectType: models.SubjectTypeExam},
		examAggregator{subjectType: models.SubjectTypeInteraction},
		questionnaireAggregator{},
	} {
		registry[agg.Type()] = agg
	}
	return registry
}

func (r aggregatorRegistry) aggregatorFor(t models.SubjectType) (SubjectAggregator, bool) {
	agg, ok := r[t]
	return agg, ok
}
