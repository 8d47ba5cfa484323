package dimension

import (
	"sort"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/stats"
)

// Vector collects the score and max score of one dimension across a
// population. Scores and MaxScores are index aligned.
type Vector struct {
	Code      string
	Name      string
	Scores    []float64
	MaxScores []float64
}

// Records pairs the vector into stats records.
func (v *Vector) Records() []stats.Record {
	records := make([]stats.Record, len(v.Scores))
	for i := range v.Scores {
		records[i] = stats.Record{Score: v.Scores[i], MaxScore: v.MaxScores[i]}
	}
	return records
}

// Accumulator aggregates dimension documents of many students.
type Accumulator struct {
	vectors map[string]*Vector
	skipped int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{vectors: make(map[string]*Vector)}
}

// Add decodes one student's score and max score documents. A malformed
// document skips the whole record and returns the decode error. Dimensions
// without a max score get 0 and drop out of ratio statistics.
func (a *Accumulator) Add(scoresJSON, maxJSON []byte) error {
	scores, err := DecodeScores(scoresJSON)
	if err != nil {
		a.skipped++
		return err
	}
	maxes, err := DecodeMaxScores(maxJSON)
	if err != nil {
		a.skipped++
		return err
	}

	maxByCode := make(map[string]Entry, len(maxes))
	for _, m := range maxes {
		maxByCode[m.Code] = m
	}

	for _, s := range scores {
		vec, ok := a.vectors[s.Code]
		if !ok {
			vec = &Vector{Code: s.Code}
			a.vectors[s.Code] = vec
		}
		if vec.Name == "" {
			if s.Name != "" {
				vec.Name = s.Name
			} else if m := maxByCode[s.Code]; m.Name != "" {
				vec.Name = m.Name
			}
		}
		vec.Scores = append(vec.Scores, s.Score)
		vec.MaxScores = append(vec.MaxScores, maxByCode[s.Code].Score)
	}
	return nil
}

// Skipped is the number of records rejected as malformed.
func (a *Accumulator) Skipped() int {
	return a.skipped
}

// Vectors returns the collected vectors sorted by dimension code.
func (a *Accumulator) Vectors() []*Vector {
	out := make([]*Vector, 0, len(a.vectors))
	for _, v := range a.vectors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Summarize computes per-dimension statistics. names maps dimension codes to
// their configured display names; when it is non-empty, codes outside it are
// left out and returned as unknown. Names resolve from the configuration,
// then from the embedded JSON name, then fall back to the code.
func Summarize(acc *Accumulator, names map[string]string, minSample int) ([]models.DimensionStatistics, []string) {
	var (
		result  []models.DimensionStatistics
		unknown []string
	)
	for _, vec := range acc.Vectors() {
		name, configured := names[vec.Code]
		if len(names) > 0 && !configured {
			unknown = append(unknown, vec.Code)
			continue
		}
		if name == "" {
			name = vec.Name
		}
		if name == "" {
			name = vec.Code
		}

		records := vec.Records()
		summary := stats.Basic(records)
		result = append(result, models.DimensionStatistics{
			Code:           vec.Code,
			Name:           name,
			StudentCount:   summary.StudentCount,
			Mean:           summary.Mean,
			StdDev:         summary.StdDev,
			ScoreRate:      summary.ScoreRate,
			Discrimination: stats.Discrimination(records, minSample),
			Difficulty:     stats.Difficulty(records),
		})
	}
	return result, unknown
}
