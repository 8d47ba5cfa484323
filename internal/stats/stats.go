// Package stats holds the pure statistics used by the aggregation engine:
// mean, sample standard deviation, percentiles, score rate, difficulty and
// the 27% discrimination index. Nothing here performs I/O.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultMinSample is the population size below which discrimination is 0.
	DefaultMinSample = 10
	// groupShare is the fraction of the population in each extreme group.
	groupShare = 0.27
)

// Record is one (score, max score) pair of a population.
type Record struct {
	Score    float64
	MaxScore float64
}

// Percentiles holds the P10/P50/P90 of a score vector.
type Percentiles struct {
	P10 float64
	P50 float64
	P90 float64
}

// Summary is the basic statistics of a population. ScoreRate is in [0,1].
type Summary struct {
	StudentCount int
	Mean         float64
	StdDev       float64
	ScoreRate    float64
	Percentiles  Percentiles
}

// Scores extracts the score vector of records.
func Scores(records []Record) []float64 {
	values := make([]float64, len(records))
	for i, r := range records {
		values[i] = r.Score
	}
	return values
}

// Basic computes the summary of a population. An empty population yields the
// zero Summary.
func Basic(records []Record) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	values := Scores(records)
	return Summary{
		StudentCount: len(records),
		Mean:         Mean(values),
		StdDev:       StdDev(values),
		ScoreRate:    ScoreRate(records),
		Percentiles: Percentiles{
			P10: Percentile(values, 10),
			P50: Percentile(values, 50),
			P90: Percentile(values, 90),
		},
	}
}

// Mean returns the arithmetic mean, 0 for an empty vector.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the sample (n-1) standard deviation, 0 when n <= 1.
func StdDev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks at position p/100*(n-1) of the sorted vector.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n == 1 {
		return sorted[0]
	}

	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(n-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// ScoreRate is the mean of per-record score/max ratios over records with a
// positive max score, clamped to [0,1].
func ScoreRate(records []Record) float64 {
	return Clamp01(meanRatio(records))
}

// Difficulty is the mean score rate of the population, clamped to [0,1].
// Values near 1 mean an easy subject.
func Difficulty(records []Record) float64 {
	return Clamp01(meanRatio(records))
}

func meanRatio(records []Record) float64 {
	var sum float64
	var n int
	for _, r := range records {
		if r.MaxScore <= 0 {
			continue
		}
		sum += r.Score / r.MaxScore
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// GroupSize is the size of each extreme group for a population of n.
func GroupSize(n int) int {
	size := int(float64(n) * groupShare)
	if size < 1 {
		size = 1
	}
	return size
}

// Discrimination computes the upper/lower 27% discrimination index. Records
// are ordered by score descending; the index is the difference between the
// top and bottom group means divided by the mean max score of the group
// members, or by the highest score when no member has a positive max score.
// Populations smaller than minSample yield 0; the result is clamped to [0,1].
func Discrimination(records []Record, minSample int) float64 {
	if minSample <= 0 {
		minSample = DefaultMinSample
	}
	n := len(records)
	if n < minSample || n < 2 {
		return 0
	}

	sorted := make([]Record, n)
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	size := GroupSize(n)
	top := sorted[:size]
	bottom := sorted[n-size:]

	diff := Mean(Scores(top)) - Mean(Scores(bottom))

	var maxSum float64
	var maxCount int
	for _, group := range [][]Record{top, bottom} {
		for _, r := range group {
			if r.MaxScore > 0 {
				maxSum += r.MaxScore
				maxCount++
			}
		}
	}

	reference := 0.0
	if maxCount > 0 {
		reference = maxSum / float64(maxCount)
	} else {
		reference = sorted[0].Score
	}
	if reference <= 0 {
		return 0
	}
	return Clamp01(diff / reference)
}

// SubjectMaxScore sums the positive question max scores of a subject.
func SubjectMaxScore(questionMaxScores []float64) float64 {
	var total float64
	for _, m := range questionMaxScores {
		if m > 0 {
			total += m
		}
	}
	return total
}

// Clamp01 bounds x to [0,1]; NaN becomes 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
