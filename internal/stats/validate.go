package stats

import (
	"fmt"
	"math"
)

// Issue reasons reported by Validate.
const (
	ReasonNegativeScore  = "negative_score"
	ReasonExceedsMax     = "score_exceeds_max"
	ReasonNonPositiveMax = "non_positive_max"
	ReasonNonFiniteScore = "non_finite_score"
)

// Issue is a data integrity violation found in a record.
type Issue struct {
	Index  int
	Reason string
	Record Record
}

func (i Issue) String() string {
	return fmt.Sprintf("record %d: %s (score=%g max=%g)", i.Index, i.Reason, i.Record.Score, i.Record.MaxScore)
}

// Check returns the violation of a single record, if any. A max score of
// zero is reported but such records are still kept by callers; they only
// drop out of ratio computations.
func Check(r Record) (string, bool) {
	switch {
	case !finite(r.Score) || !finite(r.MaxScore):
		return ReasonNonFiniteScore, false
	case r.Score < 0:
		return ReasonNegativeScore, false
	case r.MaxScore <= 0:
		return ReasonNonPositiveMax, false
	case r.Score > r.MaxScore:
		return ReasonExceedsMax, false
	}
	return "", true
}

// Validate reports every record that violates 0 <= score <= max_score.
func Validate(records []Record) []Issue {
	var issues []Issue
	for i, r := range records {
		if reason, ok := Check(r); !ok {
			issues = append(issues, Issue{Index: i, Reason: reason, Record: r})
		}
	}
	return issues
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
