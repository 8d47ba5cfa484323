package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AggregationLevel distinguishes per-school and region-wide results.
type AggregationLevel string

const (
	AggregationLevelSchool   AggregationLevel = "SCHOOL"
	AggregationLevelRegional AggregationLevel = "REGIONAL"
)

// CalculationStatus is the persisted lifecycle flag of an aggregation result.
type CalculationStatus string

const (
	CalculationStatusPending   CalculationStatus = "PENDING"
	CalculationStatusCompleted CalculationStatus = "COMPLETED"
	CalculationStatusFailed    CalculationStatus = "FAILED"
)

// Percentiles holds the P10/P50/P90 of a score vector.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
}

// DimensionStatistics is the per-dimension breakdown of a subject.
type DimensionStatistics struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	StudentCount   int     `json:"student_count"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	ScoreRate      float64 `json:"score_rate"`
	Discrimination float64 `json:"discrimination"`
	Difficulty     float64 `json:"difficulty"`
}

// OptionShare is one option level within a question or dimension.
type OptionShare struct {
	OptionLevel int     `json:"option_level"`
	OptionLabel string  `json:"option_label,omitempty"`
	Count       int     `json:"count"`
	Pct         float64 `json:"pct"`
}

// OptionDistribution tabulates questionnaire answers by normalised option level.
type OptionDistribution struct {
	Dimensions map[string][]OptionShare `json:"dimensions,omitempty"`
	Questions  map[string][]OptionShare `json:"questions,omitempty"`
}

// Empty reports whether no answers were tabulated.
func (d *OptionDistribution) Empty() bool {
	return d == nil || (len(d.Dimensions) == 0 && len(d.Questions) == 0)
}

// SubjectStatistics is the derived, unformatted statistics of one subject.
// Ratios (ScoreRate, Difficulty, Discrimination) are in [0,1].
type SubjectStatistics struct {
	BatchCode          string                `json:"batch_code"`
	Level              AggregationLevel      `json:"level"`
	SchoolID           string                `json:"school_id,omitempty"`
	SubjectName        string                `json:"subject_name"`
	SubjectType        SubjectType           `json:"subject_type"`
	StudentCount       int                   `json:"student_count"`
	Mean               float64               `json:"mean"`
	StdDev             float64               `json:"std_dev"`
	ScoreRate          float64               `json:"score_rate"`
	Percentiles        Percentiles           `json:"percentiles"`
	Difficulty         float64               `json:"difficulty"`
	Discrimination     float64               `json:"discrimination"`
	MaxScore           float64               `json:"max_score"`
	Dimensions         []DimensionStatistics `json:"dimensions"`
	OptionDistribution *OptionDistribution   `json:"option_distribution,omitempty"`
}

// RankingEntry is one school's dense-ranked position for a subject or dimension.
type RankingEntry struct {
	SchoolID   string  `json:"-"`
	SchoolCode string  `json:"school_code"`
	SchoolName string  `json:"school_name"`
	AvgScore   float64 `json:"avg_score"`
	Rank       int     `json:"rank"`
}

// DimensionReport is a dimension entry of the persisted document.
type DimensionReport struct {
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	AvgScore        float64        `json:"avg_score"`
	AvgScoreRatePct float64        `json:"avg_score_rate_pct"`
	StdDeviation    float64        `json:"std_deviation"`
	Discrimination  float64        `json:"discrimination"`
	DifficultyPct   float64        `json:"difficulty_pct"`
	Rank            *int           `json:"rank,omitempty"`
	SchoolRankings  []RankingEntry `json:"school_rankings,omitempty"`
}

// SubjectReport is one entry of the unified subjects list.
type SubjectReport struct {
	Name               string              `json:"name"`
	Type               SubjectType         `json:"type"`
	StudentCount       int                 `json:"student_count"`
	AvgScore           float64             `json:"avg_score"`
	StdDeviation       float64             `json:"std_deviation"`
	AvgScoreRatePct    float64             `json:"avg_score_rate_pct"`
	Discrimination     float64             `json:"discrimination"`
	DifficultyPct      float64             `json:"difficulty_pct"`
	MaxScore           float64             `json:"max_score"`
	Percentiles        Percentiles         `json:"percentiles"`
	SchoolRankings     []RankingEntry      `json:"school_rankings,omitempty"`
	RegionRank         *int                `json:"region_rank,omitempty"`
	TotalSchools       *int                `json:"total_schools,omitempty"`
	OptionDistribution *OptionDistribution `json:"option_distribution,omitempty"`
	Dimensions         []DimensionReport   `json:"dimensions"`
}

// ReportMetadata summarises the population behind a report.
type ReportMetadata struct {
	TotalStudents int `json:"total_students"`
	TotalSubjects int `json:"total_subjects"`
	TotalSchools  int `json:"total_schools"`
}

// AggregationReport is the versioned document persisted per
// (batch_code, aggregation_level, school).
type AggregationReport struct {
	SchemaVersion    string           `json:"schema_version"`
	AggregationLevel AggregationLevel `json:"aggregation_level"`
	BatchCode        string           `json:"batch_code"`
	SchoolCode       string           `json:"school_code,omitempty"`
	SchoolName       string           `json:"school_name,omitempty"`
	Subjects         []SubjectReport  `json:"subjects"`
	Metadata         ReportMetadata   `json:"metadata"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// AggregationRecord is a row of statistical_aggregations. SchoolID is empty
// for REGIONAL rows.
type AggregationRecord struct {
	BatchCode         string             `db:"batch_code" json:"batch_code"`
	AggregationLevel  AggregationLevel   `db:"aggregation_level" json:"aggregation_level"`
	SchoolID          string             `db:"school_id" json:"school_id"`
	SchoolName        string             `db:"school_name" json:"school_name"`
	StatisticsData    types.NullJSONText `db:"statistics_data" json:"statistics_data"`
	CalculationStatus CalculationStatus  `db:"calculation_status" json:"calculation_status"`
	ErrorMessage      *string            `db:"error_message" json:"error_message,omitempty"`
	RunID             string             `db:"run_id" json:"run_id"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// AggregationKey is the natural key of a persisted result.
type AggregationKey struct {
	BatchCode string
	Level     AggregationLevel
	SchoolID  string
}

// BatchOverview summarises the population of a batch.
type BatchOverview struct {
	BatchCode             string        `json:"batch_code"`
	TotalStudents         int           `json:"total_students"`
	TotalSchools          int           `json:"total_schools"`
	TotalSubjects         int           `json:"total_subjects"`
	ExamSubjects          int           `json:"exam_subjects"`
	InteractionSubjects   int           `json:"interaction_subjects"`
	QuestionnaireSubjects int           `json:"questionnaire_subjects"`
	Subjects              []SubjectInfo `json:"subjects"`
	Schools               []School      `json:"schools"`
}

// SchoolPerformance is one school's standing across all subjects of a batch.
type SchoolPerformance struct {
	SchoolID            string  `json:"-"`
	SchoolCode          string  `json:"school_code"`
	SchoolName          string  `json:"school_name"`
	StudentCount        int     `json:"student_count"`
	SubjectsAnalyzed    int     `json:"subjects_analyzed"`
	OverallScoreRatePct float64 `json:"overall_score_rate_pct"`
	Rank                int     `json:"rank"`
}
