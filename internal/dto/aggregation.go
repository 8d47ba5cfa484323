package dto

import (
	"time"

	"github.com/noah-isme/assessment-stats-api/internal/models"
)

// RunTransition is one step of a run history.
type RunTransition struct {
	From string    `json:"from,omitempty"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// AggregationRunResponse is returned by the aggregation trigger endpoints.
type AggregationRunResponse struct {
	RunID     string                    `json:"runId"`
	State     string                    `json:"state"`
	StartedAt time.Time                 `json:"startedAt"`
	History   []RunTransition           `json:"history"`
	Report    *models.AggregationReport `json:"report"`
}

// AggregationResultResponse wraps a stored aggregation document.
type AggregationResultResponse struct {
	BatchCode         string                    `json:"batchCode"`
	AggregationLevel  models.AggregationLevel   `json:"aggregationLevel"`
	SchoolID          string                    `json:"schoolId,omitempty"`
	CalculationStatus models.CalculationStatus  `json:"calculationStatus"`
	RunID             string                    `json:"runId"`
	ErrorMessage      string                    `json:"errorMessage,omitempty"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
	Report            *models.AggregationReport `json:"report,omitempty"`
}

// AggregationRecordSummary lists a stored row without its document.
type AggregationRecordSummary struct {
	AggregationLevel  models.AggregationLevel  `json:"aggregationLevel"`
	SchoolID          string                   `json:"schoolId,omitempty"`
	SchoolName        string                   `json:"schoolName,omitempty"`
	CalculationStatus models.CalculationStatus `json:"calculationStatus"`
	RunID             string                   `json:"runId"`
	ErrorMessage      *string                  `json:"errorMessage,omitempty"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

// RankingQuery captures GET /batches/:batch/rankings filters.
type RankingQuery struct {
	Subject   string `form:"subject"`
	Dimension string `form:"dimension"`
}

// SubjectRankingResponse is a dense ranking of schools for one subject or dimension.
type SubjectRankingResponse struct {
	BatchCode string                `json:"batchCode"`
	Subject   string                `json:"subject"`
	Dimension string                `json:"dimension,omitempty"`
	Schools   []models.RankingEntry `json:"schools"`
}

// OverallRankingResponse ranks schools across all subjects of a batch.
type OverallRankingResponse struct {
	BatchCode string                     `json:"batchCode"`
	Schools   []models.SchoolPerformance `json:"schools"`
}

// RecalculateQuery captures POST /batches/:batch/recalculate options.
type RecalculateQuery struct {
	Wait bool `form:"wait"`
}

// ExportQuery captures GET /aggregations/:batch/export filters.
type ExportQuery struct {
	Format   string `form:"format"`
	SchoolID string `form:"school_id"`
}
