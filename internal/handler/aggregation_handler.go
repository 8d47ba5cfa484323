package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-stats-api/internal/dto"
	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/service"
	"github.com/noah-isme/assessment-stats-api/pkg/response"
)

type aggregationService interface {
	Aggregate(ctx context.Context, req service.AggregationRequest) (*models.AggregationReport, *service.Run, error)
	Result(ctx context.Context, batchCode, schoolID string) (*service.AggregationResult, error)
	Records(ctx context.Context, batchCode string) ([]models.AggregationRecord, error)
}

// AggregationHandler triggers aggregation runs and serves stored documents.
type AggregationHandler struct {
	service aggregationService
}

// NewAggregationHandler constructs the handler.
func NewAggregationHandler(svc aggregationService) *AggregationHandler {
	return &AggregationHandler{service: svc}
}

// AggregateRegional godoc
// @Summary Run the regional aggregation of a batch
// @Tags Aggregations
// @Produce json
// @Param batch path string true "Batch code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /aggregations/{batch}/regional [post]
func (h *AggregationHandler) AggregateRegional(c *gin.Context) {
	h.aggregate(c, scopeFromPath(c))
}

// AggregateSchool godoc
// @Summary Run the school aggregation of a batch
// @Tags Aggregations
// @Produce json
// @Param batch path string true "Batch code"
// @Param school path string true "School ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /aggregations/{batch}/schools/{school} [post]
func (h *AggregationHandler) AggregateSchool(c *gin.Context) {
	h.aggregate(c, scopeFromPath(c))
}

func (h *AggregationHandler) aggregate(c *gin.Context, req service.AggregationRequest) {
	report, run, err := h.service.Aggregate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, toRunResponse(run, report))
}

// RegionalResult godoc
// @Summary Stored regional aggregation
// @Tags Aggregations
// @Produce json
// @Param batch path string true "Batch code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /aggregations/{batch}/regional [get]
func (h *AggregationHandler) RegionalResult(c *gin.Context) {
	h.result(c, scopeFromPath(c))
}

// SchoolResult godoc
// @Summary Stored school aggregation
// @Tags Aggregations
// @Produce json
// @Param batch path string true "Batch code"
// @Param school path string true "School ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /aggregations/{batch}/schools/{school} [get]
func (h *AggregationHandler) SchoolResult(c *gin.Context) {
	h.result(c, scopeFromPath(c))
}

func (h *AggregationHandler) result(c *gin.Context, req service.AggregationRequest) {
	result, err := h.service.Result(c.Request.Context(), req.BatchCode, req.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	key := req.Key()
	response.JSON(c, http.StatusOK, dto.AggregationResultResponse{
		BatchCode:         key.BatchCode,
		AggregationLevel:  key.Level,
		SchoolID:          key.SchoolID,
		CalculationStatus: result.Status,
		RunID:             result.RunID,
		ErrorMessage:      result.ErrorMessage,
		UpdatedAt:         result.UpdatedAt,
		Report:            result.Report,
	})
}

// ListRecords godoc
// @Summary List stored aggregations of a batch
// @Tags Aggregations
// @Produce json
// @Param batch path string true "Batch code"
// @Success 200 {object} response.Envelope
// @Router /aggregations/{batch} [get]
func (h *AggregationHandler) ListRecords(c *gin.Context) {
	records, err := h.service.Records(c.Request.Context(), scopeFromPath(c).BatchCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.AggregationRecordSummary, 0, len(records))
	for _, r := range records {
		items = append(items, dto.AggregationRecordSummary{
			AggregationLevel:  r.AggregationLevel,
			SchoolID:          r.SchoolID,
			SchoolName:        r.SchoolName,
			CalculationStatus: r.CalculationStatus,
			RunID:             r.RunID,
			ErrorMessage:      r.ErrorMessage,
			UpdatedAt:         r.UpdatedAt,
		})
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"total": len(items)})
}

func toRunResponse(run *service.Run, report *models.AggregationReport) dto.AggregationRunResponse {
	resp := dto.AggregationRunResponse{Report: report, History: []dto.RunTransition{}}
	if run == nil {
		return resp
	}
	resp.RunID = run.ID
	resp.State = string(run.State)
	resp.StartedAt = run.StartedAt
	for _, t := range run.History {
		resp.History = append(resp.History, dto.RunTransition{From: string(t.From), To: string(t.To), At: t.At})
	}
	return resp
}
