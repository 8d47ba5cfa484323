package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-stats-api/internal/dto"
	"github.com/noah-isme/assessment-stats-api/internal/models"
	"github.com/noah-isme/assessment-stats-api/internal/service"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
	"github.com/noah-isme/assessment-stats-api/pkg/response"
)

type overviewService interface {
	BatchOverview(ctx context.Context, batchCode string) (*models.BatchOverview, error)
}

type rankingService interface {
	RankSchools(ctx context.Context, batchCode, subjectName, dimensionCode string) ([]models.RankingEntry, error)
	OverallSchoolRanking(ctx context.Context, batchCode string) ([]models.SchoolPerformance, error)
}

type batchRunner interface {
	RecalculateBatch(ctx context.Context, batchCode string) (*service.BatchSummary, error)
	Enqueue(batchCode string) (*service.BatchJob, error)
	Job(id string) (*service.BatchJob, error)
}

// BatchHandler serves batch level views and recalculation.
type BatchHandler struct {
	overview overviewService
	rankings rankingService
	runner   batchRunner
}

// NewBatchHandler constructs the handler.
func NewBatchHandler(overview overviewService, rankings rankingService, runner batchRunner) *BatchHandler {
	return &BatchHandler{overview: overview, rankings: rankings, runner: runner}
}

// Overview godoc
// @Summary Batch population overview
// @Tags Batches
// @Produce json
// @Param batch path string true "Batch code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /batches/{batch}/overview [get]
func (h *BatchHandler) Overview(c *gin.Context) {
	overview, err := h.overview.BatchOverview(c.Request.Context(), c.Param("batch"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview)
}

// Rankings godoc
// @Summary School rankings of a batch
// @Description Without a subject the schools are ranked by their mean score rate across subjects.
// @Tags Batches
// @Produce json
// @Param batch path string true "Batch code"
// @Param subject query string false "Subject name"
// @Param dimension query string false "Dimension code"
// @Success 200 {object} response.Envelope
// @Router /batches/{batch}/rankings [get]
func (h *BatchHandler) Rankings(c *gin.Context) {
	var query dto.RankingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	batchCode := c.Param("batch")

	if query.Subject == "" {
		if query.Dimension != "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "dimension requires subject"))
			return
		}
		schools, err := h.rankings.OverallSchoolRanking(c.Request.Context(), batchCode)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, dto.OverallRankingResponse{BatchCode: batchCode, Schools: schools})
		return
	}

	entries, err := h.rankings.RankSchools(c.Request.Context(), batchCode, query.Subject, query.Dimension)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SubjectRankingResponse{
		BatchCode: batchCode,
		Subject:   query.Subject,
		Dimension: query.Dimension,
		Schools:   entries,
	})
}

// Recalculate godoc
// @Summary Recalculate every aggregation of a batch
// @Description Queues the regional and per-school runs. With wait=true the runs execute inline.
// @Tags Batches
// @Produce json
// @Param batch path string true "Batch code"
// @Param wait query bool false "Run inline"
// @Success 202 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /batches/{batch}/recalculate [post]
func (h *BatchHandler) Recalculate(c *gin.Context) {
	var query dto.RecalculateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	batchCode := c.Param("batch")

	if query.Wait {
		summary, err := h.runner.RecalculateBatch(c.Request.Context(), batchCode)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, summary)
		return
	}

	job, err := h.runner.Enqueue(batchCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// JobStatus godoc
// @Summary Status of a queued recalculation
// @Tags Batches
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /jobs/{id} [get]
func (h *BatchHandler) JobStatus(c *gin.Context) {
	job, err := h.runner.Job(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job)
}
