package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-stats-api/internal/dto"
	"github.com/noah-isme/assessment-stats-api/internal/service"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
	"github.com/noah-isme/assessment-stats-api/pkg/export"
	"github.com/noah-isme/assessment-stats-api/pkg/response"
)

type exportService interface {
	Export(ctx context.Context, req service.ExportRequest) (*service.ExportFile, error)
}

// ExportHandler streams stored aggregations as CSV or PDF.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Export godoc
// @Summary Download a stored aggregation
// @Tags Aggregations
// @Produce text/csv
// @Produce application/pdf
// @Param batch path string true "Batch code"
// @Param format query string false "csv or pdf"
// @Param school_id query string false "School ID, regional when empty"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /aggregations/{batch}/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	format, err := export.ParseFormat(query.Format)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	file, err := h.service.Export(c.Request.Context(), service.ExportRequest{
		BatchCode: c.Param("batch"),
		SchoolID:  query.SchoolID,
		Format:    format,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
