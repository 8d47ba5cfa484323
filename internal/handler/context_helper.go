package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-stats-api/internal/service"
)

// scopeFromPath reads the :batch and optional :school route params.
func scopeFromPath(c *gin.Context) service.AggregationRequest {
	return service.AggregationRequest{
		BatchCode: strings.TrimSpace(c.Param("batch")),
		SchoolID:  strings.TrimSpace(c.Param("school")),
	}
}
