package report

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/epts-reports/internal/calculation"
	reportService "github.com/jwalitptl/epts-reports/internal/service/report"
	"github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/httputil"
)

type Handler struct {
	service reportService.ReportServicer
}

func NewHandler(service reportService.ReportServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	reports := r.Group("/reports")
	{
		reports.GET("/calculations", h.ListCalculations)
		reports.POST("/calculations/:name/evaluate", h.Evaluate)
	}
}

type evaluateRequest struct {
	LocationID      int                         `json:"location_id" binding:"required,min=1"`
	EndDate         string                      `json:"end_date" binding:"required"`
	Cohort          []int                       `json:"cohort" binding:"omitempty,dive,min=1"`
	Bounds          *calculation.BoundsOverride `json:"bounds"`
	IncludePatients bool                        `json:"include_patients"`
}

func (h *Handler) ListCalculations(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.service.ListCalculations())
}

func (h *Handler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	endDate, err := parseDate(req.EndDate)
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("end_date must be YYYY-MM-DD or RFC 3339", err))
		return
	}

	report, err := h.service.Evaluate(c.Request.Context(), reportService.EvaluateRequest{
		Calculation:     c.Param("name"),
		LocationID:      req.LocationID,
		EndDate:         endDate,
		Cohort:          req.Cohort,
		Bounds:          req.Bounds,
		IncludePatients: req.IncludePatients,
	})
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, report)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
