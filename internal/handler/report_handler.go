package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Schnee09/BHEDU-sub003/internal/dto"
	"github.com/Schnee09/BHEDU-sub003/internal/models"
	"github.com/Schnee09/BHEDU-sub003/internal/service"
	appErrors "github.com/Schnee09/BHEDU-sub003/pkg/errors"
	"github.com/Schnee09/BHEDU-sub003/pkg/response"
)

type reportService interface {
	Generate(ctx context.Context, filter models.ReportFilter, format string) (*service.ReportOutput, error)
	JobStatus(ctx context.Context, id string) (*dto.ExportJobStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ReportHandler exposes the attendance report and export job endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// AttendanceReport godoc
// @Summary Attendance report
// @Description Returns JSON aggregates or a CSV document; oversized CSV requests return an export job id instead.
// @Tags Reports
// @Produce json
// @Produce text/csv
// @Param format query string false "json or csv" default(json)
// @Param date_from query string false "inclusive lower bound (YYYY-MM-DD)"
// @Param date_to query string false "inclusive upper bound (YYYY-MM-DD)"
// @Param class_id query string false "class identifier"
// @Param course_id query string false "course identifier"
// @Param academic_year_id query string false "academic year identifier"
// @Param limit query int false "row cap for csv output" default(5000)
// @Success 200 {object} dto.AttendanceReportResponse
// @Router /reports/attendance [get]
func (h *ReportHandler) AttendanceReport(c *gin.Context) {
	var query dto.AttendanceReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	out, err := h.reports.Generate(c.Request.Context(), query.Filter(), query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}

	switch {
	case out.JobID != "":
		// Deferred exports share the inline path's status code; callers
		// branch on the body shape, not on the status.
		c.JSON(http.StatusOK, dto.DeferredExportResponse{Success: true, JobID: out.JobID})
	case out.CSV != nil:
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", out.CSV)
	default:
		c.JSON(http.StatusOK, out.JSON)
	}
}

// ExportJobStatus godoc
// @Summary Export job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/jobs/{id} [get]
func (h *ReportHandler) ExportJobStatus(c *gin.Context) {
	status, err := h.reports.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// DownloadExport godoc
// @Summary Download a completed export
// @Tags Reports
// @Produce text/csv
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /export/{token} [get]
func (h *ReportHandler) DownloadExport(c *gin.Context) {
	download, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.DataFromReader(http.StatusOK, info.Size(), "text/csv; charset=utf-8", download.File, nil)
}
