package dto

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/Schnee09/BHEDU-sub003/internal/models"
)

// DateLayout is the wire format for record dates and date filters.
const DateLayout = "2006-01-02"

// AttendanceReportQuery binds the report endpoint's query string.
type AttendanceReportQuery struct {
	Format         string `form:"format" binding:"omitempty,oneof=json csv"`
	DateFrom       string `form:"date_from" binding:"omitempty,isodate"`
	DateTo         string `form:"date_to" binding:"omitempty,isodate"`
	AcademicYearID string `form:"academic_year_id"`
	ClassID        string `form:"class_id"`
	CourseID       string `form:"course_id"`
	Limit          int    `form:"limit" binding:"omitempty,min=1"`
}

// Filter converts the bound query into the service-level filter.
func (q AttendanceReportQuery) Filter() models.ReportFilter {
	filter := models.ReportFilter{
		ClassID:        q.ClassID,
		CourseID:       q.CourseID,
		AcademicYearID: q.AcademicYearID,
		Limit:          q.Limit,
	}
	if q.DateFrom != "" {
		if t, err := time.Parse(DateLayout, q.DateFrom); err == nil {
			filter.DateFrom = &t
		}
	}
	if q.DateTo != "" {
		if t, err := time.Parse(DateLayout, q.DateTo); err == nil {
			filter.DateTo = &t
		}
	}
	return filter
}

// AttendanceRecordPayload is the JSON row shape of the report endpoint.
type AttendanceRecordPayload struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	ClassID     string `json:"class_id"`
	ClassName   string `json:"class_name"`
}

// NewAttendanceRecordPayload flattens an enriched record for the wire.
func NewAttendanceRecordPayload(rec models.AttendanceRecord) AttendanceRecordPayload {
	notes := ""
	if rec.Notes != nil {
		notes = *rec.Notes
	}
	return AttendanceRecordPayload{
		ID:          rec.ID,
		Date:        rec.Date.Format(DateLayout),
		Status:      string(rec.Status),
		Notes:       notes,
		StudentID:   rec.StudentID,
		StudentName: rec.StudentName,
		ClassID:     rec.ClassID,
		ClassName:   rec.ClassName,
	}
}

// AttendanceReportResponse is the JSON-format success body.
type AttendanceReportResponse struct {
	Success    bool                      `json:"success"`
	Aggregates map[string]int            `json:"aggregates"`
	Records    []AttendanceRecordPayload `json:"records"`
	Note       string                    `json:"note,omitempty"`
}

// DeferredExportResponse is returned when an oversized CSV request was
// handed off to the export worker.
type DeferredExportResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// ExportJobStatusResponse exposes job metadata to polling clients.
type ExportJobStatusResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	ResultURL *string `json:"result_url,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// RegisterValidations installs custom binding rules on gin's validator.
func RegisterValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(DateLayout, fl.Field().String())
			return err == nil
		})
	}
}
