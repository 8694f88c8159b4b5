package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExportJobType enumerates supported asynchronous export categories.
type ExportJobType string

const (
	ExportTypeAttendance ExportJobType = "attendance"
)

// ExportJobStatus captures background job lifecycle states. The request
// handler only ever writes pending; the remaining states belong to the
// worker.
type ExportJobStatus string

const (
	ExportStatusPending    ExportJobStatus = "pending"
	ExportStatusProcessing ExportJobStatus = "processing"
	ExportStatusCompleted  ExportJobStatus = "completed"
	ExportStatusFailed     ExportJobStatus = "failed"
)

// ExportJob is a persisted report_exports row.
type ExportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ExportJobType   `db:"type" json:"type"`
	Params       ExportParams    `db:"params" json:"params"`
	Status       ExportJobStatus `db:"status" json:"status"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// ExportParams stores the resolved filter plus output metadata, persisted
// as a JSONB blob. ClassIDs holds the class set after course/year
// resolution so the worker never re-resolves.
type ExportParams struct {
	DateFrom       *string   `json:"dateFrom,omitempty"`
	DateTo         *string   `json:"dateTo,omitempty"`
	ClassID        string    `json:"classId,omitempty"`
	CourseID       string    `json:"courseId,omitempty"`
	AcademicYearID string    `json:"academicYearId,omitempty"`
	ClassIDs       []string  `json:"classIds,omitempty"`
	Headers        []string  `json:"headers"`
	RowCount       int       `json:"rowCount"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// Value marshals params to JSON for persistence.
func (p ExportParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal export params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ExportParams) Scan(value interface{}) error {
	if value == nil {
		*p = ExportParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ExportParams", value)
	}
	if len(data) == 0 {
		*p = ExportParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal export params: %w", err)
	}
	return nil
}
