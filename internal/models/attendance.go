package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceRow is the raw attendance record shape read at the repository
// boundary. It is the single typed row every later stage consumes.
type AttendanceRow struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Notes     *string          `db:"notes" json:"notes,omitempty"`
}

// AttendanceRecord extends the raw row with display-name enrichment.
type AttendanceRecord struct {
	AttendanceRow
	StudentName string `json:"student_name"`
	ClassName   string `json:"class_name"`
}

// ReportFilter scopes an attendance report request. Course and academic
// year constraints resolve to class-identifier sets before the attendance
// query runs; a constraint that matches zero classes empties the result.
type ReportFilter struct {
	DateFrom       *time.Time
	DateTo         *time.Time
	ClassID        string
	CourseID       string
	AcademicYearID string
	Limit          int
}

// AttendanceQuery is the fully resolved query the repository executes:
// identifier filters have already been flattened into ClassIDs.
type AttendanceQuery struct {
	DateFrom *time.Time
	DateTo   *time.Time
	// ClassIDs restricts rows to the resolved class set; nil means no
	// class constraint.
	ClassIDs []string
	// Limit caps the row count; zero means uncapped.
	Limit int
}

// AttendanceAggregates carries per-status counts over a record set.
type AttendanceAggregates struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Excused int `json:"excused"`
}

// Add counts one record.
func (a *AttendanceAggregates) Add(status AttendanceStatus) {
	a.Total++
	switch status {
	case AttendanceStatusPresent:
		a.Present++
	case AttendanceStatusAbsent:
		a.Absent++
	case AttendanceStatusLate:
		a.Late++
	case AttendanceStatusExcused:
		a.Excused++
	}
}

// Map renders the aggregates as the fixed-key wire shape.
func (a AttendanceAggregates) Map() map[string]int {
	return map[string]int{
		"total":   a.Total,
		"present": a.Present,
		"absent":  a.Absent,
		"late":    a.Late,
		"excused": a.Excused,
	}
}
