package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Schnee09/BHEDU-sub003/internal/models"
	appErrors "github.com/Schnee09/BHEDU-sub003/pkg/errors"
)

// pgUndefinedTable is raised when the attendance schema migration has not
// run yet; the report path treats it as "no data available".
const pgUndefinedTable = "42P01"

// AttendanceRepository reads attendance rows for reporting.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// List returns attendance rows matching the resolved query, newest date
// first. A missing attendance table surfaces as ErrSchemaNotReady.
func (r *AttendanceRepository) List(ctx context.Context, q models.AttendanceQuery) ([]models.AttendanceRow, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if q.DateFrom != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *q.DateFrom)
	}
	if q.DateTo != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *q.DateTo)
	}
	if q.ClassIDs != nil {
		where = append(where, fmt.Sprintf("class_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(q.ClassIDs))
	}

	query := fmt.Sprintf(`SELECT id, student_id, class_id, date, status, notes
FROM attendance_records WHERE %s ORDER BY date DESC`, strings.Join(where, " AND "))
	if q.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, q.Limit)
	}

	var rows []models.AttendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if isUndefinedTable(err) {
			return nil, appErrors.ErrSchemaNotReady
		}
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return rows, nil
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUndefinedTable
	}
	return false
}
