package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Schnee09/BHEDU-sub003/internal/models"
)

// ClassRepository resolves class identifiers and display names.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// IDsByCourse returns the ids of all classes belonging to a course.
func (r *ClassRepository) IDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	const query = `SELECT id FROM classes WHERE course_id = $1`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("resolve classes for course %s: %w", courseID, err)
	}
	return ids, nil
}

// IDsByAcademicYear returns the ids of all classes in an academic year.
func (r *ClassRepository) IDsByAcademicYear(ctx context.Context, yearID string) ([]string, error) {
	const query = `SELECT id FROM classes WHERE academic_year_id = $1`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, yearID); err != nil {
		return nil, fmt.Errorf("resolve classes for academic year %s: %w", yearID, err)
	}
	return ids, nil
}

// NamesByIDs returns a display-name lookup for the given class ids in one
// batched query.
func (r *ClassRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	const query = `SELECT id, name FROM classes WHERE id = ANY($1)`
	rows := []models.NamedRef{}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lookup class names: %w", err)
	}
	names := make(map[string]string, len(rows))
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
