package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Schnee09/BHEDU-sub003/internal/dto"
	"github.com/Schnee09/BHEDU-sub003/internal/models"
	"github.com/Schnee09/BHEDU-sub003/pkg/export"
	"github.com/Schnee09/BHEDU-sub003/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(t export.Table) ([]byte, error)
}

// ExportConfig tunes export generation.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	ExpiresAt    time.Time
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// ExportService re-runs a persisted export query and stores the rendered
// CSV for signed download.
type ExportService struct {
	attendance attendanceReader
	students   studentDirectory
	classes    classDirectory
	storage    fileStorage
	csv        csvRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(attendance attendanceReader, students studentDirectory, classes classDirectory, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	return &ExportService{
		attendance: attendance,
		students:   students,
		classes:    classes,
		storage:    store,
		csv:        csv,
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate re-runs the job's resolved query without the inline row cap,
// renders the CSV, and stores it behind a signed URL.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	if job.Type != models.ExportTypeAttendance {
		return nil, fmt.Errorf("unsupported export type %s", job.Type)
	}

	query, err := queryFromParams(job.Params)
	if err != nil {
		return nil, err
	}
	rows, err := s.attendance.List(ctx, query)
	if err != nil {
		return nil, err
	}
	records, err := enrichRecords(ctx, s.students, s.classes, rows)
	if err != nil {
		return nil, err
	}

	headers := job.Params.Headers
	if len(headers) == 0 {
		headers = csvColumns
	}
	table := export.Table{Headers: headers, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		notes := ""
		if rec.Notes != nil {
			notes = *rec.Notes
		}
		table.Rows = append(table.Rows, []string{
			rec.StudentID,
			rec.StudentName,
			rec.ClassID,
			rec.ClassName,
			rec.Date.Format(dto.DateLayout),
			string(rec.Status),
			notes,
		})
	}
	payload, err := s.csv.Render(table)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("attendance_%s_%s.csv", job.ID, time.Now().UTC().Format("20060102_150405"))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func queryFromParams(params models.ExportParams) (models.AttendanceQuery, error) {
	query := models.AttendanceQuery{ClassIDs: params.ClassIDs}
	if params.DateFrom != nil {
		t, err := time.Parse(dto.DateLayout, *params.DateFrom)
		if err != nil {
			return models.AttendanceQuery{}, fmt.Errorf("parse dateFrom: %w", err)
		}
		query.DateFrom = &t
	}
	if params.DateTo != nil {
		t, err := time.Parse(dto.DateLayout, *params.DateTo)
		if err != nil {
			return models.AttendanceQuery{}, fmt.Errorf("parse dateTo: %w", err)
		}
		query.DateTo = &t
	}
	return query, nil
}
