package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Schnee09/BHEDU-sub003/internal/dto"
	"github.com/Schnee09/BHEDU-sub003/internal/models"
	appErrors "github.com/Schnee09/BHEDU-sub003/pkg/errors"
	"github.com/Schnee09/BHEDU-sub003/pkg/export"
	"github.com/Schnee09/BHEDU-sub003/pkg/jobs"
)

// Report output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Row limit bounds for CSV responses.
const (
	defaultLimit = 5000
	minLimit     = 100
	maxLimit     = 10000
)

// DefaultInlineThreshold is the enriched row count above which a CSV
// request defers to the export worker.
const DefaultInlineThreshold = 2000

// csvColumns is the fixed column order of the attendance CSV.
var csvColumns = []string{"student_id", "student_name", "class_id", "class_name", "date", "status", "notes"}

type attendanceReader interface {
	List(ctx context.Context, q models.AttendanceQuery) ([]models.AttendanceRow, error)
}

type classDirectory interface {
	IDsByCourse(ctx context.Context, courseID string) ([]string, error)
	IDsByAcademicYear(ctx context.Context, yearID string) ([]string, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

type studentDirectory interface {
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	ListPending(ctx context.Context, limit int) ([]models.ExportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type resolutionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ReportServiceConfig tunes the report pipeline.
type ReportServiceConfig struct {
	InlineThreshold    int
	ResolutionCacheTTL time.Duration
	ResultTTL          time.Duration
	CleanupInterval    time.Duration
}

// ReportService turns an attendance report request into an inline result
// or a deferred export job handle.
type ReportService struct {
	attendance attendanceReader
	classes    classDirectory
	students   studentDirectory
	jobsRepo   exportJobStore
	queue      jobDispatcher
	cache      resolutionCache
	exporter   *ExportService
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ReportServiceConfig
}

// ReportOutput is the handler-facing outcome of a report request. Exactly
// one of JSON, CSV, or JobID is populated.
type ReportOutput struct {
	JSON     *dto.AttendanceReportResponse
	CSV      []byte
	Filename string
	JobID    string
}

// NewReportService constructs the report service.
func NewReportService(
	attendance attendanceReader,
	classes classDirectory,
	students studentDirectory,
	jobsRepo exportJobStore,
	queue jobDispatcher,
	cache resolutionCache,
	exporter *ExportService,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg ReportServiceConfig,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InlineThreshold <= 0 {
		cfg.InlineThreshold = DefaultInlineThreshold
	}
	if cfg.ResolutionCacheTTL <= 0 {
		cfg.ResolutionCacheTTL = 5 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		attendance: attendance,
		classes:    classes,
		students:   students,
		jobsRepo:   jobsRepo,
		queue:      queue,
		cache:      cache,
		exporter:   exporter,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate runs the attendance report. CSV results above the inline
// threshold are handed to the export worker; when that handoff fails the
// inline document is produced anyway — a slow response beats a failed one,
// so the caller never sees an enqueue error. Identical concurrent
// oversized requests each get their own job; no idempotency key exists.
func (s *ReportService) Generate(ctx context.Context, filter models.ReportFilter, format string) (*ReportOutput, error) {
	if format == "" {
		format = FormatJSON
	}
	limit := clampLimit(filter.Limit)

	classIDs, emptyByResolution, err := s.resolveClassFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	if emptyByResolution {
		s.metrics.RecordExport("empty")
		return s.emptyOutput(format, "")
	}

	query := models.AttendanceQuery{
		DateFrom: filter.DateFrom,
		DateTo:   filter.DateTo,
		ClassIDs: classIDs,
	}
	// Only CSV documents are row-capped; JSON callers get the full set.
	if format == FormatCSV {
		query.Limit = limit
	}

	rows, err := s.attendance.List(ctx, query)
	if err != nil {
		if errors.Is(err, appErrors.ErrSchemaNotReady) {
			return s.emptyOutput(format, appErrors.ErrSchemaNotReady.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query attendance records")
	}

	records, err := enrichRecords(ctx, s.students, s.classes, rows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve display names")
	}

	var aggregates models.AttendanceAggregates
	for _, rec := range records {
		aggregates.Add(rec.Status)
	}

	if format == FormatJSON {
		payloads := make([]dto.AttendanceRecordPayload, 0, len(records))
		for _, rec := range records {
			payloads = append(payloads, dto.NewAttendanceRecordPayload(rec))
		}
		return &ReportOutput{JSON: &dto.AttendanceReportResponse{
			Success:    true,
			Aggregates: aggregates.Map(),
			Records:    payloads,
		}}, nil
	}

	if len(records) > s.cfg.InlineThreshold {
		jobID, err := s.enqueueExport(ctx, filter, classIDs, len(records))
		if err == nil {
			s.metrics.RecordExport("deferred")
			return &ReportOutput{JobID: jobID}, nil
		}
		// Documented policy: a broken async path downgrades to the inline
		// CSV, never to a request failure.
		s.logger.Sugar().Warnw("export job enqueue failed, falling back to inline csv",
			"rows", len(records), "error", err)
		s.metrics.RecordExport("fallback")
	} else {
		s.metrics.RecordExport("inline")
	}

	doc, err := renderAttendanceCSV(records)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return &ReportOutput{CSV: doc, Filename: csvFilename(time.Now().UTC())}, nil
}

// JobStatus exposes export job metadata to polling clients.
func (s *ReportService) JobStatus(ctx context.Context, id string) (*dto.ExportJobStatusResponse, error) {
	job, err := s.jobsRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	resp := &dto.ExportJobStatusResponse{
		ID:     job.ID,
		Type:   string(job.Type),
		Status: string(job.Status),
	}
	if job.ResultURL != nil {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a signed token and opens the stored export.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.jobsRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  csvFilename(job.Params.RequestedAt),
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays pending jobs (e.g. after process restart).
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.jobsRepo.ListPending(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending export job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired export files.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
					s.logger.Sugar().Warnw("export cleanup failed", "error", err)
				}
			}
		}
	}()
}

// resolveClassFilter flattens course/year/class constraints into a class
// id set. The second return reports empty-by-resolution: an identifier
// filter matched zero classes, so the result set is empty by definition
// and the attendance query must not run.
func (s *ReportService) resolveClassFilter(ctx context.Context, filter models.ReportFilter) ([]string, bool, error) {
	var resolved []string
	haveSet := false

	if filter.AcademicYearID != "" {
		ids, err := s.resolveCached(ctx, "classes:year:"+filter.AcademicYearID, func() ([]string, error) {
			return s.classes.IDsByAcademicYear(ctx, filter.AcademicYearID)
		})
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			return nil, true, nil
		}
		resolved = ids
		haveSet = true
	}

	if filter.CourseID != "" {
		ids, err := s.resolveCached(ctx, "classes:course:"+filter.CourseID, func() ([]string, error) {
			return s.classes.IDsByCourse(ctx, filter.CourseID)
		})
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			return nil, true, nil
		}
		if haveSet {
			resolved = intersect(resolved, ids)
			if len(resolved) == 0 {
				return nil, true, nil
			}
		} else {
			resolved = ids
			haveSet = true
		}
	}

	if filter.ClassID != "" {
		if haveSet && !contains(resolved, filter.ClassID) {
			return nil, true, nil
		}
		return []string{filter.ClassID}, false, nil
	}

	if !haveSet {
		return nil, false, nil
	}
	return resolved, false, nil
}

func (s *ReportService) resolveCached(ctx context.Context, key string, fetch func() ([]string, error)) ([]string, error) {
	var cached []string
	if err := s.cacheGet(ctx, key, &cached); err == nil {
		return cached, nil
	}
	ids, err := fetch()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve class filter")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, ids, s.cfg.ResolutionCacheTTL); err != nil {
			s.logger.Sugar().Debugw("resolution cache write failed", "key", key, "error", err)
		}
	}
	return ids, nil
}

func (s *ReportService) cacheGet(ctx context.Context, key string, dest *[]string) error {
	if s.cache == nil {
		return appErrors.ErrCacheMiss
	}
	err := s.cache.Get(ctx, key, dest)
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Sugar().Debugw("resolution cache read failed", "key", key, "error", err)
	}
	return err
}

func (s *ReportService) enqueueExport(ctx context.Context, filter models.ReportFilter, classIDs []string, rowCount int) (string, error) {
	job := &models.ExportJob{
		Type:   models.ExportTypeAttendance,
		Status: models.ExportStatusPending,
		Params: models.ExportParams{
			DateFrom:       formatDatePtr(filter.DateFrom),
			DateTo:         formatDatePtr(filter.DateTo),
			ClassID:        filter.ClassID,
			CourseID:       filter.CourseID,
			AcademicYearID: filter.AcademicYearID,
			ClassIDs:       classIDs,
			Headers:        csvColumns,
			RowCount:       rowCount,
			RequestedAt:    time.Now().UTC(),
		},
	}
	if err := s.jobsRepo.Create(ctx, job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("export job insert returned no identifier")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		// The row is already pending; boot recovery re-dispatches it, so a
		// full queue only delays the export.
		s.logger.Sugar().Warnw("export queue dispatch failed, job stays pending", "job_id", job.ID, "error", err)
	}
	return job.ID, nil
}

func (s *ReportService) emptyOutput(format, note string) (*ReportOutput, error) {
	if format == FormatCSV {
		doc, err := renderAttendanceCSV(nil)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ReportOutput{CSV: doc, Filename: csvFilename(time.Now().UTC())}, nil
	}
	return &ReportOutput{JSON: &dto.AttendanceReportResponse{
		Success:    true,
		Aggregates: map[string]int{},
		Records:    []dto.AttendanceRecordPayload{},
		Note:       note,
	}}, nil
}

func enrichRecords(ctx context.Context, students studentDirectory, classes classDirectory, rows []models.AttendanceRow) ([]models.AttendanceRecord, error) {
	studentIDs := make([]string, 0, len(rows))
	classIDs := make([]string, 0, len(rows))
	seenStudents := map[string]struct{}{}
	seenClasses := map[string]struct{}{}
	for _, row := range rows {
		if _, ok := seenStudents[row.StudentID]; !ok {
			seenStudents[row.StudentID] = struct{}{}
			studentIDs = append(studentIDs, row.StudentID)
		}
		if _, ok := seenClasses[row.ClassID]; !ok {
			seenClasses[row.ClassID] = struct{}{}
			classIDs = append(classIDs, row.ClassID)
		}
	}

	studentNames, err := students.NamesByIDs(ctx, studentIDs)
	if err != nil {
		return nil, err
	}
	classNames, err := classes.NamesByIDs(ctx, classIDs)
	if err != nil {
		return nil, err
	}

	records := make([]models.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.AttendanceRecord{
			AttendanceRow: row,
			StudentName:   studentNames[row.StudentID],
			ClassName:     classNames[row.ClassID],
		})
	}
	return records, nil
}

func renderAttendanceCSV(records []models.AttendanceRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		notes := ""
		if rec.Notes != nil {
			notes = *rec.Notes
		}
		rows = append(rows, []string{
			rec.StudentID,
			rec.StudentName,
			rec.ClassID,
			rec.ClassName,
			rec.Date.Format(dto.DateLayout),
			string(rec.Status),
			notes,
		})
	}
	return export.NewCSVExporter().Render(export.Table{Headers: csvColumns, Rows: rows})
}

func csvFilename(at time.Time) string {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return fmt.Sprintf("attendance_report_%s.csv", at.Format(dto.DateLayout))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(dto.DateLayout)
	return &formatted
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
