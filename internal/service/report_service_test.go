package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schnee09/BHEDU-sub003/internal/models"
	appErrors "github.com/Schnee09/BHEDU-sub003/pkg/errors"
	"github.com/Schnee09/BHEDU-sub003/pkg/jobs"
	"github.com/Schnee09/BHEDU-sub003/pkg/storage"
)

type attendanceStub struct {
	rows      []models.AttendanceRow
	err       error
	calls     int
	lastQuery models.AttendanceQuery
}

func (s *attendanceStub) List(ctx context.Context, q models.AttendanceQuery) ([]models.AttendanceRow, error) {
	s.calls++
	s.lastQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type classDirStub struct {
	byCourse map[string][]string
	byYear   map[string][]string
	names    map[string]string
	lookups  int
}

func (s *classDirStub) IDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	s.lookups++
	ids, ok := s.byCourse[courseID]
	if !ok {
		return []string{}, nil
	}
	return ids, nil
}

func (s *classDirStub) IDsByAcademicYear(ctx context.Context, yearID string) ([]string, error) {
	s.lookups++
	ids, ok := s.byYear[yearID]
	if !ok {
		return []string{}, nil
	}
	return ids, nil
}

func (s *classDirStub) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return s.names, nil
}

type studentDirStub struct {
	names map[string]string
}

func (s *studentDirStub) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return s.names, nil
}

type jobStoreStub struct {
	jobs      map[string]*models.ExportJob
	createErr error
}

func newJobStoreStub() *jobStoreStub {
	return &jobStoreStub{jobs: map[string]*models.ExportJob{}}
}

func (s *jobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	if s.createErr != nil {
		return s.createErr
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *jobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (s *jobStoreStub) ListPending(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var pending []models.ExportJob
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusPending {
			pending = append(pending, *job)
		}
	}
	return pending, nil
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type cacheStub struct {
	values map[string][]string
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	stored, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	ptr, ok := dest.(*[]string)
	if !ok {
		return fmt.Errorf("unexpected dest type %T", dest)
	}
	*ptr = stored
	return nil
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ids, ok := value.([]string)
	if !ok {
		return fmt.Errorf("unexpected value type %T", value)
	}
	c.values[key] = ids
	return nil
}

type reportFixture struct {
	svc        *ReportService
	attendance *attendanceStub
	classes    *classDirStub
	jobStore   *jobStoreStub
	queue      *dispatcherStub
}

func newReportFixture(t *testing.T, rows []models.AttendanceRow, cfg ReportServiceConfig) *reportFixture {
	t.Helper()
	attendance := &attendanceStub{rows: rows}
	classes := &classDirStub{
		byCourse: map[string][]string{},
		byYear:   map[string][]string{},
		names:    map[string]string{"c1": "Class 1A", "c2": "Class 2B"},
	}
	students := &studentDirStub{names: map[string]string{"s1": "Test Student", "s2": "Second Student"}}
	jobStore := newJobStoreStub()
	queue := &dispatcherStub{}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	exporter := NewExportService(attendance, students, classes, store, signer, ExportConfig{
		APIPrefix: "/api/v1",
		ResultTTL: time.Hour,
	}, zap.NewNop(), nil)

	svc := NewReportService(attendance, classes, students, jobStore, queue, nil, exporter, nil, zap.NewNop(), cfg)
	return &reportFixture{svc: svc, attendance: attendance, classes: classes, jobStore: jobStore, queue: queue}
}

func sampleRows() []models.AttendanceRow {
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	note := `said "hi"`
	return []models.AttendanceRow{
		{ID: "a4", StudentID: "s1", ClassID: "c1", Date: day, Status: models.AttendanceStatusExcused},
		{ID: "a3", StudentID: "s2", ClassID: "c2", Date: day.AddDate(0, 0, -1), Status: models.AttendanceStatusLate},
		{ID: "a2", StudentID: "s1", ClassID: "c2", Date: day.AddDate(0, 0, -2), Status: models.AttendanceStatusAbsent},
		{ID: "a1", StudentID: "s1", ClassID: "c1", Date: day.AddDate(0, 0, -3), Status: models.AttendanceStatusPresent, Notes: &note},
	}
}

func TestReportServiceJSONReport(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatJSON)
	require.NoError(t, err)
	require.NotNil(t, out.JSON)
	require.Empty(t, out.CSV)
	require.Empty(t, out.JobID)

	agg := out.JSON.Aggregates
	assert.Equal(t, 4, agg["total"])
	assert.Equal(t, agg["present"]+agg["absent"]+agg["late"]+agg["excused"], agg["total"])

	require.Len(t, out.JSON.Records, 4)
	assert.Equal(t, "Test Student", out.JSON.Records[0].StudentName)
	assert.Equal(t, "Class 1A", out.JSON.Records[0].ClassName)
	assert.Equal(t, "2024-05-10", out.JSON.Records[0].Date)

	// JSON responses never carry the CSV row cap.
	assert.Zero(t, fx.attendance.lastQuery.Limit)
	assert.Nil(t, fx.attendance.lastQuery.ClassIDs)
}

func TestReportServiceCourseFilterResolvesClasses(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})
	fx.classes.byCourse["course-1"] = []string{"c1", "c2"}

	_, err := fx.svc.Generate(context.Background(), models.ReportFilter{CourseID: "course-1"}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, fx.attendance.lastQuery.ClassIDs)
}

func TestReportServiceEmptyByResolutionSkipsQuery(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{CourseID: "unknown-course"}, FormatJSON)
	require.NoError(t, err)
	require.NotNil(t, out.JSON)
	assert.True(t, out.JSON.Success)
	assert.Equal(t, map[string]int{}, out.JSON.Aggregates)
	assert.Empty(t, out.JSON.Records)
	assert.Zero(t, fx.attendance.calls, "attendance query must not run when the filter resolves to zero classes")
}

func TestReportServiceEmptyByResolutionCSVHeaderOnly(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{AcademicYearID: "unknown-year"}, FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, out.JobID)
	assert.Nil(t, out.JSON)
	assert.Equal(t, "student_id,student_name,class_id,class_name,date,status,notes\n", string(out.CSV))
	assert.Zero(t, fx.attendance.calls, "attendance query must not run when the filter resolves to zero classes")
}

func TestReportServiceClassOutsideResolvedSet(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})
	fx.classes.byCourse["course-1"] = []string{"c1"}

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{CourseID: "course-1", ClassID: "c9"}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{}, out.JSON.Aggregates)
	assert.Zero(t, fx.attendance.calls)
}

func TestReportServiceClassInsideResolvedSet(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})
	fx.classes.byCourse["course-1"] = []string{"c1", "c2"}

	_, err := fx.svc.Generate(context.Background(), models.ReportFilter{CourseID: "course-1", ClassID: "c1"}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, fx.attendance.lastQuery.ClassIDs)
}

func TestReportServiceYearAndCourseIntersect(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})
	fx.classes.byYear["year-1"] = []string{"c1", "c2"}
	fx.classes.byCourse["course-1"] = []string{"c2", "c3"}

	_, err := fx.svc.Generate(context.Background(), models.ReportFilter{AcademicYearID: "year-1", CourseID: "course-1"}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, fx.attendance.lastQuery.ClassIDs)
}

func TestReportServiceInlineCSV(t *testing.T) {
	note := `said "hi"`
	rows := []models.AttendanceRow{
		{ID: "a1", StudentID: "s1", ClassID: "c1", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Status: models.AttendanceStatusPresent, Notes: &note},
	}
	fx := newReportFixture(t, rows, ReportServiceConfig{})

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatCSV)
	require.NoError(t, err)
	require.Empty(t, out.JobID)

	want := "student_id,student_name,class_id,class_name,date,status,notes\n" +
		"\"s1\",\"Test Student\",\"c1\",\"Class 1A\",\"2024-05-01\",\"present\",\"said \"\"hi\"\"\"\n"
	assert.Equal(t, want, string(out.CSV))
	assert.Equal(t, "attendance_report_"+time.Now().UTC().Format("2006-01-02")+".csv", out.Filename)
}

func TestReportServiceCSVLimitClamping(t *testing.T) {
	cases := []struct {
		requested int
		effective int
	}{
		{0, 5000},
		{5, 100},
		{500, 500},
		{20000, 10000},
	}
	for _, tc := range cases {
		fx := newReportFixture(t, nil, ReportServiceConfig{})
		_, err := fx.svc.Generate(context.Background(), models.ReportFilter{Limit: tc.requested}, FormatCSV)
		require.NoError(t, err)
		assert.Equal(t, tc.effective, fx.attendance.lastQuery.Limit, "requested limit %d", tc.requested)
	}
}

func TestReportServiceOversizedCSVDefers(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{InlineThreshold: 2})

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatCSV)
	require.NoError(t, err)
	require.NotEmpty(t, out.JobID)
	assert.Empty(t, out.CSV)

	require.Len(t, fx.jobStore.jobs, 1)
	job := fx.jobStore.jobs[out.JobID]
	require.NotNil(t, job)
	assert.Equal(t, models.ExportStatusPending, job.Status)
	assert.Equal(t, models.ExportTypeAttendance, job.Type)
	assert.Equal(t, 4, job.Params.RowCount)
	assert.Equal(t, csvColumns, job.Params.Headers)

	require.Len(t, fx.queue.jobs, 1)
	assert.Equal(t, out.JobID, fx.queue.jobs[0].ID)
}

func TestReportServiceEnqueueFailureFallsBackInline(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{InlineThreshold: 2})
	fx.jobStore.createErr = errors.New("insert failed")

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, out.JobID)
	require.NotEmpty(t, out.CSV)
	// Header plus all four data rows: the fallback document is complete.
	assert.Equal(t, 5, strings.Count(string(out.CSV), "\n"))
	assert.Empty(t, fx.queue.jobs)
}

func TestReportServiceDispatchFailureStillDefers(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{InlineThreshold: 2})
	fx.queue.err = errors.New("queue full")

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatCSV)
	require.NoError(t, err)
	require.NotEmpty(t, out.JobID)
	job := fx.jobStore.jobs[out.JobID]
	require.NotNil(t, job)
	assert.Equal(t, models.ExportStatusPending, job.Status)
}

func TestReportServiceSchemaNotReady(t *testing.T) {
	fx := newReportFixture(t, nil, ReportServiceConfig{})
	fx.attendance.err = appErrors.ErrSchemaNotReady

	out, err := fx.svc.Generate(context.Background(), models.ReportFilter{}, FormatJSON)
	require.NoError(t, err)
	require.NotNil(t, out.JSON)
	assert.True(t, out.JSON.Success)
	assert.Equal(t, map[string]int{}, out.JSON.Aggregates)
	assert.Equal(t, appErrors.ErrSchemaNotReady.Message, out.JSON.Note)
}

func TestReportServiceResolutionCacheReused(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})
	cache := &cacheStub{values: map[string][]string{}}
	fx.svc.cache = cache
	fx.classes.byCourse["course-1"] = []string{"c1"}

	filter := models.ReportFilter{CourseID: "course-1"}
	_, err := fx.svc.Generate(context.Background(), filter, FormatJSON)
	require.NoError(t, err)
	_, err = fx.svc.Generate(context.Background(), filter, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.classes.lookups)
}

func TestReportServiceJobStatus(t *testing.T) {
	fx := newReportFixture(t, nil, ReportServiceConfig{})
	url := "/api/v1/export/token"
	fx.jobStore.jobs["job-1"] = &models.ExportJob{
		ID:        "job-1",
		Type:      models.ExportTypeAttendance,
		Status:    models.ExportStatusCompleted,
		ResultURL: &url,
	}

	status, err := fx.svc.JobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	require.NotNil(t, status.ResultURL)
	assert.Equal(t, url, *status.ResultURL)
	assert.Nil(t, status.Error)

	_, err = fx.svc.JobStatus(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReportServiceResolveDownload(t *testing.T) {
	fx := newReportFixture(t, sampleRows(), ReportServiceConfig{})

	job := &models.ExportJob{
		ID:     "job-1",
		Type:   models.ExportTypeAttendance,
		Status: models.ExportStatusPending,
		Params: models.ExportParams{RequestedAt: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)},
	}
	fx.jobStore.jobs[job.ID] = job

	result, err := fx.svc.exporter.Generate(context.Background(), job)
	require.NoError(t, err)

	// Completion is the worker's move; the token is useless before it.
	_, err = fx.svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)

	job.Status = models.ExportStatusCompleted
	job.ResultURL = &result.URL

	download, err := fx.svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "attendance_report_2024-05-10.csv", download.Filename)

	info, err := download.File.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestReportServiceResolveDownloadBadToken(t *testing.T) {
	fx := newReportFixture(t, nil, ReportServiceConfig{})
	_, err := fx.svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	fx := newReportFixture(t, nil, ReportServiceConfig{})
	fx.jobStore.jobs["job-1"] = &models.ExportJob{ID: "job-1", Type: models.ExportTypeAttendance, Status: models.ExportStatusPending}
	fx.jobStore.jobs["job-2"] = &models.ExportJob{ID: "job-2", Type: models.ExportTypeAttendance, Status: models.ExportStatusCompleted}

	fx.svc.RecoverPendingJobs(context.Background())
	require.Len(t, fx.queue.jobs, 1)
	assert.Equal(t, "job-1", fx.queue.jobs[0].ID)
}
