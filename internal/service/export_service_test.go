package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schnee09/BHEDU-sub003/internal/models"
	"github.com/Schnee09/BHEDU-sub003/pkg/storage"
)

func newExportServiceForTest(t *testing.T, attendance *attendanceStub) *ExportService {
	t.Helper()
	students := &studentDirStub{names: map[string]string{"s1": "Test Student"}}
	classes := &classDirStub{names: map[string]string{"c1": "Class 1A"}}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(attendance, students, classes, store, signer, ExportConfig{
		APIPrefix: "/api/v1",
		ResultTTL: time.Hour,
	}, zap.NewNop(), nil)
}

func TestExportServiceGenerate(t *testing.T) {
	attendance := &attendanceStub{rows: []models.AttendanceRow{
		{ID: "a1", StudentID: "s1", ClassID: "c1", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Status: models.AttendanceStatusPresent},
	}}
	svc := newExportServiceForTest(t, attendance)

	from := "2024-04-01"
	job := &models.ExportJob{
		ID:   "job-1",
		Type: models.ExportTypeAttendance,
		Params: models.ExportParams{
			DateFrom: &from,
			ClassIDs: []string{"c1"},
		},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))
	assert.NotEmpty(t, result.Token)

	// The worker re-runs the query uncapped over the persisted class set.
	assert.Zero(t, attendance.lastQuery.Limit)
	assert.Equal(t, []string{"c1"}, attendance.lastQuery.ClassIDs)
	require.NotNil(t, attendance.lastQuery.DateFrom)
	assert.Equal(t, from, attendance.lastQuery.DateFrom.Format("2006-01-02"))

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	buf := make([]byte, 64)
	n, err := file.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "student_id,student_name,"))
}

func TestExportServiceGenerateUnsupportedType(t *testing.T) {
	svc := newExportServiceForTest(t, &attendanceStub{})
	_, err := svc.Generate(context.Background(), &models.ExportJob{ID: "job-1", Type: "grades"})
	require.Error(t, err)
}

func TestExportServiceGenerateBadDate(t *testing.T) {
	svc := newExportServiceForTest(t, &attendanceStub{})
	bad := "05/01/2024"
	_, err := svc.Generate(context.Background(), &models.ExportJob{
		ID:     "job-1",
		Type:   models.ExportTypeAttendance,
		Params: models.ExportParams{DateFrom: &bad},
	})
	require.Error(t, err)
}

func TestExportServiceParseTokenRoundTrip(t *testing.T) {
	attendance := &attendanceStub{}
	svc := newExportServiceForTest(t, attendance)

	result, err := svc.Generate(context.Background(), &models.ExportJob{ID: "job-1", Type: models.ExportTypeAttendance})
	require.NoError(t, err)

	jobID, relPath, expiresAt, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, result.RelativePath, relPath)
	assert.WithinDuration(t, result.ExpiresAt, expiresAt, time.Second)
}
