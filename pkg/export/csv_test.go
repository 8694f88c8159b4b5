package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	out, err := exporter.Render(Table{
		Headers: []string{"student_id", "student_name", "notes"},
		Rows: [][]string{
			{"s1", "Test Student", "ok"},
			{"s2", `Nguyen "Bin" Van`, "late, excused later"},
		},
	})
	require.NoError(t, err)
	require.Equal(t,
		"student_id,student_name,notes\n"+
			"\"s1\",\"Test Student\",\"ok\"\n"+
			"\"s2\",\"Nguyen \"\"Bin\"\" Van\",\"late, excused later\"\n",
		string(out))
}

func TestCSVExporterHeaderOnly(t *testing.T) {
	exporter := NewCSVExporter()
	out, err := exporter.Render(Table{Headers: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, "a,b\n", string(out))
}

func TestCSVExporterRejectsEmptyHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Table{})
	require.Error(t, err)
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Table{
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"only-one"}},
	})
	require.Error(t, err)
}
