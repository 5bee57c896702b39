package report

import (
	"encoding/base64"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeCSV(t *testing.T, encoded string) [][]string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRenderCSV_HeaderMatchesColumnOrder(t *testing.T) {
	encoded, err := RenderCSV([]string{"job", "status"}, nil)
	require.NoError(t, err)

	records := decodeCSV(t, encoded)
	require.Len(t, records, 1)
	require.Equal(t, []string{"job", "status"}, records[0])
}

func TestRenderCSV_RowsRenderInOrderByColumn(t *testing.T) {
	rows := []map[string]string{
		{"job": "job-1", "status": "Success"},
		{"job": "job-2", "status": "Timed Out"},
	}
	encoded, err := RenderCSV([]string{"job", "status"}, rows)
	require.NoError(t, err)

	records := decodeCSV(t, encoded)
	require.Len(t, records, 3)
	require.Equal(t, []string{"job-1", "Success"}, records[1])
	require.Equal(t, []string{"job-2", "Timed Out"}, records[2])
}

func TestRenderCSV_MissingColumnInRowRendersEmptyCell(t *testing.T) {
	rows := []map[string]string{{"job": "job-1"}}
	encoded, err := RenderCSV([]string{"job", "status"}, rows)
	require.NoError(t, err)

	records := decodeCSV(t, encoded)
	require.Equal(t, []string{"job-1", ""}, records[1])
}

func TestRenderCSV_IsBase64Encoded(t *testing.T) {
	encoded, err := RenderCSV([]string{"job"}, nil)
	require.NoError(t, err)

	_, err = base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
}
