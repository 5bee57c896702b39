package report

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"fmt"
)

// RenderCSV writes rows to CSV with a header equal to columns (in order)
// and returns the base64-encoded bytes ready to drop into an email-job
// attachment's content field. Uses the standard library's encoding/csv
// and encoding/base64: no ecosystem CSV writer appears anywhere in the
// example pack, and this is a small, well-defined format stdlib already
// covers correctly.
func RenderCSV(columns []string, rows []map[string]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
