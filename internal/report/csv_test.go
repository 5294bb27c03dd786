package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, b *bytes.Buffer) []map[string]string {
	t.Helper()
	rows, err := csv.NewReader(b).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		require.Len(t, row, len(rows[0]))
		m := make(map[string]string, len(row))
		for i, h := range rows[0] {
			m[h] = row[i]
		}
		out = append(out, m)
	}
	return out
}

func TestCSVWriter(t *testing.T) {
	rep := sampleReport(t)
	var summary, trials bytes.Buffer
	require.NoError(t, NewCSVWriter(&summary, &trials).WriteReport(rep))

	assert.True(t, bytes.HasPrefix(summary.Bytes(), []byte("run_id,routine,algorithm,")))

	runs := readCSV(t, &summary)
	require.Len(t, runs, 2)
	r1 := runs[0]
	want := map[string]string{
		"run_id":      "r1",
		"status":      "completed",
		"termination": "converged",
		"evaluations": "4",
		"failures":    "1",
		"best_index":  "2",
		"best_cost":   "3",
		"best_params": "p1=30;d1=2",
		"ok_mean":     "4",
		"ok_stddev":   "1",
		"elapsed_s":   "5.000",
	}
	for k, v := range want {
		assert.Equal(t, v, r1[k], "column %s", k)
	}
	assert.Equal(t, "interrupted", runs[1]["status"])
	assert.Equal(t, "true", runs[1]["maximize"])
	assert.Empty(t, runs[1]["ok_stddev"])

	rows := readCSV(t, &trials)
	require.Len(t, rows, 5)
	var costs []string
	for _, r := range rows {
		costs = append(costs, r["cost"])
	}
	if diff := cmp.Diff([]string{"5", "", "3", "4", "7.5"}, costs); diff != "" {
		t.Errorf("cost column mismatch (-want +got):\n%s", diff)
	}
	failed := rows[1]
	assert.Equal(t, "evaluation-failed", failed["status"])
	assert.Equal(t, "acquire-timeout", failed["failure"])
	assert.Equal(t, "p1=60;d1=1", failed["params"])
	assert.Equal(t, "2026-03-14T09:00:02Z", failed["time"])
	assert.Equal(t, "0.5", rows[4]["normalized"])
}
