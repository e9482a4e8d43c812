package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "gate_results",
		Columns:      []string{"artifact_id", "gate"},
		ConflictKeys: []string{"artifact_id", "gate"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "gate_results",
		ConflictKeys: []string{"artifact_id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "gate_results",
		Columns: []string{"artifact_id", "gate"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"governance.audit_events", `"governance"."audit_events"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, quoteTable(tt.input))
		})
	}
}

func TestQuoteList(t *testing.T) {
	assert.Equal(t, `"artifact_id", "gate", "passed"`, quoteList([]string{"artifact_id", "gate", "passed"}))
}

func TestExcludedAssignments(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"artifact_id", "gate", "passed", "checked_at"},
		ConflictKeys: []string{"artifact_id", "gate"},
	}
	assert.Equal(t, `"passed" = EXCLUDED."passed", "checked_at" = EXCLUDED."checked_at"`, excludedAssignments(cfg))

	cfg.UpdateCols = []string{"passed"}
	assert.Equal(t, `"passed" = EXCLUDED."passed"`, excludedAssignments(cfg))
}
