package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferColumns(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		key  string
		want []string
	}{
		{
			name: "bare identifiers",
			sql:  "select a, b from t",
			want: []string{"a", "b"},
		},
		{
			name: "explicit aliases",
			sql:  "select t.a as x, count(*) as n from t",
			want: []string{"x", "n"},
		},
		{
			name: "qualified column",
			sql:  "select psa.pid, psa.query from pg_stat_activity psa",
			want: []string{"pid", "query"},
		},
		{
			name: "function with alias keeps commas intact",
			sql:  "select round(x, 2) as r, nullif(sum(b), 0) as total from t",
			want: []string{"r", "total"},
		},
		{
			name: "multiline",
			sql:  "select a,\n       b\nfrom t",
			want: []string{"a", "b"},
		},
		{
			name: "select star with known key",
			sql:  "select * from pg_locks",
			key:  "deadlocks",
			want: []string{"datname", "deadlocks", "xact_commit", "xact_rollback"},
		},
		{
			name: "select star with unknown key",
			sql:  "select * from pg_locks",
			key:  "nope",
			want: nil,
		},
		{
			name: "unaliased function is ambiguous",
			sql:  "select round(x, 2) from t",
			want: nil,
		},
		{
			name: "no from clause",
			sql:  "select 1",
			want: nil,
		},
		{
			name: "not a select",
			sql:  "vacuum analyze t",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferColumns(tt.sql, tt.key))
		})
	}
}

func TestInferColumnsCatalogSQL(t *testing.T) {
	// the heuristic must agree with the declared columns for the simple probes
	got := InferColumns(connectionSummarySQL, "connection_summary")
	assert.Equal(t, []string{"state", "connections"}, got)
}

func TestPositional(t *testing.T) {
	assert.Equal(t, []string{"col_0", "col_1", "col_2"}, Positional(3))
	assert.Nil(t, Positional(0))
}
