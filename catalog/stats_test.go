package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow/fakeRows/fakeQuerier stand in for a pgxpool.Pool, routing by SQL
// substring. Each registered key must match exactly one statement.

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) {
			return fmt.Errorf("scan: missing value %d", i)
		}
		if err := assign(dest[i], r.vals[i]); err != nil {
			return err
		}
	}
	return nil
}

type fakeRows struct {
	fields []pgconn.FieldDescription
	rows   [][]any
	idx    int
	err    error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{vals: r.rows[r.idx-1]}.Scan(dest...)
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *int:
		*d = v.(int)
	case *int64:
		*d = v.(int64)
	case *float64:
		*d = v.(float64)
	case *string:
		*d = v.(string)
	case *bool:
		*d = v.(bool)
	default:
		return fmt.Errorf("assign: unsupported dest %T", dest)
	}
	return nil
}

type fakeQuerier struct {
	rowVals  map[string][]any
	rowErrs  map[string]error
	queryRes map[string]*fakeRows
	queryErr map[string]error
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	for k, e := range q.rowErrs {
		if strings.Contains(sql, k) {
			return fakeRow{err: e}
		}
	}
	for k, v := range q.rowVals {
		if strings.Contains(sql, k) {
			return fakeRow{vals: v}
		}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	for k, e := range q.queryErr {
		if strings.Contains(sql, k) {
			return nil, e
		}
	}
	for k, r := range q.queryRes {
		if strings.Contains(sql, k) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func TestCollectResourceStatsIsolatesFailedProbe(t *testing.T) {
	q := &fakeQuerier{
		rowErrs: map[string]error{
			"filter (where state = 'active')": errors.New("permission denied"),
		},
		rowVals: map[string][]any{
			"shared_buffers":       {"128MB"},
			"work_mem":             {"4MB"},
			"effective_cache_size": {"4GB"},
			"heap_blks_read":       {100.0, 900.0},
		},
	}

	stats, err := CollectResourceStats(context.Background(), q)
	require.NoError(t, err)

	// failed CPU section is zeroed, siblings still populated
	assert.Equal(t, 0, stats.CPU.ActiveQueries)
	assert.Equal(t, 128.0, stats.Memory.SharedBuffersMB)
	assert.Equal(t, 4.0, stats.Memory.WorkMemMB)
	assert.Equal(t, 4096.0, stats.Memory.EffectiveCacheSizeMB)
	assert.Equal(t, 900.0, stats.IO.BlocksHit)
	assert.InDelta(t, 90.0, stats.IO.HitRatio, 1e-9)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestCollectResourceStatsAllProbesDown(t *testing.T) {
	down := errors.New("connection refused")
	q := &fakeQuerier{
		rowErrs: map[string]error{
			"filter (where state = 'active')": down,
			"shared_buffers":                  down,
			"heap_blks_read":                  down,
		},
	}
	_, err := CollectResourceStats(context.Background(), q)
	assert.Error(t, err)
}

func TestCollectDBStatsPartialFailure(t *testing.T) {
	q := &fakeQuerier{
		rowVals: map[string][]any{
			"pg_database_size":          {"7496 kB"},
			"information_schema.tables": {42},
		},
		rowErrs: map[string]error{
			"where datname = current_database()": errors.New("boom"),
		},
	}

	stats, err := CollectDBStats(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "7496 kB", stats.Size)
	assert.Equal(t, 42, stats.TableCount)
	assert.Equal(t, 0, stats.Connections)
}

func TestCollectQueryLogsFallsBackToActivity(t *testing.T) {
	q := &fakeQuerier{
		rowVals: map[string][]any{
			"pg_extension": {false},
		},
		queryRes: map[string]*fakeRows{
			"pg_backend_pid": {rows: [][]any{
				{"select 1", "active", "postgres", "psql", "127.0.0.1", 1.5},
				{"select 2", "idle", "postgres", "app", "10.0.0.9", 0.2},
			}},
		},
	}

	logs, err := CollectQueryLogs(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "running", logs[0].Status)
	assert.Equal(t, "completed", logs[1].Status)
	assert.Equal(t, 1.5, logs[0].ExecutionTimeSeconds)
	assert.Equal(t, "psql", logs[0].ApplicationName)
}

func TestCollectQueryLogsPrefersStatStatements(t *testing.T) {
	q := &fakeQuerier{
		rowVals: map[string][]any{
			"pg_extension": {true},
		},
		queryRes: map[string]*fakeRows{
			"total_exec_time": {rows: [][]any{
				{"select * from big", int64(10), 2500.0, 250.0, int64(1000)},
			}},
		},
	}

	logs, err := CollectQueryLogs(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(10), logs[0].Calls)
	assert.Equal(t, int64(1000), logs[0].Rows)
	assert.InDelta(t, 2.5, logs[0].TotalTimeSeconds, 1e-9)
	assert.Equal(t, "completed", logs[0].Status)
}
