// Package catalog holds the fixed set of diagnostic SQL probes and the
// composite collectors behind the stats endpoints. Probes run independently;
// one failing probe never aborts its siblings.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"pgdash/model"
)

// ErrUnknownProbe reports an analyze request for a key not in the catalog.
var ErrUnknownProbe = errors.New("unknown diagnostic key")

const probeTimeout = 10 * time.Second

// Querier is the query surface a probe needs. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Probe is one named diagnostic query. Columns carries the expected output
// column names for paths where the driver reports no field metadata.
type Probe struct {
	Key         string
	Description string
	SQL         string
	Columns     []string
}

var probes = []Probe{
	{
		Key:         "locks",
		Description: "per-session lock counts with blocker pids",
		SQL:         locksSQL,
		Columns:     []string{"pid", "blocked_by", "db", "application_name", "state", "runtime_seconds", "lock_count", "waiting_locks", "lock_types", "query"},
	},
	{
		Key:         "blocked_queries",
		Description: "queries waiting on locks joined to their blockers",
		SQL:         blockedQueriesSQL,
		Columns:     []string{"blocked_pid", "blocked_user", "blocking_pid", "blocking_user", "waiting_seconds", "blocked_query", "blocking_query"},
	},
	{
		Key:         "deadlocks",
		Description: "deadlock counters per database",
		SQL:         deadlocksSQL,
		Columns:     []string{"datname", "deadlocks", "xact_commit", "xact_rollback"},
	},
	{
		Key:         "idle_transactions",
		Description: "sessions idle in transaction with transaction age",
		SQL:         idleTransactionsSQL,
		Columns:     []string{"pid", "usename", "datname", "application_name", "idle_seconds", "query"},
	},
	{
		Key:         "long_running",
		Description: "active queries ordered by elapsed time",
		SQL:         longRunningSQL,
		Columns:     []string{"pid", "usename", "datname", "state", "elapsed_seconds", "query"},
	},
	{
		Key:         "table_sizes",
		Description: "top 20 tables by total size",
		SQL:         tableSizesSQL,
		Columns:     []string{"table_name", "total_size", "index_size"},
	},
	{
		Key:         "table_rows",
		Description: "top 20 tables by live row estimate",
		SQL:         tableRowsSQL,
		Columns:     []string{"table_name", "row_estimate", "n_dead_tup"},
	},
	{
		Key:         "index_usage",
		Description: "sequential vs index scan ratio per table",
		SQL:         indexUsageSQL,
		Columns:     []string{"table_name", "seq_scan", "idx_scan", "idx_scan_pct"},
	},
	{
		Key:         "index_hit_rate",
		Description: "index and heap cache hit ratios",
		SQL:         indexHitRateSQL,
		Columns:     []string{"metric", "ratio"},
	},
	{
		Key:         "unused_indexes",
		Description: "never-scanned indexes above 8 MB",
		SQL:         unusedIndexesSQL,
		Columns:     []string{"schemaname", "table_name", "index_name", "index_size"},
	},
	{
		Key:         "vacuum_stats",
		Description: "dead tuple ratios and last vacuum times",
		SQL:         vacuumStatsSQL,
		Columns:     []string{"table_name", "n_live_tup", "n_dead_tup", "dead_pct", "last_vacuum", "last_autovacuum"},
	},
	{
		Key:         "connection_summary",
		Description: "connection counts grouped by state",
		SQL:         connectionSummarySQL,
		Columns:     []string{"state", "connections"},
	},
}

var probeByKey = func() map[string]Probe {
	m := make(map[string]Probe, len(probes))
	for _, p := range probes {
		m[p.Key] = p
	}
	return m
}()

// Get looks up a probe by key.
func Get(key string) (Probe, error) {
	p, ok := probeByKey[key]
	if !ok {
		return Probe{}, fmt.Errorf("%w: %s", ErrUnknownProbe, key)
	}
	return p, nil
}

// Probes returns the catalog in declaration order.
func Probes() []Probe {
	out := make([]Probe, len(probes))
	copy(out, probes)
	return out
}

// Run executes the probe and normalizes the result into the columnar shape.
// Column names come from driver metadata when present, then the probe's
// declared columns, then the inference heuristic, then positional names.
func (p Probe) Run(ctx context.Context, q Querier) (*model.DiagnosticResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	rows, err := q.Query(ctx, p.SQL)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", p.Key, err)
	}
	defer rows.Close()

	cols := fieldNames(rows.FieldDescriptions())

	var data [][]any
	width := len(cols)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", p.Key, err)
		}
		if len(vals) > width {
			width = len(vals)
		}
		data = append(data, normalizeRow(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", p.Key, err)
	}

	if len(cols) == 0 {
		cols = p.Columns
	}
	if len(cols) == 0 {
		cols = InferColumns(p.SQL, p.Key)
	}
	if len(cols) == 0 {
		cols = Positional(width)
	}

	return &model.DiagnosticResult{
		Key:       p.Key,
		Timestamp: time.Now(),
		Columns:   cols,
		Rows:      data,
		Count:     len(data),
	}, nil
}

func fieldNames(fds []pgconn.FieldDescription) []string {
	if len(fds) == 0 {
		return nil
	}
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	return names
}

// RowsToMaps drains rows into per-row column→value maps, the shape the ad
// hoc query endpoint returns.
func RowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	cols := fieldNames(rows.FieldDescriptions())
	out := []map[string]any{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		vals = normalizeRow(vals)
		row := make(map[string]any, len(vals))
		for i, v := range vals {
			name := fmt.Sprintf("col_%d", i)
			if i < len(cols) {
				name = cols[i]
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeRow converts driver values to JSON-friendly types.
func normalizeRow(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case pgtype.Numeric:
			if f, err := t.Float64Value(); err == nil && f.Valid {
				out[i] = f.Float64
			} else {
				out[i] = nil
			}
		case time.Time:
			out[i] = t
		case [16]byte:
			out[i] = fmt.Sprintf("%x", t)
		default:
			out[i] = v
		}
	}
	return out
}
