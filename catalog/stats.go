package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/gookit/slog"

	"pgdash/model"
	"pgdash/util"
)

// Composite collectors behind /stats, /resource-stats, /table-stats and
// /query-logs. Sub-queries are isolated: a failing section is zeroed and
// logged, the response still renders. Only a fully failed collection (every
// section down, i.e. the database is unreachable) returns an error.

const statTimeout = 10 * time.Second

// ServerVersion returns the version() string of the connected server.
func ServerVersion(ctx context.Context, q Querier) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()
	var v string
	if err := q.QueryRow(ctx, versionSQL).Scan(&v); err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return v, nil
}

// CollectDBStats gathers database size, table count and connection count.
func CollectDBStats(ctx context.Context, q Querier) (*model.DBStats, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	stats := &model.DBStats{}
	failures := 0

	if err := q.QueryRow(ctx, databaseSizeSQL).Scan(&stats.Size); err != nil {
		slog.Warnf("db stats: size probe failed: %v", err)
		stats.Size = "0 bytes"
		failures++
	}
	if err := q.QueryRow(ctx, tableCountSQL).Scan(&stats.TableCount); err != nil {
		slog.Warnf("db stats: table count probe failed: %v", err)
		failures++
	}
	if err := q.QueryRow(ctx, connectionCountSQL).Scan(&stats.Connections); err != nil {
		slog.Warnf("db stats: connection count probe failed: %v", err)
		failures++
	}

	if failures == 3 {
		return nil, fmt.Errorf("db stats: all probes failed")
	}
	return stats, nil
}

// CollectResourceStats gathers the CPU, memory and I/O proxies.
func CollectResourceStats(ctx context.Context, q Querier) (*model.ResourceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	stats := &model.ResourceStats{Timestamp: time.Now()}
	failures := 0

	if err := q.QueryRow(ctx, cpuProxySQL).Scan(&stats.CPU.ActiveQueries, &stats.CPU.MaxQuerySeconds); err != nil {
		slog.Warnf("resource stats: cpu probe failed: %v", err)
		failures++
	}

	if err := collectMemory(ctx, q, &stats.Memory); err != nil {
		slog.Warnf("resource stats: memory probe failed: %v", err)
		failures++
	}

	if err := q.QueryRow(ctx, ioProxySQL).Scan(&stats.IO.BlocksRead, &stats.IO.BlocksHit); err != nil {
		slog.Warnf("resource stats: io probe failed: %v", err)
		failures++
	} else if total := stats.IO.BlocksRead + stats.IO.BlocksHit; total > 0 {
		stats.IO.HitRatio = stats.IO.BlocksHit / total * 100
	}

	if failures == 3 {
		return nil, fmt.Errorf("resource stats: all probes failed")
	}
	return stats, nil
}

// collectMemory reads the configured memory settings via SHOW, which reports
// pg_size_pretty style values; ParseSizeMB normalizes them.
func collectMemory(ctx context.Context, q Querier, mem *model.MemoryProxy) error {
	settings := []struct {
		name string
		dst  *float64
	}{
		{"shared_buffers", &mem.SharedBuffersMB},
		{"work_mem", &mem.WorkMemMB},
		{"effective_cache_size", &mem.EffectiveCacheSizeMB},
	}
	for _, s := range settings {
		var raw string
		if err := q.QueryRow(ctx, "show "+s.name).Scan(&raw); err != nil {
			return fmt.Errorf("show %s: %w", s.name, err)
		}
		*s.dst = util.ParseSizeMB(raw)
	}
	return nil
}

// CollectTableStats returns the per-table size ranking.
func CollectTableStats(ctx context.Context, q Querier) ([]model.TableSize, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	rows, err := q.Query(ctx, tableStatsSQL)
	if err != nil {
		return nil, fmt.Errorf("table stats: %w", err)
	}
	defer rows.Close()

	var sizes []model.TableSize
	for rows.Next() {
		var t model.TableSize
		if err := rows.Scan(&t.TableName, &t.TotalSize); err != nil {
			return nil, fmt.Errorf("table stats: %w", err)
		}
		sizes = append(sizes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table stats: %w", err)
	}
	return sizes, nil
}

// CollectQueryLogs prefers pg_stat_statements and falls back to a
// pg_stat_activity snapshot when the extension is absent. The fallback is
// transparent: the extension's absence is a warn log, never a client error.
func CollectQueryLogs(ctx context.Context, q Querier) ([]model.QueryLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	var hasExt bool
	if err := q.QueryRow(ctx, statStatementsExistsSQL).Scan(&hasExt); err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	if hasExt {
		logs, err := collectStatStatements(ctx, q)
		if err == nil {
			return logs, nil
		}
		slog.Warnf("query logs: pg_stat_statements unavailable, falling back to activity snapshot: %v", err)
	}
	return collectActivitySnapshot(ctx, q)
}

func collectStatStatements(ctx context.Context, q Querier) ([]model.QueryLogEntry, error) {
	rows, err := q.Query(ctx, statStatementsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var logs []model.QueryLogEntry
	for rows.Next() {
		var (
			entry   model.QueryLogEntry
			totalMs float64
			meanMs  float64
		)
		if err := rows.Scan(&entry.Query, &entry.Calls, &totalMs, &meanMs, &entry.Rows); err != nil {
			return nil, err
		}
		entry.Timestamp = now
		entry.Status = model.QueryStatusCompleted
		entry.TotalTimeSeconds = totalMs / 1000
		entry.MeanTimeSeconds = meanMs / 1000
		entry.ExecutionTimeSeconds = entry.MeanTimeSeconds
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func collectActivitySnapshot(ctx context.Context, q Querier) ([]model.QueryLogEntry, error) {
	rows, err := q.Query(ctx, activitySnapshotSQL)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var logs []model.QueryLogEntry
	for rows.Next() {
		var entry model.QueryLogEntry
		if err := rows.Scan(&entry.Query, &entry.State, &entry.Database,
			&entry.ApplicationName, &entry.ClientAddress, &entry.ExecutionTimeSeconds); err != nil {
			return nil, fmt.Errorf("query logs: %w", err)
		}
		entry.Timestamp = now
		if entry.State == "active" {
			entry.Status = model.QueryStatusRunning
		} else {
			entry.Status = model.QueryStatusCompleted
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	return logs, nil
}
