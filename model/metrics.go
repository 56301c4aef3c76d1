package model

import "time"

// MetricSample is one point in a per-session metric history.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DBStats is the database-level summary refreshed by the slow poll cycle.
type DBStats struct {
	Size         string `json:"size"` // pg_size_pretty format
	TableCount   int    `json:"tableCount"`
	Connections  int    `json:"connections"`
	DatabaseID   string `json:"databaseId"`
	DatabaseName string `json:"databaseName"`
}

// CPUProxy approximates CPU load from pg_stat_activity.
type CPUProxy struct {
	ActiveQueries   int     `json:"activeQueries"`
	MaxQuerySeconds float64 `json:"maxQuerySeconds"`
}

// MemoryProxy reports the configured memory settings in MB.
type MemoryProxy struct {
	SharedBuffersMB      float64 `json:"sharedBuffersMB"`
	WorkMemMB            float64 `json:"workMemMB"`
	EffectiveCacheSizeMB float64 `json:"effectiveCacheSizeMB"`
}

// IOProxy reports block read/hit counters from pg_statio_user_tables.
type IOProxy struct {
	BlocksRead float64 `json:"blocksRead"`
	BlocksHit  float64 `json:"blocksHit"`
	HitRatio   float64 `json:"hitRatio"`
}

// ResourceStats is the fast-cycle resource snapshot. Sub-sections that fail
// to collect are zeroed, never omitted.
type ResourceStats struct {
	CPU       CPUProxy    `json:"cpu"`
	Memory    MemoryProxy `json:"memory"`
	IO        IOProxy     `json:"io"`
	Timestamp time.Time   `json:"timestamp"`
}

// TableSize is one row of the per-table size ranking.
type TableSize struct {
	TableName string `json:"table_name"`
	TotalSize string `json:"total_size"` // pg_size_pretty format
}

// Query log entry status values.
const (
	QueryStatusCompleted = "completed"
	QueryStatusRunning   = "running"
	QueryStatusError     = "error"
)

// QueryLogEntry is one row of the query log, produced either from
// pg_stat_statements or from a pg_stat_activity snapshot.
type QueryLogEntry struct {
	Query                string    `json:"query"`
	Timestamp            time.Time `json:"timestamp"`
	ExecutionTimeSeconds float64   `json:"executionTimeSeconds"`
	Database             string    `json:"database"`
	Status               string    `json:"status"`
	State                string    `json:"state,omitempty"`
	ApplicationName      string    `json:"applicationName,omitempty"`
	ClientAddress        string    `json:"clientAddress,omitempty"`
	Error                string    `json:"error,omitempty"`
	Calls                int64     `json:"calls,omitempty"`
	Rows                 int64     `json:"rows,omitempty"`
	TotalTimeSeconds     float64   `json:"total_time,omitempty"`
	MeanTimeSeconds      float64   `json:"mean_time,omitempty"`
}
