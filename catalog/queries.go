package catalog

// Diagnostic probe SQL. All probes are parameterless and read only from the
// system catalogs and pg_stat_* views.

const locksSQL = `with lck as (
    select pid, count(*) as lock_count,
           sum(case when not granted then 1 else 0 end) as waiting_locks,
           array_agg(distinct locktype) as lock_types
    from pg_locks group by pid)
select psa.pid,
       pg_blocking_pids(psa.pid) as blocked_by,
       psa.datname as db,
       psa.application_name,
       psa.state,
       round(extract(epoch from (now() - least(psa.query_start, psa.xact_start)))::numeric, 2) as runtime_seconds,
       coalesce(lck.lock_count, 0) as lock_count,
       coalesce(lck.waiting_locks, 0) as waiting_locks,
       coalesce(lck.lock_types, '{}') as lock_types,
       psa.query
from pg_stat_activity psa
join lck on psa.pid = lck.pid
where psa.state <> 'idle'
order by psa.xact_start`

const blockedQueriesSQL = `select blocked.pid as blocked_pid,
       blocked.usename as blocked_user,
       blocking.pid as blocking_pid,
       blocking.usename as blocking_user,
       round(extract(epoch from (now() - blocked.query_start))::numeric, 1) as waiting_seconds,
       blocked.query as blocked_query,
       blocking.query as blocking_query
from pg_stat_activity blocked
join pg_stat_activity blocking on blocking.pid = any(pg_blocking_pids(blocked.pid))
order by waiting_seconds desc`

const deadlocksSQL = `select datname, deadlocks, xact_commit, xact_rollback
from pg_stat_database
where datname is not null
order by deadlocks desc`

const idleTransactionsSQL = `select pid, usename, datname, application_name,
       round(extract(epoch from (now() - xact_start))::numeric, 1) as idle_seconds,
       query
from pg_stat_activity
where state = 'idle in transaction' and xact_start is not null
order by xact_start`

const longRunningSQL = `select pid, usename, datname, state,
       round(extract(epoch from (now() - query_start))::numeric, 1) as elapsed_seconds,
       query
from pg_stat_activity
where state = 'active' and backend_type = 'client backend'
order by query_start`

const tableSizesSQL = `select c.relname as table_name,
       pg_size_pretty(pg_total_relation_size(c.oid)) as total_size,
       pg_size_pretty(pg_indexes_size(c.oid)) as index_size
from pg_class c
join pg_namespace n on n.oid = c.relnamespace
where c.relkind = 'r' and n.nspname not in ('pg_catalog', 'information_schema')
order by pg_total_relation_size(c.oid) desc
limit 20`

const tableRowsSQL = `select relname as table_name, n_live_tup as row_estimate, n_dead_tup
from pg_stat_user_tables
order by n_live_tup desc
limit 20`

const indexUsageSQL = `select relname as table_name, seq_scan, idx_scan,
       case when seq_scan + idx_scan = 0 then 0
            else round(100.0 * idx_scan / (seq_scan + idx_scan), 2) end as idx_scan_pct
from pg_stat_user_tables
order by seq_scan desc
limit 20`

const indexHitRateSQL = `select 'index hit rate' as metric,
       round(100.0 * sum(idx_blks_hit) / nullif(sum(idx_blks_hit + idx_blks_read), 0), 2) as ratio
from pg_statio_user_indexes
union all
select 'table hit rate' as metric,
       round(100.0 * sum(heap_blks_hit) / nullif(sum(heap_blks_hit + heap_blks_read), 0), 2) as ratio
from pg_statio_user_tables`

const unusedIndexesSQL = `select schemaname, relname as table_name, indexrelname as index_name,
       pg_size_pretty(pg_relation_size(indexrelid)) as index_size
from pg_stat_user_indexes
where idx_scan = 0 and pg_relation_size(indexrelid) > 8 * 1024 * 1024
order by pg_relation_size(indexrelid) desc`

const vacuumStatsSQL = `select relname as table_name, n_live_tup, n_dead_tup,
       case when n_live_tup + n_dead_tup = 0 then 0
            else round(100.0 * n_dead_tup / (n_live_tup + n_dead_tup), 2) end as dead_pct,
       last_vacuum, last_autovacuum
from pg_stat_user_tables
order by n_dead_tup desc
limit 20`

const connectionSummarySQL = `select coalesce(state, 'unknown') as state, count(*) as connections
from pg_stat_activity
group by 1
order by 2 desc`

// Composite probe SQL for the stats and query-log endpoints.

const versionSQL = `select version()`

const databaseSizeSQL = `select pg_size_pretty(pg_database_size(current_database()))`

const tableCountSQL = `select count(*) from information_schema.tables
where table_schema not in ('pg_catalog', 'information_schema')`

const connectionCountSQL = `select count(*) from pg_stat_activity where datname = current_database()`

const cpuProxySQL = `select count(*) filter (where state = 'active'),
       coalesce(max(extract(epoch from (now() - query_start))) filter (where state = 'active'), 0)::float8
from pg_stat_activity
where backend_type = 'client backend'`

const ioProxySQL = `select coalesce(sum(heap_blks_read), 0)::float8, coalesce(sum(heap_blks_hit), 0)::float8
from pg_statio_user_tables`

const tableStatsSQL = `select relname as table_name,
       pg_size_pretty(pg_total_relation_size(relid)) as total_size
from pg_stat_user_tables
order by pg_total_relation_size(relid) desc
limit 20`

const statStatementsExistsSQL = `select exists(select 1 from pg_extension where extname = 'pg_stat_statements')`

const statStatementsSQL = `select query, calls, total_exec_time, mean_exec_time, rows
from pg_stat_statements
order by total_exec_time desc
limit 20`

const activitySnapshotSQL = `select query,
       coalesce(state, 'unknown') as state,
       coalesce(datname, '') as datname,
       coalesce(application_name, '') as application_name,
       coalesce(client_addr::text, '') as client_addr,
       coalesce(extract(epoch from (now() - query_start)), 0)::float8 as elapsed_seconds
from pg_stat_activity
where query <> '' and pid <> pg_backend_pid()
order by query_start desc nulls last
limit 20`
