package consolidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink appends every consolidation report to an OLAP table for
// trend analysis, grounded on the teacher's clickhouse-go DSN parsing and
// ping-on-connect pattern for token metrics.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink opens a ClickHouse connection from dsn and ensures the
// report-history table exists. table defaults to "hindsight_consolidation_reports".
func NewClickHouseSink(ctx context.Context, dsn, table string) (*ClickHouseSink, error) {
	if table == "" {
		table = "hindsight_consolidation_reports"
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	namespace String,
	timestamp_ms Int64,
	merged UInt32,
	compressed UInt32,
	archived UInt32,
	decayed UInt32,
	deleted UInt32,
	duration_ms Int64,
	truncated UInt8
) ENGINE = MergeTree() ORDER BY timestamp_ms`, table)
	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create consolidation report table: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) Record(ctx context.Context, namespace string, report Report) error {
	truncated := uint8(0)
	if report.Truncated {
		truncated = 1
	}
	q := fmt.Sprintf("INSERT INTO %s (namespace, timestamp_ms, merged, compressed, archived, decayed, deleted, duration_ms, truncated) VALUES (?,?,?,?,?,?,?,?,?)", s.table)
	return s.conn.Exec(ctx, q, strings.TrimSpace(namespace), report.Timestamp, uint32(report.Merged),
		uint32(report.Compressed), uint32(report.Archived), uint32(report.Decayed), uint32(report.Deleted),
		report.DurationMS, truncated)
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
