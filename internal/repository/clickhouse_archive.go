package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
	pkgch "ChainPulse/pkg/clickhouse"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
)

const archiveChunkSize = 2000

var archiveColumns = []string{
	"cycle_index", "symbol", "bucket_tag", "fetch_timestamp", "underlying_value", "expiry_date", "strike_price",
	"ce_oi", "ce_change_oi", "ce_volume", "ce_ltp", "ce_iv", "ce_delta", "ce_gamma", "ce_theta", "ce_vega",
	"pe_oi", "pe_change_oi", "pe_volume", "pe_ltp", "pe_iv", "pe_delta", "pe_gamma", "pe_theta", "pe_vega",
	"chg_oi_diff",
}

// ArchiveSchema returns the DDL for the mirror table.
func ArchiveSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	cycle_index Int32,
	symbol LowCardinality(String),
	bucket_tag LowCardinality(String),
	fetch_timestamp DateTime64(3, 'UTC'),
	underlying_value Float64,
	expiry_date Date,
	strike_price Int64,
	ce_oi Int64, ce_change_oi Int64, ce_volume Int64,
	ce_ltp Float64, ce_iv Float64, ce_delta Float64, ce_gamma Float64, ce_theta Float64, ce_vega Float64,
	pe_oi Int64, pe_change_oi Int64, pe_volume Int64,
	pe_ltp Float64, pe_iv Float64, pe_delta Float64, pe_gamma Float64, pe_theta Float64, pe_vega Float64,
	chg_oi_diff Int64
) ENGINE = MergeTree
PARTITION BY toYYYYMM(fetch_timestamp)
ORDER BY (symbol, bucket_tag, fetch_timestamp, strike_price)`, database, table),
	}
}

// ClickHouseArchive mirrors every persisted slot write into an append-only table.
type ClickHouseArchive struct {
	db     *sql.DB
	table  string
	client *pkgch.Client
	log    *applogger.Logger
}

// NewClickHouseArchive wraps an open database; table may be schema-qualified.
func NewClickHouseArchive(db *sql.DB, table string, log *applogger.Logger) *ClickHouseArchive {
	if log == nil {
		log = applogger.Nop()
	}
	return &ClickHouseArchive{db: db, table: table, log: log.Component("archive")}
}

// OpenClickHouseArchive connects, ensures the schema and returns an archive that owns the client.
func OpenClickHouseArchive(ctx context.Context, cfg config.ClickHouseConfig, log *applogger.Logger) (*ClickHouseArchive, error) {
	const op = "open archive"
	client, err := pkgch.NewClient(ctx, pkgch.FromConfig(cfg)...)
	if err != nil {
		return nil, fault.Store(op, err)
	}
	if err := client.InitSchema(ctx, ArchiveSchema(cfg.Database, cfg.Table)); err != nil {
		_ = client.Close()
		return nil, fault.Store(op, err)
	}
	a := NewClickHouseArchive(client.DB(), cfg.Database+"."+cfg.Table, log)
	a.client = client
	a.log.Info("archive ready", applogger.String("table", a.table))
	return a, nil
}

// Append inserts rows for one slot write in multi-row VALUES chunks.
func (a *ClickHouseArchive) Append(ctx context.Context, key repository.SnapshotKey, fetchedAt time.Time, rows []models.StrikeRow) error {
	if len(rows) == 0 {
		return nil
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(archiveColumns)), ", ") + ")"
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", a.table, strings.Join(archiveColumns, ", "))

	for start := 0; start < len(rows); start += archiveChunkSize {
		end := min(start+archiveChunkSize, len(rows))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(archiveColumns))
		for _, r := range rows[start:end] {
			values = append(values, placeholder)
			args = append(args, archiveArgs(models.NewOptionChainRow(key.Cycle, key.Symbol, key.Bucket, fetchedAt.UTC(), r))...)
		}
		if _, err := a.db.ExecContext(ctx, head+strings.Join(values, ", "), args...); err != nil {
			return fault.Store("archive append", err).WithSymbol(key.Symbol)
		}
	}
	a.log.Debug("archived",
		applogger.String("symbol", key.Symbol),
		applogger.String("bucket", string(key.Bucket)),
		applogger.Int("rows", len(rows)))
	return nil
}

func archiveArgs(o models.OptionChainRow) []interface{} {
	return []interface{}{
		o.CycleIndex, o.Symbol, o.BucketTag, o.FetchTimestamp, o.UnderlyingValue, o.ExpiryDate, o.StrikePrice,
		o.CEOI, o.CEChangeOI, o.CEVolume, o.CELTP, o.CEIV, o.CEDelta, o.CEGamma, o.CETheta, o.CEVega,
		o.PEOI, o.PEChangeOI, o.PEVolume, o.PELTP, o.PEIV, o.PEDelta, o.PEGamma, o.PETheta, o.PEVega,
		o.ChgOIDiff,
	}
}

// Query returns mirrored rows newest first, strikes ascending within a fetch.
func (a *ClickHouseArchive) Query(ctx context.Context, q repository.ArchiveQuery) ([]models.OptionChainRow, error) {
	where := []string{"symbol = ?", "bucket_tag = ?"}
	args := []interface{}{q.Symbol, string(q.Bucket)}
	if !q.From.IsZero() {
		where = append(where, "fetch_timestamp >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "fetch_timestamp < ?")
		args = append(args, q.To.UTC())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY fetch_timestamp DESC, strike_price ASC LIMIT ?",
		strings.Join(archiveColumns, ", "), a.table, strings.Join(where, " AND "))
	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		a.log.Error("archive query failed", applogger.String("symbol", q.Symbol), applogger.Error(err))
		return nil, fault.Store("archive query", err).WithSymbol(q.Symbol)
	}
	defer rows.Close()

	var out []models.OptionChainRow
	for rows.Next() {
		var o models.OptionChainRow
		if err := rows.Scan(
			&o.CycleIndex, &o.Symbol, &o.BucketTag, &o.FetchTimestamp, &o.UnderlyingValue, &o.ExpiryDate, &o.StrikePrice,
			&o.CEOI, &o.CEChangeOI, &o.CEVolume, &o.CELTP, &o.CEIV, &o.CEDelta, &o.CEGamma, &o.CETheta, &o.CEVega,
			&o.PEOI, &o.PEChangeOI, &o.PEVolume, &o.PELTP, &o.PEIV, &o.PEDelta, &o.PEGamma, &o.PETheta, &o.PEVega,
			&o.ChgOIDiff,
		); err != nil {
			return nil, fault.Store("archive scan", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Store("archive scan", err)
	}
	return out, nil
}

func (a *ClickHouseArchive) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close releases the client when the archive opened it.
func (a *ClickHouseArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

var (
	_ repository.Archive       = (*ClickHouseArchive)(nil)
	_ repository.ArchiveReader = (*ClickHouseArchive)(nil)
)
