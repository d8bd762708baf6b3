package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
)

// openArchiveDB creates a SQLite table with the archive column layout so the
// INSERT and SELECT statements run end to end.
func openArchiveDB(t *testing.T) *sql.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "archive.db")), &gorm.Config{})
	require.NoError(t, err)
	db, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cols := make([]string, len(archiveColumns))
	for i, c := range archiveColumns {
		typ := "INTEGER"
		switch {
		case c == "symbol" || c == "bucket_tag":
			typ = "TEXT"
		case c == "fetch_timestamp":
			typ = "DATETIME"
		case c == "expiry_date":
			typ = "DATE"
		case c == "underlying_value" || strings.HasSuffix(c, "_ltp") || strings.HasSuffix(c, "_iv") ||
			strings.HasSuffix(c, "_delta") || strings.HasSuffix(c, "_gamma") ||
			strings.HasSuffix(c, "_theta") || strings.HasSuffix(c, "_vega"):
			typ = "REAL"
		}
		cols[i] = c + " " + typ
	}
	_, err = db.Exec(fmt.Sprintf("CREATE TABLE option_chain_archive (%s)", strings.Join(cols, ", ")))
	require.NoError(t, err)
	return db
}

func archiveRows(strikes ...int64) []models.StrikeRow {
	expiry := time.Date(2024, 11, 14, 0, 0, 0, 0, time.UTC)
	out := make([]models.StrikeRow, len(strikes))
	for i, k := range strikes {
		out[i] = models.NewStrikeRow(k, expiry, 22510,
			&models.Leg{OI: 1000 + k, ChangeOI: 30, Volume: 10, LTP: 12.5},
			&models.Leg{OI: 900, ChangeOI: 10, Volume: 8, LTP: 11})
	}
	return out
}

func TestArchiveAppendAndQuery(t *testing.T) {
	a := NewClickHouseArchive(openArchiveDB(t), "option_chain_archive", nil)
	ctx := context.Background()
	key := repository.SnapshotKey{Cycle: 1, Symbol: "NIFTY", Bucket: models.BucketCurrentWeek}
	first := time.Date(2024, 11, 12, 4, 30, 0, 0, time.UTC)
	second := first.Add(10 * time.Minute)

	require.NoError(t, a.Append(ctx, key, first, archiveRows(22400, 22500)))
	key.Cycle = 2
	require.NoError(t, a.Append(ctx, key, second, archiveRows(22600, 22500)))
	require.NoError(t, a.Append(ctx, repository.SnapshotKey{Cycle: 2, Symbol: "BANKNIFTY", Bucket: models.BucketCurrentWeek}, second, archiveRows(48000)))

	got, err := a.Query(ctx, repository.ArchiveQuery{Symbol: "NIFTY", Bucket: models.BucketCurrentWeek})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, 2, got[0].CycleIndex)
	assert.Equal(t, int64(22500), got[0].StrikePrice)
	assert.Equal(t, int64(22600), got[1].StrikePrice)
	assert.True(t, got[0].FetchTimestamp.Equal(second))
	assert.Equal(t, int64(20), got[0].ChgOIDiff)
	assert.Equal(t, int64(23500), got[0].CEOI)
	assert.Equal(t, 1, got[3].CycleIndex)
}

func TestArchiveQueryWindowAndLimit(t *testing.T) {
	a := NewClickHouseArchive(openArchiveDB(t), "option_chain_archive", nil)
	ctx := context.Background()
	base := time.Date(2024, 11, 12, 4, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		key := repository.SnapshotKey{Cycle: i + 1, Symbol: "NIFTY", Bucket: models.BucketMonthly}
		require.NoError(t, a.Append(ctx, key, base.Add(time.Duration(i)*time.Hour), archiveRows(22500)))
	}

	got, err := a.Query(ctx, repository.ArchiveQuery{
		Symbol: "NIFTY", Bucket: models.BucketMonthly,
		From: base.Add(30 * time.Minute), To: base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].CycleIndex)

	got, err = a.Query(ctx, repository.ArchiveQuery{Symbol: "NIFTY", Bucket: models.BucketMonthly, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestArchiveAppendEmptyIsNoop(t *testing.T) {
	a := NewClickHouseArchive(openArchiveDB(t), "option_chain_archive", nil)
	assert.NoError(t, a.Append(context.Background(), repository.SnapshotKey{Cycle: 1, Symbol: "NIFTY"}, time.Now(), nil))
}

func TestArchiveSchemaOrdersBySlotAndStrike(t *testing.T) {
	stmts := ArchiveSchema("chainpulse", "option_chain_archive")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "chainpulse.option_chain_archive")
	assert.Contains(t, stmts[1], "ORDER BY (symbol, bucket_tag, fetch_timestamp, strike_price)")
	for _, c := range archiveColumns {
		assert.Contains(t, stmts[1], c+" ")
	}
}
