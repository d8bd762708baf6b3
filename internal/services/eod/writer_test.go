package eod

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/util"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 11, day, hour, 30, 0, 0, util.IST)
}

func row(strike, ceOI, peOI int64) models.StrikeRow {
	return models.NewStrikeRow(strike, at(14, 0), 0, &models.Leg{OI: ceOI}, &models.Leg{OI: peOI})
}

func snapshots(spot, pcr float64) (*models.SymbolSnapshot, *models.SymbolSnapshot) {
	nifty := &models.SymbolSnapshot{Symbol: "NIFTY", Spot: spot, Buckets: []models.BucketSnapshot{
		{Bucket: models.BucketCurrentWeek, Window: []models.StrikeRow{row(22400, 500, 1500), row(22500, 1200, 900)},
			Metrics: models.AggregateMetrics{OIPCR: pcr, ATMStraddle: 185.5}},
		{Bucket: models.BucketMonthly, Window: []models.StrikeRow{row(23000, 1, 1)}},
	}}
	bank := &models.SymbolSnapshot{Symbol: "BANKNIFTY", Spot: 51000, Buckets: []models.BucketSnapshot{
		{Bucket: models.BucketCurrentWeek, Window: []models.StrikeRow{row(50000, 9, 9)}},
		{Bucket: models.BucketMonthly, Window: []models.StrikeRow{row(51000, 3000, 4000)},
			Metrics: models.AggregateMetrics{OIPCR: 1.333}},
	}}
	return nifty, bank
}

func newWriter(t *testing.T) (*Writer, string) {
	dir := t.TempDir()
	cfg := config.Default().EOD
	cfg.EveryRun = true
	return NewWriter(dir, cfg, nil), dir
}

func TestWriteCarriesExactOIMaps(t *testing.T) {
	w, dir := newWriter(t)
	nifty, bank := snapshots(22510.35, 1.1)

	path, err := w.Write(context.Background(), Input{Now: at(14, 16), Nifty: nifty, BankNifty: bank})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "EOD_STATE_BLOCK_OF_14Nov2024.json"), path)

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"22400_CE": 500, "22400_PE": 1500, "22500_CE": 1200, "22500_PE": 900}, got.NiftyState.PrevEODOI)
	assert.Equal(t, map[string]int64{"51000_CE": 3000, "51000_PE": 4000}, got.BankNiftyState.PrevEODOI)
	assert.Equal(t, []string{"2024-11-14"}, got.NiftyState.Last3Dates)
	assert.Equal(t, []float64{22510.35}, got.NiftyState.Last3Spots)
	assert.Equal(t, []float64{1.1}, got.NiftyState.Last3PCRs)
	assert.Equal(t, 185.5, got.NiftyState.PrevATMStraddle)
	assert.Equal(t, []float64{1.333}, got.BankNiftyState.Last3PCRs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRollingWindowsAcrossDays(t *testing.T) {
	w, _ := newWriter(t)
	ctx := context.Background()
	for i, day := range []int{11, 12, 13, 14} {
		nifty, bank := snapshots(22000+float64(i), 1+float64(i)/10)
		_, err := w.Write(ctx, Input{Now: at(day, 16), Nifty: nifty, BankNifty: bank})
		require.NoError(t, err)
	}

	latest, _, err := w.Latest(at(14, 16))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, []string{"2024-11-12", "2024-11-13", "2024-11-14"}, latest.NiftyState.Last3Dates)
	assert.Equal(t, []float64{22001, 22002, 22003}, latest.NiftyState.Last3Spots)
	assert.Equal(t, []float64{1.1, 1.2, 1.3}, latest.NiftyState.Last3PCRs)
}

func TestSameDayRerunReplacesLastEntry(t *testing.T) {
	w, _ := newWriter(t)
	ctx := context.Background()
	n1, b1 := snapshots(22000, 0.9)
	_, err := w.Write(ctx, Input{Now: at(13, 16), Nifty: n1, BankNifty: b1})
	require.NoError(t, err)
	n2, b2 := snapshots(22100, 1.0)
	_, err = w.Write(ctx, Input{Now: at(14, 15), Nifty: n2, BankNifty: b2})
	require.NoError(t, err)
	n3, b3 := snapshots(22200, 1.2)
	path, err := w.Write(ctx, Input{Now: at(14, 16), Nifty: n3, BankNifty: b3})
	require.NoError(t, err)

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-11-13", "2024-11-14"}, got.NiftyState.Last3Dates)
	assert.Equal(t, []float64{22000, 22200}, got.NiftyState.Last3Spots)
}

func TestMissingSnapshotCarriesPreviousState(t *testing.T) {
	nifty, bank := snapshots(22000, 0.9)
	prev := Build(Input{Now: at(13, 16), Nifty: nifty, BankNifty: bank}, nil)

	next := Build(Input{Now: at(14, 16)}, &prev)
	assert.Equal(t, prev.NiftyState, next.NiftyState)
	assert.Equal(t, prev.BankNiftyState, next.BankNiftyState)
	assert.NotEqual(t, prev.GeneratedOn, next.GeneratedOn)
}

func TestDecodeRoundTrip(t *testing.T) {
	nifty, bank := snapshots(22000, 0.9)
	state := Build(Input{Now: at(14, 16), Nifty: nifty, BankNifty: bank}, nil)
	data, err := json.Marshal(state)
	require.NoError(t, err)

	got, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, state, got)

	_, err = Decode(bytes.NewReader([]byte(`{"nifty_state":{}}`)))
	assert.Error(t, err)
}

func TestDue(t *testing.T) {
	w := NewWriter(t.TempDir(), config.EODConfig{After: "15:25", Extension: "json"}, nil)
	assert.False(t, w.Due(at(14, 15).Add(-6*time.Minute)))
	assert.True(t, w.Due(time.Date(2024, 11, 14, 15, 25, 0, 0, util.IST)))
	assert.True(t, w.Due(at(14, 16)))

	every := NewWriter(t.TempDir(), config.EODConfig{EveryRun: true, After: "15:25"}, nil)
	assert.True(t, every.Due(at(14, 9)))
}

func TestLatestIgnoresFutureAndForeignFiles(t *testing.T) {
	w, dir := newWriter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EOD_STATE_BLOCK_OF_20Nov2024.json"), []byte(`{"generated_on":"x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o644))

	got, _, err := w.Latest(at(14, 16))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildCarriesStateWhenBucketMissing(t *testing.T) {
	nifty, bank := snapshots(22500, 1.2)
	prev := Build(Input{Now: at(13, 16), Nifty: nifty, BankNifty: bank}, nil)

	// single-expiry runs never produce a BANKNIFTY monthly bucket
	bankWeekly := &models.SymbolSnapshot{Symbol: "BANKNIFTY", Spot: 51200, Buckets: bank.Buckets[:1]}
	niftyMonthly := &models.SymbolSnapshot{Symbol: "NIFTY", Spot: 22600, Buckets: nifty.Buckets[1:]}
	got := Build(Input{Now: at(14, 16), Nifty: niftyMonthly, BankNifty: bankWeekly}, &prev)

	assert.Equal(t, prev.BankNiftyState, got.BankNiftyState)
	assert.Equal(t, []float64{1.333}, got.BankNiftyState.Last3PCRs)
	assert.Equal(t, map[string]int64{"51000_CE": 3000, "51000_PE": 4000}, got.BankNiftyState.PrevEODOI)
	assert.Equal(t, prev.NiftyState, got.NiftyState)
	assert.NotContains(t, got.NiftyState.Last3PCRs, 0.0)
}
