package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/models"
	domrepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/repository"
	"ChainPulse/internal/usecase"
	"ChainPulse/pkg/cache"
	"ChainPulse/pkg/config"
)

type env struct {
	e      *echo.Echo
	store  *repository.SQLiteStore
	ledger *repository.DiscoveryLedger
	cache  *cache.MemoryCache
	h      *StatusHandler
}

func newEnv(t *testing.T, archive domrepo.ArchiveReader) *env {
	t.Helper()
	cfg := config.Default().Storage
	store, err := repository.OpenSQLiteStore(filepath.Join(t.TempDir(), "chain.db"), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mem := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	ledger := repository.NewDiscoveryLedger(store.DB(), mem, nil)

	h := NewStatusHandler(StatusDeps{
		State:   usecase.NewRunState(),
		Store:   store,
		Ledger:  ledger,
		Cache:   mem,
		Archive: archive,
	}, nil)
	h.now = func() time.Time { return time.Date(2024, 11, 12, 4, 30, 0, 0, time.UTC) }
	e := echo.New()
	h.RegisterRoutes(e)
	return &env{e: e, store: store, ledger: ledger, cache: mem, h: h}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (v *env) get(t *testing.T, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	v := newEnv(t, nil)
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","running":false}`, rec.Body.String())
}

func TestStatusIncludesStoreAndLastCycle(t *testing.T) {
	v := newEnv(t, nil)
	ctx := context.Background()
	_, err := v.store.NextCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, v.cache.Set(ctx, usecase.CacheKeyStatus, models.CycleSummary{RunID: "r-1", Cycle: 1}, time.Hour))

	rec, body := v.get(t, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var view StatusView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	require.NotNil(t, view.Store)
	assert.Equal(t, 1, view.Store.CurrentCycle)
	require.NotNil(t, view.LastCycle)
	assert.Equal(t, "r-1", view.LastCycle.RunID)
	assert.False(t, view.Run.Running)
}

func TestDiscoveriesDefaultsToTodayIST(t *testing.T) {
	v := newEnv(t, nil)
	_, err := v.ledger.Record(context.Background(), models.Discovery{
		Symbol: "TCS", DiscoveryDate: "2024-11-12", DiscoveryTime: "10:00:00",
		TrendType: string(models.LabelStrongBullish), Confidence: 90,
	})
	require.NoError(t, err)

	rec, body := v.get(t, "/api/v1/discoveries")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Discovery `json:"rows"`
		Total int64              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, "TCS", list.Rows[0].Symbol)

	_, body = v.get(t, "/api/v1/discoveries?date=2024-11-13")
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Zero(t, list.Total)
}

func TestDiscoveriesRejectsBadDate(t *testing.T) {
	v := newEnv(t, nil)
	rec, body := v.get(t, "/api/v1/discoveries?date=12-11-2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(body.Data), "ERR_DATETIME")
}

func TestHistoryNewestFirst(t *testing.T) {
	v := newEnv(t, nil)
	ctx := context.Background()
	exp := time.Date(2024, 11, 14, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		cycle, err := v.store.NextCycle(ctx)
		require.NoError(t, err)
		row := models.NewStrikeRow(22500, exp, 22510,
			&models.Leg{ChangeOI: int64(i) * 100}, &models.Leg{ChangeOI: 10})
		key := domrepo.SnapshotKey{Cycle: cycle, Symbol: "NIFTY", Bucket: models.BucketCurrentWeek}
		require.NoError(t, v.store.Write(ctx, key, time.Now(), []models.StrikeRow{row}))
	}

	rec, body := v.get(t, "/api/v1/history?symbol=NIFTY&bucket=current_week&strike=22500&depth=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var view HistoryView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, []int64{290, 190}, view.ChgOIDiff)
}

func TestHistoryValidation(t *testing.T) {
	v := newEnv(t, nil)

	rec, body := v.get(t, "/api/v1/history?symbol=NIFTY")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(body.Data), "ERR_REQUIRED")

	rec, body = v.get(t, "/api/v1/history?strike=22500&bucket=weekly")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(body.Data), "ERR_ONEOF")
}

func TestHistoryIsRateLimited(t *testing.T) {
	v := newEnv(t, nil)
	codes := make([]int, 0, queryBurst+1)
	for i := 0; i <= queryBurst; i++ {
		rec, _ := v.get(t, "/api/v1/history?strike=22500")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[queryBurst])
}

func TestLatestPacket(t *testing.T) {
	v := newEnv(t, nil)
	rec, _ := v.get(t, "/api/v1/packets/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	pk := []models.Packet{{ID: "p1", Scope: "ALL", Text: "body", Path: "/tmp/p1.txt"}}
	require.NoError(t, v.cache.Set(context.Background(), usecase.CacheKeyLatestPacket, pk, time.Hour))
	rec, body := v.get(t, "/api/v1/packets/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"text":"body"`)
}

type fakeArchive struct{ got domrepo.ArchiveQuery }

func (a *fakeArchive) Query(_ context.Context, q domrepo.ArchiveQuery) ([]models.OptionChainRow, error) {
	a.got = q
	return []models.OptionChainRow{{CycleIndex: 1, Symbol: q.Symbol, StrikePrice: 22500}}, nil
}

func TestArchiveRouteOnlyWhenEnabled(t *testing.T) {
	rec, _ := newEnv(t, nil).get(t, "/api/v1/archive")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	arc := &fakeArchive{}
	v := newEnv(t, arc)
	rec, body := v.get(t, "/api/v1/archive?symbol=BANKNIFTY&bucket=monthly&from=2024-11-01&to=2024-11-12&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"strike_price":22500`)

	assert.Equal(t, "BANKNIFTY", arc.got.Symbol)
	assert.Equal(t, models.BucketMonthly, arc.got.Bucket)
	assert.Equal(t, 10, arc.got.Limit)
	assert.Equal(t, "2024-11-13", arc.got.To.Format(time.DateOnly))
	assert.Equal(t, "2024-11-01", arc.got.From.Format(time.DateOnly))
}
