package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/cache"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

const discoveryCacheTTL = 36 * time.Hour

// DiscoveryLedger records at most one strong-trend discovery per symbol per IST date.
// A cache, when set, short-circuits IsKnownToday.
type DiscoveryLedger struct {
	db    *gorm.DB
	cache cache.Service
	log   *applogger.Logger
}

func NewDiscoveryLedger(db *gorm.DB, c cache.Service, log *applogger.Logger) *DiscoveryLedger {
	if log == nil {
		log = applogger.Nop()
	}
	return &DiscoveryLedger{db: db, cache: c, log: log.Component("discovery")}
}

func discoveryKey(symbol, date string) string {
	return cache.Key("discovery", symbol, date)
}

func (l *DiscoveryLedger) IsKnownToday(ctx context.Context, symbol string, day time.Time) (bool, error) {
	date := day.In(util.IST).Format(time.DateOnly)
	if l.cache != nil {
		if ok, err := l.cache.Exists(ctx, discoveryKey(symbol, date)); err == nil && ok {
			return true, nil
		}
	}

	var n int64
	err := l.db.WithContext(ctx).Model(&models.Discovery{}).
		Where("symbol = ? AND discovery_date = ?", symbol, date).
		Count(&n).Error
	if err != nil {
		return false, fault.Store("lookup discovery", err).WithSymbol(symbol)
	}
	if n > 0 {
		l.remember(ctx, symbol, date)
	}
	return n > 0, nil
}

// Record inserts d unless (symbol, date) already exists; known is true on the no-op path.
func (l *DiscoveryLedger) Record(ctx context.Context, d models.Discovery) (bool, error) {
	if d.Symbol == "" || d.DiscoveryDate == "" {
		return false, fault.Store("record discovery", errors.New("symbol and date are required"))
	}
	d.ID = 0
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
	if res.Error != nil {
		return false, fault.Store("record discovery", res.Error).WithSymbol(d.Symbol)
	}
	l.remember(ctx, d.Symbol, d.DiscoveryDate)
	known := res.RowsAffected == 0
	if !known {
		l.log.Info("new discovery",
			applogger.String("symbol", d.Symbol),
			applogger.String("trend", d.TrendType),
			applogger.Float64("confidence", d.Confidence))
	}
	return known, nil
}

func (l *DiscoveryLedger) remember(ctx context.Context, symbol, date string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, discoveryKey(symbol, date), "1", discoveryCacheTTL); err != nil {
		l.log.Warn("discovery cache write failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
}

// List returns discoveries for date (YYYY-MM-DD), or all when date is empty.
func (l *DiscoveryLedger) List(ctx context.Context, date string) ([]models.Discovery, error) {
	q := l.db.WithContext(ctx).Order("discovery_date DESC, discovery_time ASC, id ASC")
	if date != "" {
		q = q.Where("discovery_date = ?", date)
	}
	out := []models.Discovery{}
	if err := q.Find(&out).Error; err != nil {
		return nil, fault.Store("list discoveries", err)
	}
	return out, nil
}

// Sweep deletes discoveries created before olderThan.
func (l *DiscoveryLedger) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&models.Discovery{})
	if res.Error != nil {
		return 0, fault.Store("sweep discoveries", res.Error)
	}
	if res.RowsAffected > 0 {
		l.log.Info("discoveries swept", applogger.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

var _ repository.DiscoveryLedger = (*DiscoveryLedger)(nil)
