package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
)

const insertBatchSize = 100

// SQLiteStore is the circular snapshot store. One writer at a time.
type SQLiteStore struct {
	db        *gorm.DB
	maxCycles int
	log       *applogger.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at path and migrates the schema.
// Unless cfg.RetainHistory is set, snapshot rows and the cycle cursor are cleared.
func OpenSQLiteStore(path string, cfg config.StorageConfig, log *applogger.Logger) (*SQLiteStore, error) {
	const op = "open snapshot store"
	if log == nil {
		log = applogger.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fault.Store(op, fmt.Errorf("create data directory: %w", err))
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fault.Store(op, fmt.Errorf("open database: %w", err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fault.Store(op, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.OptionChainRow{}, &models.FetchState{}, &models.Discovery{}); err != nil {
		_ = sqlDB.Close()
		return nil, fault.Store(op, fmt.Errorf("migrate: %w", err))
	}

	s := &SQLiteStore{db: db, maxCycles: cfg.MaxFetchCycles, log: log.Component("store")}
	if s.maxCycles < 1 {
		s.maxCycles = 1
	}
	if !cfg.RetainHistory {
		if err := s.reset(); err != nil {
			_ = sqlDB.Close()
			return nil, fault.Store(op, fmt.Errorf("fresh start: %w", err))
		}
	}
	s.log.Info("snapshot store ready",
		applogger.String("path", path),
		applogger.Int("max_cycles", s.maxCycles),
		applogger.Bool("retain_history", cfg.RetainHistory))
	return s, nil
}

func (s *SQLiteStore) reset() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.OptionChainRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.FetchState{}).Error
	})
}

// DB exposes the handle so the discovery ledger shares the connection.
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NextCycle advances the cursor (1..N, wrapping) and bumps total_fetches.
func (s *SQLiteStore) NextCycle(ctx context.Context) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := stateValue(tx, models.StateCurrentCycle)
		if err != nil {
			return err
		}
		total, err := stateValue(tx, models.StateTotalFetches)
		if err != nil {
			return err
		}
		next = int(cur)%s.maxCycles + 1
		if err := setState(tx, models.StateCurrentCycle, int64(next)); err != nil {
			return err
		}
		return setState(tx, models.StateTotalFetches, total+1)
	})
	if err != nil {
		return 0, fault.Store("advance cycle", err)
	}
	return next, nil
}

func stateValue(tx *gorm.DB, key string) (int64, error) {
	var st models.FetchState
	res := tx.Where(&models.FetchState{Key: key}).Limit(1).Find(&st)
	if res.Error != nil {
		return 0, res.Error
	}
	return st.Value, nil
}

func setState(tx *gorm.DB, key string, value int64) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.FetchState{Key: key, Value: value}).Error
}

// Write replaces the slot addressed by key. Delete and insert share one transaction.
func (s *SQLiteStore) Write(ctx context.Context, key repository.SnapshotKey, fetchedAt time.Time, rows []models.StrikeRow) error {
	if key.Cycle < 1 || key.Symbol == "" || !key.Bucket.Valid() {
		return fault.Newf(fault.KindStore, "write snapshot", "invalid slot %d/%s/%s", key.Cycle, key.Symbol, key.Bucket)
	}
	recs := make([]models.OptionChainRow, len(rows))
	for i, r := range rows {
		recs[i] = models.NewOptionChainRow(key.Cycle, key.Symbol, key.Bucket, fetchedAt, r)
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := slot(tx, key).Delete(&models.OptionChainRow{}).Error; err != nil {
			return fmt.Errorf("clear slot: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(recs, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return fault.Store("write snapshot", err).WithSymbol(key.Symbol)
	}
	s.log.Debug("slot written",
		applogger.Int("cycle", key.Cycle),
		applogger.String("symbol", key.Symbol),
		applogger.String("bucket", string(key.Bucket)),
		applogger.Int("rows", len(recs)),
		applogger.Duration("took", time.Since(start)))
	return nil
}

func slot(tx *gorm.DB, key repository.SnapshotKey) *gorm.DB {
	return tx.Where("cycle_index = ? AND symbol = ? AND bucket_tag = ?", key.Cycle, key.Symbol, string(key.Bucket))
}

// Rows returns the slot ordered by strike.
func (s *SQLiteStore) Rows(ctx context.Context, key repository.SnapshotKey) ([]models.StrikeRow, error) {
	var recs []models.OptionChainRow
	if err := slot(s.db.WithContext(ctx), key).Order("strike_price ASC").Find(&recs).Error; err != nil {
		return nil, fault.Store("read snapshot", err).WithSymbol(key.Symbol)
	}
	out := make([]models.StrikeRow, len(recs))
	for i, r := range recs {
		out[i] = r.StrikeRow()
	}
	return out, nil
}

// History returns chg_oi_diff for the strike from slots below q.Current, newest first.
func (s *SQLiteStore) History(ctx context.Context, q repository.HistoryQuery) ([]int64, error) {
	if q.Depth <= 0 {
		return []int64{}, nil
	}
	out := []int64{}
	err := s.db.WithContext(ctx).Model(&models.OptionChainRow{}).
		Where("symbol = ? AND bucket_tag = ? AND strike_price = ? AND cycle_index < ?",
			q.Symbol, string(q.Bucket), q.Strike, q.Current).
		Order("cycle_index DESC").
		Limit(q.Depth).
		Pluck("chg_oi_diff", &out).Error
	if err != nil {
		return nil, fault.Store("read history", err).WithSymbol(q.Symbol)
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (repository.StoreStats, error) {
	tx := s.db.WithContext(ctx)
	cur, err := stateValue(tx, models.StateCurrentCycle)
	if err != nil {
		return repository.StoreStats{}, fault.Store("store stats", err)
	}
	total, err := stateValue(tx, models.StateTotalFetches)
	if err != nil {
		return repository.StoreStats{}, fault.Store("store stats", err)
	}
	return repository.StoreStats{CurrentCycle: int(cur), TotalFetches: total, MaxCycles: s.maxCycles}, nil
}

var _ repository.SnapshotStore = (*SQLiteStore)(nil)
