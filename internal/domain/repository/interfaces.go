package repository

import (
	"context"
	"time"

	"ChainPulse/internal/domain/models"
)

// ChainFetcher pulls normalized option chains from upstream.
type ChainFetcher interface {
	FetchIndexChain(ctx context.Context, symbol string) (*models.RawChain, error)
	FetchEquityChain(ctx context.Context, symbol string) (*models.RawChain, error)
	Close() error
}

// SnapshotKey addresses one circular slot.
type SnapshotKey struct {
	Cycle  int
	Symbol string
	Bucket models.BucketTag
}

// HistoryQuery selects chg_oi_diff history for a strike.
type HistoryQuery struct {
	Symbol  string
	Bucket  models.BucketTag
	Strike  int64
	Current int
	Depth   int
}

// StoreStats reports the cycle cursor.
type StoreStats struct {
	CurrentCycle int   `json:"current_cycle"`
	TotalFetches int64 `json:"total_fetches"`
	MaxCycles    int   `json:"max_cycles"`
}

type SnapshotStore interface {
	NextCycle(ctx context.Context) (int, error)
	Write(ctx context.Context, key SnapshotKey, fetchedAt time.Time, rows []models.StrikeRow) error
	Rows(ctx context.Context, key SnapshotKey) ([]models.StrikeRow, error)
	History(ctx context.Context, q HistoryQuery) ([]int64, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

type DiscoveryLedger interface {
	IsKnownToday(ctx context.Context, symbol string, day time.Time) (bool, error)
	// Record inserts d unless (symbol, date) exists; known is true on the no-op path.
	Record(ctx context.Context, d models.Discovery) (known bool, err error)
	List(ctx context.Context, date string) ([]models.Discovery, error)
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
}

// Publisher emits cycle artifacts onto the event bus.
type Publisher interface {
	PublishSnapshot(ctx context.Context, runID string, cycle int, b models.BucketSnapshot) error
	PublishVerdict(ctx context.Context, ev models.VerdictEvent) error
	PublishPacket(ctx context.Context, p models.Packet) error
	Close() error
}

// Archive mirrors persisted rows into an append-only analytic store.
type Archive interface {
	Append(ctx context.Context, key SnapshotKey, fetchedAt time.Time, rows []models.StrikeRow) error
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordCycle(result string)
	RecordFetch(kind, symbol, result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSpot(symbol string, price float64)
	RecordPCR(symbol, bucket string, oiPCR, volumePCR float64)
	RecordVerdict(label string)
	RecordSink(sink, result string)
	RecordMessageSent(backend, topic string)
}

// LLM is an opaque text-in/text-out completion service.
type LLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Notifier delivers a subject and text body to a human channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, subject, body string) error
}

// Broadcaster pushes cycle summaries to live subscribers.
type Broadcaster interface {
	Broadcast(summary models.CycleSummary)
}

// ArchiveQuery selects mirrored rows for one symbol and bucket, newest first.
type ArchiveQuery struct {
	Symbol string
	Bucket models.BucketTag
	From   time.Time
	To     time.Time
	Limit  int
}

// ArchiveReader reads back the analytic mirror.
type ArchiveReader interface {
	Query(ctx context.Context, q ArchiveQuery) ([]models.OptionChainRow, error)
}
