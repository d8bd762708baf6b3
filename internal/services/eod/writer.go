// Package eod writes the end-of-day state block: a compact JSON record of recent
// spots, PCRs and per-strike open interest that downstream readers diff against.
package eod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

const (
	filePrefix = "EOD_STATE_BLOCK_OF_"
	fileDate   = "02Jan2006"
	window     = 3
)

// Input carries the snapshots the state block is derived from. A nil snapshot
// carries the previous block's state forward.
type Input struct {
	Now       time.Time
	Nifty     *models.SymbolSnapshot
	BankNifty *models.SymbolSnapshot
}

type Writer struct {
	dir      string
	ext      string
	everyRun bool
	afterH   int
	afterM   int
	log      *applogger.Logger
}

func NewWriter(dir string, cfg config.EODConfig, log *applogger.Logger) *Writer {
	if log == nil {
		log = applogger.Nop()
	}
	h, m, ok := util.ParseClock(cfg.After)
	if !ok {
		h, m = 15, 25
	}
	ext := strings.TrimPrefix(cfg.Extension, ".")
	if ext == "" {
		ext = "json"
	}
	return &Writer{dir: dir, ext: ext, everyRun: cfg.EveryRun, afterH: h, afterM: m, log: log.Component("eod")}
}

// Due reports whether a block should be written at now.
func (w *Writer) Due(now time.Time) bool {
	if w.everyRun {
		return true
	}
	t := now.In(util.IST)
	return t.Hour() > w.afterH || (t.Hour() == w.afterH && t.Minute() >= w.afterM)
}

// FileName is EOD_STATE_BLOCK_OF_<02Jan2006>.<ext> for day in IST.
func FileName(day time.Time, ext string) string {
	return filePrefix + day.In(util.IST).Format(fileDate) + "." + ext
}

// Write builds the block seeded from the latest prior document and replaces the file
// for now's date atomically. It returns the written path.
func (w *Writer) Write(ctx context.Context, in Input) (string, error) {
	const op = "write eod state"
	if err := ctx.Err(); err != nil {
		return "", fault.Cancelled(op, err)
	}
	if in.Now.IsZero() {
		in.Now = util.NowIST()
	}

	prev, prevPath, err := w.Latest(in.Now)
	if err != nil {
		w.log.Warn("previous eod state unreadable, starting fresh",
			applogger.String("path", prevPath), applogger.Error(err))
		prev = nil
	}

	state := Build(in, prev)
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fault.Store(op, err)
	}
	path := filepath.Join(w.dir, FileName(in.Now, w.ext))
	if err := writeAtomic(path, data); err != nil {
		return "", fault.Store(op, err)
	}
	w.log.Info("eod state written",
		applogger.String("path", path),
		applogger.Int("nifty_strikes", len(state.NiftyState.PrevEODOI)),
		applogger.Int("banknifty_strikes", len(state.BankNiftyState.PrevEODOI)))
	return path, nil
}

// Build derives the block for in.Now. prev may be nil.
func Build(in Input, prev *models.EODState) models.EODState {
	now := in.Now.In(util.IST)
	date := now.Format(time.DateOnly)

	var base models.EODState
	if prev != nil {
		base = *prev
	}
	sameDay := len(base.NiftyState.Last3Dates) > 0 &&
		base.NiftyState.Last3Dates[len(base.NiftyState.Last3Dates)-1] == date

	state := models.EODState{
		GeneratedOn:    now.Format(time.RFC3339),
		NiftyState:     base.NiftyState,
		BankNiftyState: base.BankNiftyState,
	}

	// A missing snapshot or bucket carries the previous block forward.
	if b, ok := bucketOf(in.Nifty, models.BucketCurrentWeek); ok {
		ns := &state.NiftyState
		ns.Last3Dates = roll(base.NiftyState.Last3Dates, date, sameDay)
		ns.Last3Spots = roll(base.NiftyState.Last3Spots, in.Nifty.Spot, sameDay)
		ns.Last3PCRs = roll(base.NiftyState.Last3PCRs, b.Metrics.OIPCR, sameDay)
		ns.PrevATMStraddle = b.Metrics.ATMStraddle
		ns.PrevEODOI = models.OIByStrikeLeg(b.Window)
	}
	if b, ok := bucketOf(in.BankNifty, models.BucketMonthly); ok {
		bs := &state.BankNiftyState
		bs.Last3PCRs = roll(base.BankNiftyState.Last3PCRs, b.Metrics.OIPCR, sameDay)
		bs.PrevEODOI = models.OIByStrikeLeg(b.Window)
	}
	normalize(&state)
	return state
}

func bucketOf(s *models.SymbolSnapshot, tag models.BucketTag) (models.BucketSnapshot, bool) {
	if s == nil {
		return models.BucketSnapshot{}, false
	}
	return s.Bucket(tag)
}

// roll appends v keeping the newest window entries. replaceLast overwrites a same-day entry.
func roll[T any](prev []T, v T, replaceLast bool) []T {
	out := append([]T(nil), prev...)
	if replaceLast && len(out) > 0 {
		out[len(out)-1] = v
	} else {
		out = append(out, v)
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

func normalize(s *models.EODState) {
	if s.NiftyState.Last3Dates == nil {
		s.NiftyState.Last3Dates = []string{}
	}
	if s.NiftyState.Last3Spots == nil {
		s.NiftyState.Last3Spots = []float64{}
	}
	if s.NiftyState.Last3PCRs == nil {
		s.NiftyState.Last3PCRs = []float64{}
	}
	if s.NiftyState.PrevEODOI == nil {
		s.NiftyState.PrevEODOI = map[string]int64{}
	}
	if s.BankNiftyState.Last3PCRs == nil {
		s.BankNiftyState.Last3PCRs = []float64{}
	}
	if s.BankNiftyState.PrevEODOI == nil {
		s.BankNiftyState.PrevEODOI = map[string]int64{}
	}
}

// Latest finds the newest block dated on or before now and decodes it.
// It returns nil with no error when the directory holds none.
func (w *Writer) Latest(now time.Time) (*models.EODState, string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, filePrefix+"*."+w.ext))
	if err != nil {
		return nil, "", err
	}
	type dated struct {
		day  time.Time
		path string
	}
	limit := util.DateOnly(now)
	var found []dated
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), filePrefix), "."+w.ext)
		day, err := time.ParseInLocation(fileDate, name, util.IST)
		if err != nil || day.After(limit) {
			continue
		}
		found = append(found, dated{day, m})
	}
	if len(found) == 0 {
		return nil, "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].day.After(found[j].day) })

	state, err := ReadFile(found[0].path)
	if err != nil {
		return nil, found[0].path, err
	}
	return &state, found[0].path, nil
}

// Decode reads a block.
func Decode(r io.Reader) (models.EODState, error) {
	var s models.EODState
	dec := json.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return models.EODState{}, fmt.Errorf("decode eod state: %w", err)
	}
	if s.GeneratedOn == "" {
		return models.EODState{}, errors.New("decode eod state: missing generated_on")
	}
	normalize(&s)
	return s, nil
}

func ReadFile(path string) (models.EODState, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.EODState{}, err
	}
	defer f.Close()
	return Decode(f)
}

// writeAtomic writes data to a temp file in path's directory, syncs it and renames it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
