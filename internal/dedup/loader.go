package dedup

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ContactSource yields the current set of CRM contacts.
type ContactSource interface {
	Contacts(ctx context.Context) ([]Record, error)
}

// Refresher rebuilds the corpus index from a ContactSource and publishes it
// to a Holder. It is the single writer for that Holder.
type Refresher struct {
	source ContactSource
	engine *Engine
	holder *Holder

	mu          sync.Mutex
	lastErr     error
	lastRefresh time.Time
}

// NewRefresher creates a refresher.
func NewRefresher(source ContactSource, engine *Engine, holder *Holder) *Refresher {
	return &Refresher{source: source, engine: engine, holder: holder}
}

// Refresh loads contacts, builds a fresh index, and swaps it in. On failure
// the previous snapshot stays published. Concurrent calls are serialized.
func (r *Refresher) Refresh(ctx context.Context) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	records, err := r.source.Contacts(ctx)
	if err != nil {
		r.lastErr = eris.Wrap(err, "dedup: load contacts")
		return nil, r.lastErr
	}

	idx := r.engine.BuildIndex(records)
	r.holder.Swap(idx)
	r.lastErr = nil
	r.lastRefresh = time.Now()

	zap.L().Info("dedup: corpus index refreshed",
		zap.Int("records", len(records)),
		zap.Int("indexed", idx.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return idx, nil
}

// Status returns the time of the last successful refresh and the error of
// the last attempt, if it failed.
func (r *Refresher) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefresh, r.lastErr
}

// Run refreshes every interval until ctx is cancelled. Failures are logged
// and the old snapshot is kept.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	log := zap.L().With(zap.String("component", "dedup.refresher"))
	log.Info("starting corpus refresher", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("corpus refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				log.Error("dedup: refresh failed, keeping previous index",
					zap.Error(err),
					zap.Int("current_records", r.holder.Load().Len()),
				)
			}
		}
	}
}

// FileSource reads contacts from a JSON array of Records. Used for offline
// runs and corpus snapshots exported from the CRM.
type FileSource struct {
	Path string
}

// Contacts implements ContactSource.
func (f FileSource) Contacts(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: read corpus file %s", f.Path)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrapf(err, "dedup: parse corpus file %s", f.Path)
	}
	return records, nil
}

// StaticSource serves a fixed slice of records.
type StaticSource []Record

// Contacts implements ContactSource.
func (s StaticSource) Contacts(_ context.Context) ([]Record, error) {
	return s, nil
}
