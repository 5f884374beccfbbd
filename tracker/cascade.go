package tracker

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/engine"
	"github.com/openindex/indexsync/proto"
)

// CascadeTracker drains cascade-pending transactions: descendants of
// moved or renamed nodes are patched after the triggering transaction is
// safely committed.
type CascadeTracker struct {
	stats

	cfg Config
	eng *engine.Engine
}

func NewCascadeTracker(cfg *Config, eng *engine.Engine) *CascadeTracker {
	initConfig(cfg)
	return &CascadeTracker{cfg: *cfg, eng: eng}
}

func (t *CascadeTracker) Name() string { return "cascade-tracker" }

func (t *CascadeTracker) Stats() proto.TrackerStats { return t.stats.snapshot(t.Name()) }

func (t *CascadeTracker) Track(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	defer func() {
		t.stats.cycles.Add(1)
		t.stats.lastCycleMs.Store(time.Since(start).Milliseconds())
	}()

	pending, err := t.eng.Cascades(ctx, t.cfg.CascadeBatch)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if err := t.eng.CascadeTransaction(ctx, tx); err != nil {
			t.stats.docsFailed.Add(1)
			span.Errorf("cascade of transaction %d failed: %s", tx.ID, errors.Detail(err))
			continue
		}
		if err := t.eng.MarkCascadeComplete(ctx, tx); err != nil {
			return err
		}
		t.stats.docsIndexed.Add(1)
	}
	return nil
}
