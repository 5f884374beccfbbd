package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/openindex/indexsync/engine"
	"github.com/openindex/indexsync/proto"
)

// ContentTracker harvests text content for documents still marked New or
// Dirty, spreading the fetches over a bounded worker pool.
type ContentTracker struct {
	stats

	cfg    Config
	eng    *engine.Engine
	pool   taskpool.TaskPool
	closer sync.Once
}

func NewContentTracker(cfg *Config, eng *engine.Engine) *ContentTracker {
	initConfig(cfg)
	return &ContentTracker{
		cfg:  *cfg,
		eng:  eng,
		pool: taskpool.New(cfg.ContentWorkers, cfg.ContentWorkers),
	}
}

func (t *ContentTracker) Name() string { return "content-tracker" }

func (t *ContentTracker) Stats() proto.TrackerStats { return t.stats.snapshot(t.Name()) }

func (t *ContentTracker) Track(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	defer func() {
		t.stats.cycles.Add(1)
		t.stats.lastCycleMs.Store(time.Since(start).Milliseconds())
	}()

	targets, err := t.eng.DocsWithUncleanContent(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		t.pool.Run(func() {
			defer wg.Done()
			if err := t.eng.UpdateContentToIndexAndCache(ctx, target); err != nil {
				t.stats.docsFailed.Add(1)
				span.Warnf("content harvest for %s failed: %s", target.String(), err)
				return
			}
			t.stats.docsIndexed.Add(1)
		})
	}
	wg.Wait()
	return nil
}

func (t *ContentTracker) Close() {
	t.closer.Do(t.pool.Close)
}
