package tracker

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/client"
	"github.com/openindex/indexsync/engine"
	"github.com/openindex/indexsync/proto"
)

// MetadataTracker follows the repository transaction log: for every new
// transaction it indexes the node events, writes the Tx document and
// advances the state marker.
type MetadataTracker struct {
	stats

	cfg   Config
	eng   *engine.Engine
	repo  client.Repository
	state *SharedState
}

func NewMetadataTracker(cfg *Config, eng *engine.Engine, repo client.Repository, state *SharedState) *MetadataTracker {
	initConfig(cfg)
	return &MetadataTracker{cfg: *cfg, eng: eng, repo: repo, state: state}
}

func (t *MetadataTracker) Name() string { return "metadata-tracker" }

func (t *MetadataTracker) Stats() proto.TrackerStats { return t.stats.snapshot(t.Name()) }

func (t *MetadataTracker) Track(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	defer func() {
		t.stats.cycles.Add(1)
		t.stats.lastCycleMs.Store(time.Since(start).Milliseconds())
	}()

	st := t.state.begin(ctx, t.eng)

	for {
		txns, err := t.repo.Transactions(ctx, st.LastGoodTxCommitTime, st.LastIndexedTxID+1, t.cfg.BatchTxns)
		if err != nil {
			return errors.Info(err, "fetch transactions failed")
		}
		if len(txns) == 0 {
			return nil
		}

		for _, tx := range txns {
			indexed, err := t.eng.TxnInIndex(ctx, tx.ID, true)
			if err != nil {
				return err
			}
			if indexed {
				continue
			}
			if err := t.indexTransaction(ctx, tx); err != nil {
				t.stats.docsFailed.Add(1)
				span.Errorf("index transaction %d failed: %s", tx.ID, errors.Detail(err))
				continue
			}
		}

		last := txns[len(txns)-1]
		st.LastGoodTxCommitTime = last.CommitTime
		st.LastIndexedTxID = last.ID
		if len(txns) < t.cfg.BatchTxns {
			return nil
		}
	}
}

func (t *MetadataTracker) indexTransaction(ctx context.Context, tx *proto.Transaction) error {
	nodes, err := t.repo.Nodes(ctx, []int64{tx.ID}, t.cfg.BatchNodes)
	if err != nil {
		return errors.Info(err, "fetch nodes failed", tx.ID)
	}
	if err := t.eng.IndexNodes(ctx, nodes, true, false); err != nil {
		return err
	}
	if err := t.eng.IndexTransaction(ctx, tx); err != nil {
		return err
	}
	t.stats.docsIndexed.Add(int64(len(nodes)) + 1)
	t.state.recordTx(tx.ID, tx.CommitTime)
	return nil
}
