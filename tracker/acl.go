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

// AclTracker follows the repository ACL change-set log, indexing reader
// sets and the change-set documents themselves.
type AclTracker struct {
	stats

	cfg   Config
	eng   *engine.Engine
	repo  client.Repository
	state *SharedState
}

func NewAclTracker(cfg *Config, eng *engine.Engine, repo client.Repository, state *SharedState) *AclTracker {
	initConfig(cfg)
	return &AclTracker{cfg: *cfg, eng: eng, repo: repo, state: state}
}

func (t *AclTracker) Name() string { return "acl-tracker" }

func (t *AclTracker) Stats() proto.TrackerStats { return t.stats.snapshot(t.Name()) }

func (t *AclTracker) Track(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	defer func() {
		t.stats.cycles.Add(1)
		t.stats.lastCycleMs.Store(time.Since(start).Milliseconds())
	}()

	st := t.state.begin(ctx, t.eng)

	for {
		sets, err := t.repo.AclChangeSets(ctx, st.LastGoodChangeSetCommitTime, st.LastIndexedChangeSetID+1, t.cfg.BatchTxns)
		if err != nil {
			return errors.Info(err, "fetch acl change sets failed")
		}
		if len(sets) == 0 {
			return nil
		}

		for _, cs := range sets {
			indexed, err := t.eng.AclChangeSetInIndex(ctx, cs.ID, true)
			if err != nil {
				return err
			}
			if indexed {
				continue
			}
			if err := t.indexChangeSet(ctx, cs); err != nil {
				t.stats.docsFailed.Add(1)
				span.Errorf("index acl change set %d failed: %s", cs.ID, errors.Detail(err))
			}
		}

		last := sets[len(sets)-1]
		st.LastGoodChangeSetCommitTime = last.CommitTime
		st.LastIndexedChangeSetID = last.ID
		if len(sets) < t.cfg.BatchTxns {
			return nil
		}
	}
}

func (t *AclTracker) indexChangeSet(ctx context.Context, cs *proto.AclChangeSet) error {
	acls, err := t.repo.Acls(ctx, []int64{cs.ID})
	if err != nil {
		return errors.Info(err, "fetch acls failed", cs.ID)
	}

	aclIDs := make([]int64, 0, len(acls))
	for _, acl := range acls {
		aclIDs = append(aclIDs, acl.ID)
	}
	if len(aclIDs) > 0 {
		readers, err := t.repo.AclReaders(ctx, aclIDs)
		if err != nil {
			return errors.Info(err, "fetch acl readers failed")
		}
		if err := t.eng.IndexAcl(ctx, readers); err != nil {
			return err
		}
		t.stats.docsIndexed.Add(int64(len(readers)))
	}

	if err := t.eng.IndexAclTransaction(ctx, cs); err != nil {
		return err
	}
	t.stats.docsIndexed.Add(1)
	t.state.recordChangeSet(cs.ID, cs.CommitTime)
	return nil
}
