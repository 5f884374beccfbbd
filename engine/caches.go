package engine

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// freshnessCaches are the bounded LRU maps tracking what has already been
// confirmed present in the index or harvested. All of them are purged on
// rollback.
type freshnessCaches struct {
	// transactions confirmed present in the index
	txInIndex *lru.Cache[int64, bool]
	// acl change-sets confirmed present in the index
	aclTxInIndex *lru.Cache[int64, bool]
	// transactions whose dirty/new content has been harvested, keyed to
	// the wall time the harvest was recorded
	cleanContent *lru.Cache[int64, int64]
	// transactions already cascade-processed
	cascade *lru.Cache[int64, bool]

	retentionMs  int64
	purgeEveryMs int64
	lastPurge    atomic.Int64
}

func newFreshnessCaches(cfg *Config) *freshnessCaches {
	txInIndex, _ := lru.New[int64, bool](cfg.TxCacheSize)
	aclTxInIndex, _ := lru.New[int64, bool](cfg.AclTxCacheSize)
	cleanContent, _ := lru.New[int64, int64](cfg.CleanContentCacheSize)
	cascade, _ := lru.New[int64, bool](cfg.CascadeCacheSize)

	return &freshnessCaches{
		txInIndex:    txInIndex,
		aclTxInIndex: aclTxInIndex,
		cleanContent: cleanContent,
		cascade:      cascade,
		retentionMs:  cfg.CleanContentRetentionMs,
		purgeEveryMs: cfg.CleanContentPurgeEveryMs,
	}
}

func (c *freshnessCaches) purgeAll() {
	c.txInIndex.Purge()
	c.aclTxInIndex.Purge()
	c.cleanContent.Purge()
	c.cascade.Purge()
}

// purgeStaleCleanContent drops harvested-transaction entries older than
// the retention window so failed harvests are retried automatically. The
// scan itself is throttled.
func (c *freshnessCaches) purgeStaleCleanContent(nowMs int64) {
	last := c.lastPurge.Load()
	if nowMs-last < c.purgeEveryMs {
		return
	}
	if !c.lastPurge.CompareAndSwap(last, nowMs) {
		return
	}

	for _, txID := range c.cleanContent.Keys() {
		if recorded, ok := c.cleanContent.Peek(txID); ok && nowMs-recorded > c.retentionMs {
			c.cleanContent.Remove(txID)
		}
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
