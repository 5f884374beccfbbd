package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanContentPurgeRespectsRetention(t *testing.T) {
	cfg := &Config{}
	initConfig(cfg)
	caches := newFreshnessCaches(cfg)

	now := nowMs()
	caches.cleanContent.Add(1, now-cfg.CleanContentRetentionMs-1)
	caches.cleanContent.Add(2, now)

	caches.purgeStaleCleanContent(now)

	require.False(t, caches.cleanContent.Contains(1))
	require.True(t, caches.cleanContent.Contains(2))
}

func TestCleanContentPurgeThrottled(t *testing.T) {
	cfg := &Config{}
	initConfig(cfg)
	caches := newFreshnessCaches(cfg)

	now := nowMs()
	caches.purgeStaleCleanContent(now)
	caches.cleanContent.Add(1, now-cfg.CleanContentRetentionMs-1)

	// a second purge inside the throttle window is a no-op
	caches.purgeStaleCleanContent(now + 1)
	require.True(t, caches.cleanContent.Contains(1))

	caches.purgeStaleCleanContent(now + cfg.CleanContentPurgeEveryMs + 1)
	require.False(t, caches.cleanContent.Contains(1))
}

func TestPurgeAllEmptiesEveryCache(t *testing.T) {
	cfg := &Config{}
	initConfig(cfg)
	caches := newFreshnessCaches(cfg)

	caches.txInIndex.Add(1, true)
	caches.aclTxInIndex.Add(1, true)
	caches.cleanContent.Add(1, nowMs())
	caches.cascade.Add(1, true)

	caches.purgeAll()

	require.Zero(t, caches.txInIndex.Len())
	require.Zero(t, caches.aclTxInIndex.Len())
	require.Zero(t, caches.cleanContent.Len())
	require.Zero(t, caches.cascade.Len())
}
