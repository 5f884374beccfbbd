package contentstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openindex/indexsync/proto"
	"github.com/openindex/indexsync/util"
)

func newTestStore(t *testing.T) *Store {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(path) })

	store, err := NewStore(context.Background(), &Config{Path: path, KVType: "memory"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc, err := store.Get(ctx, proto.DefaultTenant, 1)
	require.NoError(t, err)
	require.Nil(t, doc)

	in := &proto.Doc{
		ID:        proto.NodeDocID(proto.DefaultTenant, 1, 1),
		Type:      proto.DocTypeNode,
		DBID:      1,
		FTSStatus: proto.FTSClean,
		Content:   "hello",
	}
	require.NoError(t, store.Put(ctx, proto.DefaultTenant, 1, in))

	out, err := store.Get(ctx, proto.DefaultTenant, 1)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, proto.FTSClean, out.FTSStatus)
	require.Equal(t, "hello", out.Content)

	require.NoError(t, store.Delete(ctx, proto.DefaultTenant, 1))
	out, err = store.Get(ctx, proto.DefaultTenant, 1)
	require.NoError(t, err)
	require.Nil(t, out)

	// deleting an absent key is not an error
	require.NoError(t, store.Delete(ctx, proto.DefaultTenant, 1))
}

func TestTenantsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "alpha", 1, &proto.Doc{ID: "alpha!1!1", DBID: 1}))
	require.NoError(t, store.Put(ctx, "beta", 1, &proto.Doc{ID: "beta!1!1", DBID: 1}))

	a, err := store.Get(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Equal(t, "alpha!1!1", a.ID)

	b, err := store.Get(ctx, "beta", 1)
	require.NoError(t, err)
	require.Equal(t, "beta!1!1", b.ID)
}

func TestDeleteTenant(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "alpha", 1, &proto.Doc{ID: "alpha!1!1", DBID: 1}))
	require.NoError(t, store.Put(ctx, "alpha", 2, &proto.Doc{ID: "alpha!1!2", DBID: 2}))
	require.NoError(t, store.Put(ctx, "beta", 1, &proto.Doc{ID: "beta!1!1", DBID: 1}))

	require.NoError(t, store.DeleteTenant(ctx, "alpha"))

	doc, err := store.Get(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Nil(t, doc)
	doc, err = store.Get(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Nil(t, doc)

	doc, err = store.Get(ctx, "beta", 1)
	require.NoError(t, err)
	require.NotNil(t, doc)
}
