package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openindex/indexsync/proto"
)

func indexTree(t *testing.T, eng *Engine, repo *fakeRepo, mds ...*proto.NodeMetaData) {
	ctx := context.Background()
	for _, md := range mds {
		repo.addMetadata(md)
		node := &proto.Node{ID: md.ID, TxID: md.TxID, Status: proto.NodeStatusUpdated, Tenant: md.Tenant}
		require.NoError(t, eng.IndexNode(ctx, node, true))
	}
	require.NoError(t, eng.Commit(ctx))
}

func treeMetadata(dbID, txID int64, ref string, paths, ancestors, parents []string) *proto.NodeMetaData {
	return &proto.NodeMetaData{
		ID:           dbID,
		NodeRef:      ref,
		TxID:         txID,
		AclID:        1,
		Tenant:       proto.DefaultTenant,
		Type:         "cm:folder",
		Name:         ref,
		Paths:        paths,
		Ancestors:    ancestors,
		ParentAssocs: parents,
		IsIndexed:    true,
	}
}

func TestCascadePatchesDescendants(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	indexTree(t, eng, repo,
		treeMetadata(1, 5, "refA", []string{"/root/refA"}, []string{"root"}, []string{"root"}),
		treeMetadata(2, 5, "refB", []string{"/root/refA/refB"}, []string{"root", "refA"}, []string{"refA"}),
		treeMetadata(3, 5, "refC", []string{"/root/refA/refB/refC"}, []string{"root", "refA", "refB"}, []string{"refB"}),
	)

	// move refA under root2
	moved := treeMetadata(1, 10, "refA", []string{"/root2/refA"}, []string{"root2"}, []string{"root2"})
	require.NoError(t, eng.cascadeByPath(ctx, moved))
	require.NoError(t, eng.Commit(ctx))

	b := searchNode(t, idx, 2)
	require.Len(t, b, 1)
	require.Equal(t, []string{"root2", "refA"}, b[0].Ancestors)
	require.Equal(t, []string{"/root2/refA/refB"}, b[0].Paths)

	c := searchNode(t, idx, 3)
	require.Len(t, c, 1)
	require.Equal(t, []string{"root2", "refA", "refB"}, c[0].Ancestors)
	require.Equal(t, []string{"/root2/refA/refB/refC"}, c[0].Paths)
}

func TestCascadeCycleGuardTerminates(t *testing.T) {
	ctx := context.Background()
	eng, repo, _ := newTestEngine(t, nil)

	// a corrupt hierarchy where two nodes claim each other as parent must
	// not loop forever
	indexTree(t, eng, repo,
		treeMetadata(2, 5, "refB", []string{"/root/refB"}, []string{"root", "refC"}, []string{"refC"}),
		treeMetadata(3, 5, "refC", []string{"/root/refC"}, []string{"root", "refB"}, []string{"refB"}),
	)

	moved := treeMetadata(2, 10, "refB", []string{"/root2/refB"}, []string{"root2", "refC"}, []string{"refC"})
	require.NoError(t, eng.cascadeByPath(ctx, moved))
	require.NoError(t, eng.Commit(ctx))
}

func TestCascadeFlaggedSkipsNewerDescendants(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	indexTree(t, eng, repo,
		treeMetadata(2, 5, "refB", []string{"/root/refA/refB"}, []string{"root", "refA"}, []string{"refA"}),
		treeMetadata(3, 20, "refC", []string{"/root/refA/refC"}, []string{"root", "refA"}, []string{"refA"}),
	)

	// trigger at tx 10: only descendants strictly older are patched
	trigger := treeMetadata(1, 10, "refA", []string{"/root2/refA"}, []string{"root2"}, []string{"root2"})
	require.NoError(t, eng.cascadeFlagged(ctx, trigger))
	require.NoError(t, eng.Commit(ctx))

	b := searchNode(t, idx, 2)
	require.Len(t, b, 1)
	require.Equal(t, []string{"/root2/refA/refB"}, b[0].Paths)

	c := searchNode(t, idx, 3)
	require.Len(t, c, 1)
	require.Equal(t, []string{"/root/refA/refC"}, c[0].Paths)
}
