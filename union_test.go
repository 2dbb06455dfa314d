// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/packfile"
	"github.com/stretchr/testify/require"
)

func testNode(parts ...interface{}) Node {
	return Node(sha1.Sum([]byte(fmt.Sprint(parts...))))
}

// flushDataPack builds one immutable data pack from (name, node, deltaBase,
// payload) tuples.
type dataSpec struct {
	name      string
	node      Node
	deltaBase Node
	payload   []byte
}

func flushDataPack(t *testing.T, dir string, specs ...dataSpec) *packfile.DataPack {
	t.Helper()
	mp := packfile.NewMutableDataPack(dir)
	for _, s := range specs {
		require.NoError(t, mp.Add(s.name, s.node, s.deltaBase, s.payload))
	}
	path, err := mp.Flush()
	require.NoError(t, err)
	pack, err := packfile.OpenDataPack(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pack.Close() })
	return pack
}

type histSpec struct {
	name string
	node Node
	info NodeInfo
}

func flushHistoryPack(t *testing.T, dir string, specs ...histSpec) *packfile.HistoryPack {
	t.Helper()
	mp := packfile.NewMutableHistoryPack(dir)
	for _, s := range specs {
		require.NoError(t, mp.Add(s.name, s.node, s.info))
	}
	path, err := mp.Flush()
	require.NoError(t, err)
	pack, err := packfile.OpenHistoryPack(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pack.Close() })
	return pack
}

func TestUnionContentStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	k1 := MakeKey("f", testNode("f", 1))
	k2 := MakeKey("g", testNode("g", 1))
	k3 := MakeKey("h", testNode("h", 1))

	pack1 := flushDataPack(t, dir, dataSpec{k1.Name, k1.Node, Null, []byte("one")})
	pack2 := flushDataPack(t, dir, dataSpec{k2.Name, k2.Node, Null, []byte("two")})
	u := NewUnionContentStore(pack1, pack2)

	missing, err := u.GetMissing([]Key{k1, k2, k3})
	require.NoError(t, err)
	require.Equal(t, []Key{k3}, missing)

	missing, err = u.GetMissing([]Key{k1, k2})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestUnionContentStoreSplice(t *testing.T) {
	dir := t.TempDir()
	node0 := testNode("f", 0)
	node1 := testNode("f", 1)
	text0 := []byte("the base text lives in another pack\n")
	text1 := []byte("the head text lives here\n")

	// pack1 holds only the delta; its base is in pack2.
	pack1 := flushDataPack(t, dir, dataSpec{
		"f", node1, node0, packfile.MakeFullReplacementDelta(len(text0), text1),
	})
	pack2 := flushDataPack(t, dir, dataSpec{"f", node0, Null, text0})

	// pack1 alone cannot materialize node1.
	_, err := pack1.Get("f", node1)
	require.True(t, errors.Is(err, ErrNotFound))

	u := NewUnionContentStore(pack1, pack2)
	got, err := u.Get("f", node1)
	require.NoError(t, err)
	require.Equal(t, text1, got)

	chain, err := u.GetDeltaChain("f", node1)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, node1, chain[0].Node)
	require.True(t, chain[1].FullText())

	meta, err := u.GetMeta("f", node1)
	require.NoError(t, err)
	require.Equal(t, int64(len(text1)), meta.Size)
}

func TestUnionContentStoreIncompleteChain(t *testing.T) {
	dir := t.TempDir()
	node1 := testNode("f", 1)
	nowhere := testNode("f", 0)
	delta := packfile.MakeFullReplacementDelta(10, []byte("head"))

	pack := flushDataPack(t, dir, dataSpec{"f", node1, nowhere, delta})

	u := NewUnionContentStore(pack)
	_, err := u.GetDeltaChain("f", node1)
	require.True(t, errors.Is(err, ErrNotFound))
	// The failure names the dangling base, not the head.
	require.Contains(t, err.Error(), nowhere.String())

	u.AllowIncomplete = true
	chain, err := u.GetDeltaChain("f", node1)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.False(t, chain[0].FullText())

	// Get still fails: there is no full text to replay from.
	_, err = u.Get("f", node1)
	require.True(t, errors.Is(err, ErrNotFound))

	// Seed misses fail regardless of AllowIncomplete.
	_, err = u.GetDeltaChain("f", testNode("f", 9))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestUnionContentStoreFirstMemberWins(t *testing.T) {
	dir := t.TempDir()
	node := testNode("f", 0)
	pack1 := flushDataPack(t, dir, dataSpec{"f", node, Null, []byte("from pack1")})
	pack2 := flushDataPack(t, dir, dataSpec{"f", node, Null, []byte("from pack2")})

	got, err := NewUnionContentStore(pack1, pack2).Get("f", node)
	require.NoError(t, err)
	require.Equal(t, []byte("from pack1"), got)

	got, err = NewUnionContentStore(pack2, pack1).Get("f", node)
	require.NoError(t, err)
	require.Equal(t, []byte("from pack2"), got)
}

func TestUnionHistoryStoreAcrossPacks(t *testing.T) {
	dir := t.TempDir()
	old0 := testNode("old", 0)
	old1 := testNode("old", 1)
	new0 := testNode("new", 0)
	new1 := testNode("new", 1)

	// The lineage crosses both a pack boundary and a rename: new.txt's
	// copy source lives entirely in the second pack.
	pack1 := flushHistoryPack(t, dir,
		histSpec{"new", new1, NodeInfo{P1: new0, Linknode: testNode("l", 3)}},
		histSpec{"new", new0, NodeInfo{P1: old1, CopyFrom: "old", Linknode: testNode("l", 2)}},
	)
	pack2 := flushHistoryPack(t, dir,
		histSpec{"old", old1, NodeInfo{P1: old0, Linknode: testNode("l", 1)}},
		histSpec{"old", old0, NodeInfo{Linknode: testNode("l", 0)}},
	)

	u := NewUnionHistoryStore(pack1, pack2)
	ancestors, err := u.GetAncestors("new", new1, nil)
	require.NoError(t, err)
	require.Len(t, ancestors, 4)
	require.Equal(t, old0, ancestors[old1].P1)
	require.Equal(t, "old", ancestors[new0].CopyFrom)

	info, err := u.GetNodeInfo("old", old1)
	require.NoError(t, err)
	require.Equal(t, old0, info.P1)

	// known prunes the cross-pack walk.
	ancestors, err = u.GetAncestors("new", new1, map[Node]struct{}{old1: {}})
	require.NoError(t, err)
	require.Len(t, ancestors, 2)

	missing, err := u.GetMissing([]Key{
		MakeKey("old", old0),
		MakeKey("new", new1),
		MakeKey("new", testNode("new", 9)),
	})
	require.NoError(t, err)
	require.Equal(t, []Key{MakeKey("new", testNode("new", 9))}, missing)
}

func TestUnionHistoryStoreIncomplete(t *testing.T) {
	dir := t.TempDir()
	node0 := testNode("f", 0)
	node1 := testNode("f", 1)
	pack := flushHistoryPack(t, dir,
		histSpec{"f", node1, NodeInfo{P1: node0}},
	)

	u := NewUnionHistoryStore(pack)
	_, err := u.GetAncestors("f", node1, nil)
	require.True(t, errors.Is(err, ErrNotFound))

	u.AllowIncomplete = true
	ancestors, err := u.GetAncestors("f", node1, nil)
	require.NoError(t, err)
	require.Len(t, ancestors, 1)

	// Seed misses stay hard failures.
	_, err = u.GetAncestors("f", testNode("f", 9), nil)
	require.True(t, errors.Is(err, ErrNotFound))
}
