// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/internal/lockfile"
	"github.com/revpack/revpack/packfile"
	"github.com/stretchr/testify/require"
)

// writeDataPack flushes one pack pair without keeping a reader open.
func writeDataPack(t *testing.T, dir string, specs ...dataSpec) string {
	t.Helper()
	mp := packfile.NewMutableDataPack(dir)
	for _, s := range specs {
		require.NoError(t, mp.Add(s.name, s.node, s.deltaBase, s.payload))
	}
	path, err := mp.Flush()
	require.NoError(t, err)
	require.NotEmpty(t, path)
	return path
}

func writeHistoryPack(t *testing.T, dir string, specs ...histSpec) string {
	t.Helper()
	mp := packfile.NewMutableHistoryPack(dir)
	for _, s := range specs {
		require.NoError(t, mp.Add(s.name, s.node, s.info))
	}
	path, err := mp.Flush()
	require.NoError(t, err)
	require.NotEmpty(t, path)
	return path
}

func packExists(path, suffix string) bool {
	_, err := os.Stat(path + suffix)
	return err == nil
}

func TestRepackMergesPacks(t *testing.T) {
	dir := t.TempDir()
	want := make(map[Key][]byte)
	var sources []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("file-%d", i)
		node := testNode(name)
		text := []byte("contents of " + name)
		sources = append(sources,
			writeDataPack(t, dir, dataSpec{name, node, Null, text}),
			writeHistoryPack(t, dir, histSpec{name, node, NodeInfo{Linknode: testNode("l", i)}}),
		)
		want[MakeKey(name, node)] = text
	}

	e, err := Open(dir, &Options{GenCountLimit: 2})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(true))

	m := e.Metrics()
	require.Equal(t, int64(1), m.DataPacks)
	require.Equal(t, int64(1), m.HistoryPacks)
	require.Equal(t, int64(1), m.Repack.Count)
	require.Equal(t, int64(20), m.Repack.InputPacks)
	require.Equal(t, int64(2), m.Repack.OutputPacks)
	require.Equal(t, int64(10), m.Repack.Entries)
	require.Equal(t, int64(0), m.Repack.GCed)

	for key, text := range want {
		got, err := e.Get(key.Name, key.Node)
		require.NoError(t, err)
		require.Equal(t, text, got)
		info, err := e.GetNodeInfo(key.Name, key.Node)
		require.NoError(t, err)
		require.False(t, info.Linknode.IsNull())
	}

	for i, src := range sources {
		suffix := base.DataPackSuffix
		if i%2 == 1 {
			suffix = base.HistoryPackSuffix
		}
		require.False(t, packExists(src, suffix), "source %s not deleted", src)
	}
}

func TestRepackNothingToDo(t *testing.T) {
	dir := t.TempDir()
	writeDataPack(t, dir, dataSpec{"a", testNode("a"), Null, []byte("a")})
	writeDataPack(t, dir, dataSpec{"b", testNode("b"), Null, []byte("b")})

	e, err := Open(dir, &Options{GenCountLimit: 2})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(true))
	m := e.Metrics()
	require.Equal(t, int64(0), m.Repack.Count)
	require.Equal(t, int64(2), m.DataPacks)
}

func TestRepackLockBusy(t *testing.T) {
	dir := t.TempDir()
	writeDataPack(t, dir, dataSpec{"a", testNode("a"), Null, []byte("a")})
	e, err := Open(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	lock, err := lockfile.TryLock(base.MakeFilepath(dir, base.FileTypeLock, ""))
	require.NoError(t, err)
	defer lock.Close()

	err = e.Repack(false)
	require.True(t, errors.Is(err, ErrRepackInProgress))
}

func TestRepackGC(t *testing.T) {
	dir := t.TempDir()
	oldKey := MakeKey("stale", testNode("stale"))
	pinnedKey := MakeKey("pinned", testNode("pinned"))
	freshKey := MakeKey("fresh", testNode("fresh"))

	agedPack := writeDataPack(t, dir,
		dataSpec{oldKey.Name, oldKey.Node, Null, []byte("stale text")},
		dataSpec{pinnedKey.Name, pinnedKey.Node, Null, []byte("pinned text")},
	)
	writeDataPack(t, dir, dataSpec{freshKey.Name, freshKey.Node, Null, []byte("fresh text")})

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(agedPack+base.DataPackSuffix, past, past))

	e, err := Open(dir, &Options{
		GC: GCPolicy{
			TTL:  time.Hour,
			Keep: func(key Key) bool { return key == pinnedKey },
		},
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(false))

	m := e.Metrics()
	require.Equal(t, int64(1), m.Repack.GCed)
	require.Equal(t, int64(1), m.DataPacks)

	_, err = e.Get(oldKey.Name, oldKey.Node)
	require.True(t, errors.Is(err, ErrNotFound))
	got, err := e.Get(pinnedKey.Name, pinnedKey.Node)
	require.NoError(t, err)
	require.Equal(t, []byte("pinned text"), got)
	got, err = e.Get(freshKey.Name, freshKey.Node)
	require.NoError(t, err)
	require.Equal(t, []byte("fresh text"), got)

	// The aged source was fully subsumed (one entry rewritten, one
	// collected) and deleted.
	require.False(t, packExists(agedPack, base.DataPackSuffix))
}

func TestRepackPreservesDeltaChains(t *testing.T) {
	dir := t.TempDir()
	node0 := testNode("f", 0)
	node1 := testNode("f", 1)
	node2 := testNode("f", 2)
	text0 := []byte("revision zero\n")
	text1 := []byte("revision one\n")
	text2 := []byte("revision two\n")

	writeDataPack(t, dir,
		dataSpec{"f", node0, Null, text0},
		dataSpec{"f", node1, node0, packfile.MakeFullReplacementDelta(len(text0), text1)},
	)
	// The second pack's chain dangles into the first.
	writeDataPack(t, dir,
		dataSpec{"f", node2, node1, packfile.MakeFullReplacementDelta(len(text1), text2)},
	)

	e, err := Open(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(false))
	require.Equal(t, int64(1), e.Metrics().DataPacks)

	for node, text := range map[Node][]byte{node0: text0, node1: text1, node2: text2} {
		got, err := e.Get("f", node)
		require.NoError(t, err)
		require.Equal(t, text, got)
	}
}

func TestRepackIncrementalLeavesLargePacks(t *testing.T) {
	dir := t.TempDir()
	bigText := make([]byte, 20<<10)
	for i := range bigText {
		bigText[i] = byte(i)
	}
	bigNode := testNode("big", 0)
	bigPack := writeDataPack(t, dir, dataSpec{"big", bigNode, Null, bigText})

	var smalls []string
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("small-%d", i)
		smalls = append(smalls, writeDataPack(t, dir,
			dataSpec{name, testNode(name), Null, []byte(name)}))
	}

	e, err := Open(dir, &Options{
		Generations:   []int64{1, 10 << 10},
		GenCountLimit: 2,
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(true))

	// The small generation merged; the big pack was not touched.
	require.Equal(t, int64(2), e.Metrics().DataPacks)
	require.True(t, packExists(bigPack, base.DataPackSuffix))
	for _, src := range smalls {
		require.False(t, packExists(src, base.DataPackSuffix))
	}
	got, err := e.Get("big", bigNode)
	require.NoError(t, err)
	require.Equal(t, bigText, got)
}

func TestRepackOrphanResolvesAcrossGenerations(t *testing.T) {
	dir := t.TempDir()
	node0 := testNode("f", 0)
	node1 := testNode("f", 1)
	node2 := testNode("f", 2)
	text0 := make([]byte, 12<<10)
	for i := range text0 {
		text0[i] = 'z'
	}
	text1 := []byte("first delta\n")
	text2 := []byte("second delta\n")

	// The full text sits in a large pack the incremental pass will not
	// select, so node1 becomes an orphan in the output and is re-rooted.
	bigPack := writeDataPack(t, dir, dataSpec{"f", node0, Null, text0})
	writeDataPack(t, dir,
		dataSpec{"f", node1, node0, packfile.MakeFullReplacementDelta(len(text0), text1)})
	writeDataPack(t, dir,
		dataSpec{"f", node2, node1, packfile.MakeFullReplacementDelta(len(text1), text2)})
	writeDataPack(t, dir, dataSpec{"g", testNode("g"), Null, []byte("padding")})

	e, err := Open(dir, &Options{
		Generations:   []int64{1, 10 << 10},
		GenCountLimit: 2,
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(true))
	require.True(t, packExists(bigPack, base.DataPackSuffix))

	for node, text := range map[Node][]byte{node0: text0, node1: text1, node2: text2} {
		got, err := e.Get("f", node)
		require.NoError(t, err)
		require.Equal(t, text, got)
	}

	// node1 no longer depends on the unselected pack: the merged pack can
	// materialize it alone.
	require.NoError(t, e.MarkForRefresh())
	var merged *packfile.DataPack
	for _, p := range e.packDir.DataPacks() {
		if p.Path() != bigPack {
			merged = p
		}
	}
	require.NotNil(t, merged)
	got, err := merged.Get("f", node1)
	require.NoError(t, err)
	require.Equal(t, text1, got)
}

func TestRepackCorruptPackUntouched(t *testing.T) {
	dir := t.TempDir()
	var corruptions []PackCorruptionInfo
	badPath := dir + "/bad"
	require.NoError(t, os.WriteFile(badPath+base.DataPackSuffix, []byte{0x7F}, 0644))
	require.NoError(t, os.WriteFile(badPath+base.DataIndexSuffix, []byte{0x7F, 0x00}, 0644))

	goodKey := MakeKey("good", testNode("good"))
	writeDataPack(t, dir, dataSpec{goodKey.Name, goodKey.Node, Null, []byte("good text")})
	writeDataPack(t, dir, dataSpec{"other", testNode("other"), Null, []byte("other text")})

	e, err := Open(dir, &Options{
		EventListener: &EventListener{
			PackCorruption: func(info PackCorruptionInfo) { corruptions = append(corruptions, info) },
		},
	})
	require.NoError(t, err)
	defer e.Close()

	require.Len(t, corruptions, 1)
	require.Equal(t, int64(1), e.Metrics().CorruptPacks)

	require.NoError(t, e.Repack(false))

	// The quarantined pack is never read and never deleted.
	require.True(t, packExists(badPath, base.DataPackSuffix))
	got, err := e.Get(goodKey.Name, goodKey.Node)
	require.NoError(t, err)
	require.Equal(t, []byte("good text"), got)
}

func TestMaybeRepack(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("file-%d", i)
		writeDataPack(t, dir, dataSpec{name, testNode(name), Null, []byte(name)})
	}

	e, err := Open(dir, &Options{MaxPackFileCount: 4, GenCountLimit: 2})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.MaybeRepack())
	m := e.Metrics()
	require.Equal(t, int64(1), m.DataPacks)
	require.Equal(t, int64(1), m.Repack.Count)

	// Below the threshold now: no further repacks.
	require.NoError(t, e.MaybeRepack())
	require.Equal(t, int64(1), e.Metrics().Repack.Count)
}

func TestRepackEvents(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("file-%d", i)
		writeDataPack(t, dir, dataSpec{name, testNode(name), Null, []byte(name)})
	}

	var begin, end []RepackInfo
	var deleted []PackDeleteInfo
	var created []PackCreateInfo
	e, err := Open(dir, &Options{
		GenCountLimit: 2,
		EventListener: &EventListener{
			RepackBegin: func(info RepackInfo) { begin = append(begin, info) },
			RepackEnd:   func(info RepackInfo) { end = append(end, info) },
			PackDeleted: func(info PackDeleteInfo) { deleted = append(deleted, info) },
			PackCreated: func(info PackCreateInfo) { created = append(created, info) },
		},
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(true))

	require.Len(t, begin, 1)
	require.Len(t, begin[0].Input, 4)
	require.Len(t, end, 1)
	require.NoError(t, end[0].Err)
	require.Equal(t, 4, end[0].Entries)
	require.Len(t, created, 1)
	require.Equal(t, 4, created[0].Entries)
	require.Len(t, deleted, 4)
	for _, info := range deleted {
		require.NoError(t, info.Err)
	}
}

// orphanFixture builds a large pack holding a shared full text plus two small
// packs whose entries delta against it. An incremental repack over the small
// generation re-roots both entries as orphans.
func orphanFixture(t *testing.T, dir string) (nodeA, nodeB Node, textA, textB []byte) {
	t.Helper()
	node0 := testNode("f", 0)
	text0 := make([]byte, 12<<10)
	nodeA = testNode("f", "a")
	nodeB = testNode("f", "b")
	textA = []byte("orphan a, the longer of the two\n")
	textB = []byte("orphan b, shorter\n")

	writeDataPack(t, dir, dataSpec{"f", node0, Null, text0})
	writeDataPack(t, dir,
		dataSpec{"f", nodeA, node0, packfile.MakeFullReplacementDelta(len(text0), textA)})
	writeDataPack(t, dir,
		dataSpec{"f", nodeB, node0, packfile.MakeFullReplacementDelta(len(text0), textB)})
	return nodeA, nodeB, textA, textB
}

func TestRepackOrphanChainingOrder(t *testing.T) {
	dir := t.TempDir()
	nodeA, nodeB, textA, textB := orphanFixture(t, dir)

	e, err := Open(dir, &Options{
		Generations:   []int64{1, 10 << 10},
		GenCountLimit: 1,
	})
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Repack(true))

	// Orphans chain largest text first: the longer text is the chain root and
	// the shorter one deltas against it.
	delta, _, deltaBase, err := e.GetDelta("f", nodeA)
	require.NoError(t, err)
	require.True(t, deltaBase.IsNull())
	require.Equal(t, textA, delta)

	_, _, deltaBase, err = e.GetDelta("f", nodeB)
	require.NoError(t, err)
	require.Equal(t, nodeA, deltaBase)

	got, err := e.Get("f", nodeB)
	require.NoError(t, err)
	require.Equal(t, textB, got)
}

func TestRepackOrphanChainingDisabled(t *testing.T) {
	dir := t.TempDir()
	nodeA, nodeB, textA, textB := orphanFixture(t, dir)

	e, err := Open(dir, &Options{
		Generations:           []int64{1, 10 << 10},
		GenCountLimit:         1,
		DisableOrphanChaining: true,
	})
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Repack(true))

	for node, text := range map[Node][]byte{nodeA: textA, nodeB: textB} {
		_, _, deltaBase, err := e.GetDelta("f", node)
		require.NoError(t, err)
		require.True(t, deltaBase.IsNull())
		got, err := e.Get("f", node)
		require.NoError(t, err)
		require.Equal(t, text, got)
	}
}

// A full repack rewrites each name's chain along its recorded ancestry:
// children first, every parent stored as a delta against the child that
// claimed it last.
func TestRepackDeltaBasesFollowAncestry(t *testing.T) {
	dir := t.TempDir()
	node0 := testNode("f", 0)
	node1 := testNode("f", 1)
	node2 := testNode("f", 2)
	text0 := []byte("ancestry zero\n")
	text1 := []byte("ancestry one\n")
	text2 := []byte("ancestry two\n")

	// Three full texts across three packs, none delta-linked on disk.
	writeDataPack(t, dir, dataSpec{"f", node0, Null, text0})
	writeDataPack(t, dir, dataSpec{"f", node1, Null, text1})
	writeDataPack(t, dir, dataSpec{"f", node2, Null, text2})
	writeHistoryPack(t, dir,
		histSpec{"f", node0, NodeInfo{Linknode: testNode("l", 0)}},
		histSpec{"f", node1, NodeInfo{P1: node0, Linknode: testNode("l", 1)}},
		histSpec{"f", node2, NodeInfo{P1: node1, Linknode: testNode("l", 2)}},
	)

	e, err := Open(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(false))
	require.Equal(t, int64(1), e.Metrics().DataPacks)

	// The newest revision is the chain head; each parent deltas against
	// its child.
	_, _, deltaBase, err := e.GetDelta("f", node2)
	require.NoError(t, err)
	require.True(t, deltaBase.IsNull())
	_, _, deltaBase, err = e.GetDelta("f", node1)
	require.NoError(t, err)
	require.Equal(t, node2, deltaBase)
	_, _, deltaBase, err = e.GetDelta("f", node0)
	require.NoError(t, err)
	require.Equal(t, node1, deltaBase)

	for node, text := range map[Node][]byte{node0: text0, node1: text1, node2: text2} {
		got, err := e.Get("f", node)
		require.NoError(t, err)
		require.Equal(t, text, got)
	}
}

// Merge ancestry: when two children share a parent, the parent deltas
// against whichever child claimed it last in children-first order.
func TestRepackDeltaBasesMergeAncestry(t *testing.T) {
	dir := t.TempDir()
	parent := testNode("m", "p")
	childA := testNode("m", "a")
	childB := testNode("m", "b")
	textP := []byte("merge parent\n")
	textA := []byte("merge child a\n")
	textB := []byte("merge child b\n")

	writeDataPack(t, dir,
		dataSpec{"m", parent, Null, textP},
		dataSpec{"m", childA, Null, textA},
		dataSpec{"m", childB, Null, textB},
	)
	writeHistoryPack(t, dir,
		histSpec{"m", parent, NodeInfo{Linknode: testNode("l", "p")}},
		histSpec{"m", childA, NodeInfo{P1: parent, Linknode: testNode("l", "a")}},
		histSpec{"m", childB, NodeInfo{P1: parent, Linknode: testNode("l", "b")}},
	)

	e, err := Open(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Repack(false))

	// Both children are chain heads; the parent hangs off exactly one of
	// them, and every text still resolves.
	_, _, parentBase, err := e.GetDelta("m", parent)
	require.NoError(t, err)
	require.True(t, parentBase == childA || parentBase == childB)
	for node, text := range map[Node][]byte{parent: textP, childA: textA, childB: textB} {
		got, err := e.Get("m", node)
		require.NoError(t, err)
		require.Equal(t, text, got)
	}
}
