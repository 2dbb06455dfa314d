// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/packfile"
	"github.com/stretchr/testify/require"
)

// newGeneratingFixture wires a GeneratingStore over one shared mutable pack
// pair, the way an engine does: generated entries land in the mutable packs
// and are visible on the read retry.
func newGeneratingFixture(
	t *testing.T, gen Generator,
) (*GeneratingStore, *packfile.MutableDataPack, *packfile.MutableHistoryPack) {
	dir := t.TempDir()
	data := packfile.NewMutableDataPack(dir)
	hist := packfile.NewMutableHistoryPack(dir)
	content := NewUnionContentStore(data)
	history := NewUnionHistoryStore(hist)
	return NewGeneratingStore(content, history, data, hist, gen), data, hist
}

func TestGeneratingStoreGenerates(t *testing.T) {
	node := testNode("f", 0)
	text := []byte("made to order\n")
	var calls int
	gs, _, _ := newGeneratingFixture(t, GeneratorFunc(
		func(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
			calls++
			require.Equal(t, []Key{MakeKey("f", node)}, keys)
			if err := data.Add("f", node, Null, text); err != nil {
				return err
			}
			return history.Add("f", node, NodeInfo{Linknode: testNode("l", 0)})
		}))

	got, err := gs.Get("f", node)
	require.NoError(t, err)
	require.Equal(t, text, got)
	require.Equal(t, 1, calls)

	// Now present locally: no second generation.
	got, err = gs.Get("f", node)
	require.NoError(t, err)
	require.Equal(t, text, got)
	require.Equal(t, 1, calls)

	info, err := gs.GetNodeInfo("f", node)
	require.NoError(t, err)
	require.Equal(t, testNode("l", 0), info.Linknode)
	require.Equal(t, 1, calls)

	meta, err := gs.GetMeta("f", node)
	require.NoError(t, err)
	require.Equal(t, int64(len(text)), meta.Size)
}

func TestGeneratingStoreReentrancy(t *testing.T) {
	node := testNode("f", 0)
	var sawNotFound bool
	var gs *GeneratingStore
	gs, _, _ = newGeneratingFixture(t, GeneratorFunc(
		func(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
			// A generator that reads back through the store must not recurse
			// into another generation of the same key.
			_, err := gs.Get("f", node)
			sawNotFound = errors.Is(err, ErrNotFound)
			return data.Add("f", node, Null, []byte("ok"))
		}))

	got, err := gs.Get("f", node)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), got)
	require.True(t, sawNotFound)
}

func TestGeneratingStoreNestedKeys(t *testing.T) {
	// Generating one key may require generating another; only same-key
	// recursion is cut off.
	nodeA := testNode("a", 0)
	nodeB := testNode("b", 0)
	var gs *GeneratingStore
	gs, _, _ = newGeneratingFixture(t, GeneratorFunc(
		func(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
			for _, k := range keys {
				switch k.Name {
				case "a":
					// a is derived from b.
					text, err := gs.Get("b", nodeB)
					if err != nil {
						return err
					}
					if err := data.Add("a", nodeA, Null, append([]byte("a from "), text...)); err != nil {
						return err
					}
				case "b":
					if err := data.Add("b", nodeB, Null, []byte("b")); err != nil {
						return err
					}
				}
			}
			return nil
		}))

	got, err := gs.Get("a", nodeA)
	require.NoError(t, err)
	require.Equal(t, []byte("a from b"), got)
}

func TestGeneratingStoreFailedGeneration(t *testing.T) {
	node := testNode("f", 0)
	gs, _, _ := newGeneratingFixture(t, GeneratorFunc(
		func(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
			// Produce nothing.
			return nil
		}))

	// The retry still misses; the caller sees not-found, not an infinite
	// generate loop.
	_, err := gs.Get("f", node)
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = gs.GetNodeInfo("f", node)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestGeneratingStoreGeneratorError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	gs, _, _ := newGeneratingFixture(t, GeneratorFunc(
		func(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
			return boom
		}))
	_, err := gs.Get("f", testNode("f", 0))
	require.True(t, errors.Is(err, boom))
}

func TestGeneratingStoreReadOnly(t *testing.T) {
	gs, _, _ := newGeneratingFixture(t, GeneratorFunc(
		func([]Key, MutableContentStore, MutableHistoryStore) error { return nil }))
	err := gs.Add("f", testNode("f", 0), Null, []byte("x"))
	require.True(t, errors.Is(err, ErrReadOnly))
}

func TestGeneratingStoreGetMissing(t *testing.T) {
	gs, _, _ := newGeneratingFixture(t, GeneratorFunc(
		func([]Key, MutableContentStore, MutableHistoryStore) error { return nil }))
	// Nothing is definitively missing from a store that can generate.
	missing, err := gs.GetMissing([]Key{MakeKey("f", testNode("f", 0))})
	require.NoError(t, err)
	require.Empty(t, missing)
}
