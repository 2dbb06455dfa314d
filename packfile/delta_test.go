// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
	"github.com/stretchr/testify/require"
)

func fragment(start, end int, insert string) []byte {
	out := make([]byte, fragmentHeaderSize+len(insert))
	binary.BigEndian.PutUint32(out[0:4], uint32(start))
	binary.BigEndian.PutUint32(out[4:8], uint32(end))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(insert)))
	copy(out[fragmentHeaderSize:], insert)
	return out
}

func testNode(parts ...interface{}) base.Node {
	return base.Node(sha1.Sum([]byte(fmt.Sprint(parts...))))
}

func TestApplyDelta(t *testing.T) {
	base := []byte("the quick brown fox")

	testCases := []struct {
		name     string
		delta    []byte
		expected string
	}{
		{"replace middle", fragment(4, 9, "slow"), "the slow brown fox"},
		{"insert at start", fragment(0, 0, "lo! "), "lo! the quick brown fox"},
		{"delete range", fragment(3, 9, ""), "the brown fox"},
		{"append at end", fragment(19, 19, " jumps"), "the quick brown fox jumps"},
		{"replace all", fragment(0, 19, "gone"), "gone"},
		{
			"two fragments",
			append(fragment(0, 3, "a"), fragment(10, 15, "red")...),
			"a quick red fox",
		},
		{"empty patch", nil, "the quick brown fox"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyDelta(base, tc.delta)
			require.NoError(t, err)
			require.Equal(t, tc.expected, string(got))
		})
	}
}

func TestApplyDeltaErrors(t *testing.T) {
	base := []byte("0123456789")

	testCases := []struct {
		name  string
		delta []byte
	}{
		{"truncated header", fragment(0, 1, "x")[:8]},
		{"truncated body", fragment(0, 1, "xyz")[:fragmentHeaderSize+1]},
		{"end beyond base", fragment(5, 11, "x")},
		{"start after end", fragment(7, 3, "x")},
		{"overlapping fragments", append(fragment(2, 8, "x"), fragment(4, 9, "y")...)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ApplyDelta(base, tc.delta)
			require.Error(t, err)
		})
	}
}

func TestMakeFullReplacementDelta(t *testing.T) {
	base := []byte("old contents")
	target := []byte("entirely new contents")
	got, err := ApplyDelta(base, MakeFullReplacementDelta(len(base), target))
	require.NoError(t, err)
	require.Equal(t, target, got)

	// A full replacement over an empty base is an insertion.
	got, err = ApplyDelta(nil, MakeFullReplacementDelta(0, target))
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestReplay(t *testing.T) {
	t.Run("single full text", func(t *testing.T) {
		text := []byte("just me")
		got, err := Replay([]DeltaChainLink{{
			Name: "f", Node: testNode("f", 0), DeltaBaseNode: base.Null, Delta: text,
		}})
		require.NoError(t, err)
		require.Equal(t, text, got)
	})

	t.Run("chain of five", func(t *testing.T) {
		const n = 5
		texts := make([][]byte, n)
		for i := range texts {
			texts[i] = bytes.Repeat([]byte{byte('a' + i)}, i+3)
		}
		// chain[0] is the head (newest revision); the last link is the full
		// text every other link patches up from.
		chain := make([]DeltaChainLink, n)
		for i := 0; i < n; i++ {
			link := DeltaChainLink{Name: "f", Node: testNode("f", i)}
			if i == n-1 {
				link.Delta = texts[i]
			} else {
				link.DeltaBaseNode = testNode("f", i+1)
				link.Delta = MakeFullReplacementDelta(len(texts[i+1]), texts[i])
			}
			chain[i] = link
		}
		got, err := Replay(chain)
		require.NoError(t, err)
		require.Equal(t, texts[0], got)
	})

	t.Run("dangling base", func(t *testing.T) {
		missing := testNode("elsewhere")
		_, err := Replay([]DeltaChainLink{{
			Name:          "f",
			Node:          testNode("f", 1),
			DeltaBaseName: "f",
			DeltaBaseNode: missing,
			Delta:         MakeFullReplacementDelta(0, []byte("x")),
		}})
		require.Error(t, err)
		require.True(t, errors.Is(err, base.ErrNotFound))
		// The error names the dangling base, not the head.
		require.Contains(t, err.Error(), missing.String())
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := Replay(nil)
		require.Error(t, err)
	})

	t.Run("long chain", func(t *testing.T) {
		const n = 1000
		chain := make([]DeltaChainLink, n)
		prev := []byte("rev-999")
		chain[n-1] = DeltaChainLink{Name: "f", Node: testNode("f", n-1), Delta: prev}
		for i := n - 2; i >= 0; i-- {
			text := []byte(fmt.Sprintf("rev-%d", i))
			chain[i] = DeltaChainLink{
				Name:          "f",
				Node:          testNode("f", i),
				DeltaBaseName: "f",
				DeltaBaseNode: testNode("f", i+1),
				Delta:         MakeFullReplacementDelta(len(prev), text),
			}
			prev = text
		}
		got, err := Replay(chain)
		require.NoError(t, err)
		require.Equal(t, []byte("rev-0"), got)
	})
}
