// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
)

// A delta payload is a patch script: a sequence of fragments, each replacing
// the base-text byte range [start, end) with the fragment's insert bytes.
//
//	<4-byte BE start><4-byte BE end><4-byte BE insert length><insert bytes>
//
// Fragments are ordered by start offset and do not overlap. An entry whose
// deltabase is Null stores its full text as the payload, not a patch.

const fragmentHeaderSize = 12

// DeltaChainLink is one element of a delta chain. Delta holds the patch
// bytes, or the full text when DeltaBaseNode is Null.
type DeltaChainLink struct {
	Name          string
	Node          base.Node
	DeltaBaseName string
	DeltaBaseNode base.Node
	Delta         []byte
}

// FullText reports whether the link carries a full text rather than a patch.
func (l DeltaChainLink) FullText() bool { return l.DeltaBaseNode.IsNull() }

// ApplyDelta applies a patch script to the base text and returns the patched
// text.
func ApplyDelta(text, delta []byte) ([]byte, error) {
	var out []byte
	pos := 0
	for len(delta) > 0 {
		if len(delta) < fragmentHeaderSize {
			return nil, errors.Newf("revpack: truncated delta fragment header (%d bytes)", len(delta))
		}
		start := int(binary.BigEndian.Uint32(delta[0:4]))
		end := int(binary.BigEndian.Uint32(delta[4:8]))
		insertLen := int(binary.BigEndian.Uint32(delta[8:12]))
		delta = delta[fragmentHeaderSize:]
		if len(delta) < insertLen {
			return nil, errors.Newf("revpack: truncated delta fragment body (%d < %d)", len(delta), insertLen)
		}
		if start > end || start < pos || end > len(text) {
			return nil, errors.Newf("revpack: invalid delta fragment [%d, %d) over %d-byte base", start, end, len(text))
		}
		out = append(out, text[pos:start]...)
		out = append(out, delta[:insertLen]...)
		delta = delta[insertLen:]
		pos = end
	}
	out = append(out, text[pos:]...)
	return out, nil
}

// MakeFullReplacementDelta encodes target as a single fragment replacing the
// whole base text. It is the fallback when no real differ is configured:
// byte-for-byte it is a valid patch, it just saves no space.
func MakeFullReplacementDelta(baseLen int, target []byte) []byte {
	out := make([]byte, fragmentHeaderSize+len(target))
	binary.BigEndian.PutUint32(out[0:4], 0)
	binary.BigEndian.PutUint32(out[4:8], uint32(baseLen))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(target)))
	copy(out[fragmentHeaderSize:], target)
	return out
}

// Replay reconstructs the full text of the chain's head (chain[0]) by
// starting from the terminal full text and applying each patch in reverse
// chain order. Replay is pure: it reads the chain and nothing else.
//
// The chain's last link must be a full text; if every store consulted could
// supply only patches, the head key cannot be materialized and Replay
// reports the head as not found.
func Replay(chain []DeltaChainLink) ([]byte, error) {
	if len(chain) == 0 {
		return nil, errors.AssertionFailedf("revpack: replay of empty delta chain")
	}
	last := chain[len(chain)-1]
	if !last.FullText() {
		return nil, base.NotFoundError(base.MakeKey(last.DeltaBaseName, last.DeltaBaseNode))
	}
	text := last.Delta
	for i := len(chain) - 2; i >= 0; i-- {
		var err error
		text, err = ApplyDelta(text, chain[i].Delta)
		if err != nil {
			return nil, errors.Wrapf(err, "replaying chain for %s", base.MakeKey(chain[i].Name, chain[i].Node))
		}
	}
	return text, nil
}
