// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"bytes"
	"encoding/binary"

	"github.com/revpack/revpack/internal/base"
)

// nameEntry is a decoded name-index entry. It locates one name's contiguous
// section within the data file and, for v1 packs, that name's node index.
type nameEntry struct {
	nameHash      base.Node
	sectionOffset uint64
	sectionSize   uint64
	// v1 only; offsets relative to the node-index block region.
	nodeIndexOffset uint32
	nodeIndexSize   uint32
}

// packIndex is a fully parsed, in-memory index file. Index files are small
// relative to their data files; holding them in memory keeps every lookup to
// at most one data-file read.
type packIndex struct {
	version     int
	largeFanout bool
	// fanout is the raw fanout table, one 4-byte slot per hash prefix.
	fanout []byte
	// names is the raw name-entry region, sorted by name hash.
	names     []byte
	entrySize int
	// nodeBlocks is the raw node-index block region (v1 only).
	nodeBlocks []byte
	nodeCount  uint64
}

func parseIndex(path string, contents []byte) (*packIndex, error) {
	if len(contents) < 2 {
		return nil, base.CorruptionError(path, "index truncated (%d bytes)", len(contents))
	}
	version := int(contents[0])
	if version != Version0 && version != Version1 {
		return nil, base.CorruptionError(path, "unsupported index version %d", version)
	}
	config := contents[1]
	idx := &packIndex{
		version:     version,
		largeFanout: config&configLargeFanout != 0,
		entrySize:   nameEntrySizeV0,
	}
	if version == Version1 {
		idx.entrySize = nameEntrySizeV1
	}
	fanoutSize := idx.fanoutSlots() * fanoutSlotSize
	rest := contents[2:]
	if len(rest) < fanoutSize {
		return nil, base.CorruptionError(path, "index truncated in fanout table")
	}
	idx.fanout, rest = rest[:fanoutSize], rest[fanoutSize:]

	if version == Version0 {
		if len(rest)%idx.entrySize != 0 {
			return nil, base.CorruptionError(path, "index name region is not a multiple of the entry size")
		}
		idx.names = rest
		return idx, nil
	}

	if len(rest) < 8 {
		return nil, base.CorruptionError(path, "index truncated before name entry count")
	}
	nameCount := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	nameBytes := int(nameCount) * idx.entrySize
	if len(rest) < nameBytes+8 {
		return nil, base.CorruptionError(path, "index truncated in name entries")
	}
	idx.names = rest[:nameBytes]
	rest = rest[nameBytes:]
	idx.nodeCount = binary.BigEndian.Uint64(rest[:8])
	idx.nodeBlocks = rest[8:]
	return idx, nil
}

func (idx *packIndex) fanoutSlots() int {
	if idx.largeFanout {
		return 1 << 16
	}
	return 1 << 8
}

// fanoutBucket returns the fanout slot index for a name hash.
func (idx *packIndex) fanoutBucket(nameHash base.Node) int {
	if idx.largeFanout {
		return int(binary.BigEndian.Uint16(nameHash[:2]))
	}
	return int(nameHash[0])
}

func (idx *packIndex) fanoutSlot(bucket int) uint32 {
	return binary.BigEndian.Uint32(idx.fanout[bucket*fanoutSlotSize:])
}

// bucketBounds returns the [start, end) byte offsets within the name-entry
// region covered by the given fanout bucket. ok is false when the bucket is
// empty.
func (idx *packIndex) bucketBounds(bucket int) (start, end int, ok bool) {
	s := idx.fanoutSlot(bucket)
	if s == fanoutEmpty {
		return 0, 0, false
	}
	for b := bucket + 1; b < idx.fanoutSlots(); b++ {
		if n := idx.fanoutSlot(b); n != fanoutEmpty {
			return int(s), int(n), true
		}
	}
	return int(s), len(idx.names), true
}

func (idx *packIndex) nameEntryAt(off int) nameEntry {
	e := idx.names[off : off+idx.entrySize]
	var ne nameEntry
	copy(ne.nameHash[:], e[:base.NodeSize])
	ne.sectionOffset = binary.BigEndian.Uint64(e[base.NodeSize:])
	ne.sectionSize = binary.BigEndian.Uint64(e[base.NodeSize+8:])
	if idx.version == Version1 {
		ne.nodeIndexOffset = binary.BigEndian.Uint32(e[base.NodeSize+16:])
		ne.nodeIndexSize = binary.BigEndian.Uint32(e[base.NodeSize+20:])
	}
	return ne
}

// findName locates the name entry for the given name hash via the fanout
// table and a bisection of the bucket's slice of the name-entry region.
func (idx *packIndex) findName(nameHash base.Node) (nameEntry, bool) {
	start, end, ok := idx.bucketBounds(idx.fanoutBucket(nameHash))
	if !ok {
		return nameEntry{}, false
	}
	lo, hi := start/idx.entrySize, end/idx.entrySize
	// Entries can sit exactly on a fanout boundary; check the bounds before
	// the midpoint loop so that lo and hi can stay exclusive below.
	if cmp := bytes.Compare(idx.names[lo*idx.entrySize:lo*idx.entrySize+base.NodeSize], nameHash[:]); cmp == 0 {
		return idx.nameEntryAt(lo * idx.entrySize), true
	} else if cmp > 0 {
		return nameEntry{}, false
	}
	if hi-lo > 1 {
		if cmp := bytes.Compare(idx.names[(hi-1)*idx.entrySize:(hi-1)*idx.entrySize+base.NodeSize], nameHash[:]); cmp == 0 {
			return idx.nameEntryAt((hi - 1) * idx.entrySize), true
		} else if cmp < 0 {
			return nameEntry{}, false
		}
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		off := mid * idx.entrySize
		switch cmp := bytes.Compare(idx.names[off:off+base.NodeSize], nameHash[:]); {
		case cmp == 0:
			return idx.nameEntryAt(off), true
		case cmp < 0:
			lo = mid
		default:
			hi = mid
		}
	}
	return nameEntry{}, false
}

// findNode bisects a v1 per-name node index for the exact node, returning
// the absolute data-file offset of its entry.
func (idx *packIndex) findNode(ne nameEntry, node base.Node) (offset uint64, ok bool) {
	if idx.version == Version0 {
		return 0, false
	}
	block := idx.nodeBlocks[ne.nodeIndexOffset : ne.nodeIndexOffset+ne.nodeIndexSize]
	nameLen := int(binary.BigEndian.Uint16(block[:2]))
	pairs := block[2+nameLen:]
	const pairSize = base.NodeSize + 8
	lo, hi := 0, len(pairs)/pairSize
	for lo < hi {
		mid := lo + (hi-lo)/2
		off := mid * pairSize
		switch cmp := bytes.Compare(pairs[off:off+base.NodeSize], node[:]); {
		case cmp == 0:
			return binary.BigEndian.Uint64(pairs[off+base.NodeSize:]), true
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// validate checks invariants that hold for any well-formed index: name
// entries sorted by hash, fanout slots consistent with the entries they
// point at, node blocks in bounds.
func (idx *packIndex) validate(path string) error {
	n := len(idx.names) / idx.entrySize
	var prev base.Node
	for i := 0; i < n; i++ {
		ne := idx.nameEntryAt(i * idx.entrySize)
		if i > 0 && bytes.Compare(prev[:], ne.nameHash[:]) >= 0 {
			return base.CorruptionError(path, "name entries out of order at %d", i)
		}
		prev = ne.nameHash
		if idx.version == Version1 {
			end := int64(ne.nodeIndexOffset) + int64(ne.nodeIndexSize)
			if end > int64(len(idx.nodeBlocks)) {
				return base.CorruptionError(path, "node index block out of bounds at %d", i)
			}
		}
	}
	for b, slots := 0, idx.fanoutSlots(); b < slots; b++ {
		s := idx.fanoutSlot(b)
		if s == fanoutEmpty {
			continue
		}
		if int(s) >= len(idx.names) || int(s)%idx.entrySize != 0 {
			return base.CorruptionError(path, "fanout slot %d points outside the name region", b)
		}
		if got := idx.fanoutBucket(base.Node(idx.names[s : s+base.NodeSize])); got != b {
			return base.CorruptionError(path, "fanout slot %d points at an entry of bucket %d", b, got)
		}
	}
	return nil
}
