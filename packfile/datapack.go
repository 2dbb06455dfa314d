// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"encoding/binary"

	"github.com/revpack/revpack/internal/base"
)

// DataPack reads an immutable data pack: full or delta-compressed revision
// texts, one contiguous section per name.
type DataPack struct {
	basePack
}

// OpenDataPack opens the pack with the given base path. It fails with a
// corruption error when the header or index cannot be trusted; callers
// should quarantine the pack rather than retry.
func OpenDataPack(path string) (*DataPack, error) {
	bp, err := openPack(path, path+base.DataPackSuffix, path+base.DataIndexSuffix)
	if err != nil {
		return nil, err
	}
	return &DataPack{basePack: *bp}, nil
}

// getEntry locates one entry's deltabase and payload.
func (p *DataPack) getEntry(name string, node base.Node) (deltaBase base.Node, payload []byte, ok bool, err error) {
	ne, found := p.findName(name)
	if !found {
		return base.Null, nil, false, nil
	}
	if p.version >= Version1 {
		offset, found := p.index.findNode(ne, node)
		if !found {
			return base.Null, nil, false, nil
		}
		hdr, err := p.readAt(offset, dataEntryFixedSize)
		if err != nil {
			return base.Null, nil, false, err
		}
		if base.Node(hdr[:base.NodeSize]) != node {
			return base.Null, nil, false, base.CorruptionError(p.dataPath,
				"node index for %q points at the wrong entry", name)
		}
		copy(deltaBase[:], hdr[base.NodeSize:2*base.NodeSize])
		deltaLen := binary.BigEndian.Uint64(hdr[2*base.NodeSize:])
		payload, err = p.readAt(offset+dataEntryFixedSize, int(deltaLen))
		if err != nil {
			return base.Null, nil, false, err
		}
		return deltaBase, payload, true, nil
	}

	// Version 0 has no node index; walk the name's section.
	entries, count, err := p.section(ne, name)
	if err != nil {
		return base.Null, nil, false, err
	}
	for i := 0; i < count; i++ {
		if len(entries) < dataEntryFixedSize {
			return base.Null, nil, false, base.CorruptionError(p.dataPath,
				"truncated entry in section for %q", name)
		}
		deltaLen := binary.BigEndian.Uint64(entries[2*base.NodeSize:dataEntryFixedSize])
		total := dataEntryFixedSize + int(deltaLen)
		if len(entries) < total {
			return base.Null, nil, false, base.CorruptionError(p.dataPath,
				"truncated payload in section for %q", name)
		}
		if base.Node(entries[:base.NodeSize]) == node {
			copy(deltaBase[:], entries[base.NodeSize:2*base.NodeSize])
			return deltaBase, entries[dataEntryFixedSize:total], true, nil
		}
		entries = entries[total:]
	}
	return base.Null, nil, false, nil
}

// Get returns the full text for the key, replaying the delta chain local to
// this pack. If the chain leaves the pack, the dangling base is reported as
// not found; resolving it across stores is the union store's job.
func (p *DataPack) Get(name string, node base.Node) ([]byte, error) {
	chain, err := p.GetDeltaChain(name, node)
	if err != nil {
		return nil, err
	}
	return Replay(chain)
}

// GetDeltaChain returns the chain starting at (name, node), following
// deltabase pointers for as long as the bases live in this pack. The
// returned chain is partial when its last link is still a delta.
func (p *DataPack) GetDeltaChain(name string, node base.Node) ([]DeltaChainLink, error) {
	var chain []DeltaChainLink
	seen := make(map[base.Node]struct{})
	cur := node
	for {
		if _, ok := seen[cur]; ok {
			return nil, base.CorruptionError(p.dataPath,
				"delta base cycle under %q at %s", name, cur)
		}
		seen[cur] = struct{}{}
		deltaBase, payload, ok, err := p.getEntry(name, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			if len(chain) == 0 {
				return nil, base.NotFoundError(base.MakeKey(name, node))
			}
			return chain, nil
		}
		chain = append(chain, DeltaChainLink{
			Name:          name,
			Node:          cur,
			DeltaBaseName: name,
			DeltaBaseNode: deltaBase,
			Delta:         payload,
		})
		if deltaBase.IsNull() {
			return chain, nil
		}
		cur = deltaBase
	}
}

// GetDelta returns the stored form of one entry: its payload and the base it
// patches. A full text comes back with a Null base.
func (p *DataPack) GetDelta(name string, node base.Node) ([]byte, string, base.Node, error) {
	deltaBase, payload, ok, err := p.getEntry(name, node)
	if err != nil {
		return nil, "", base.Null, err
	}
	if !ok {
		return nil, "", base.Null, base.NotFoundError(base.MakeKey(name, node))
	}
	return payload, name, deltaBase, nil
}

// GetMeta returns size metadata for the key. The size is that of the full
// text, so the chain must be resolvable within this pack.
func (p *DataPack) GetMeta(name string, node base.Node) (base.Meta, error) {
	text, err := p.Get(name, node)
	if err != nil {
		return base.Meta{}, err
	}
	return base.Meta{Size: int64(len(text))}, nil
}

// GetMissing returns the subset of keys this pack does not hold.
func (p *DataPack) GetMissing(keys []base.Key) ([]base.Key, error) {
	var missing []base.Key
	for _, k := range keys {
		_, _, ok, err := p.getEntry(k.Name, k.Node)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Keys returns every (name, node) in the pack, grouped by name in section
// order. Used by repack scans and verification.
func (p *DataPack) Keys() ([]base.Key, error) {
	var keys []base.Key
	err := p.walkSections(func(name string, node, deltaBase base.Node, payload []byte) error {
		keys = append(keys, base.MakeKey(name, node))
		return nil
	})
	return keys, err
}

// walkSections visits every entry in the data file in on-disk order.
func (p *DataPack) walkSections(fn func(name string, node, deltaBase base.Node, payload []byte) error) error {
	n := len(p.index.names) / p.index.entrySize
	for i := 0; i < n; i++ {
		ne := p.index.nameEntryAt(i * p.index.entrySize)
		raw, err := p.readAt(ne.sectionOffset, int(ne.sectionSize))
		if err != nil {
			return err
		}
		if len(raw) < 2 {
			return base.CorruptionError(p.dataPath, "truncated section header")
		}
		nameLen := int(binary.BigEndian.Uint16(raw[:2]))
		if len(raw) < 2+nameLen+4 {
			return base.CorruptionError(p.dataPath, "truncated section header")
		}
		name := string(raw[2 : 2+nameLen])
		count := int(binary.BigEndian.Uint32(raw[2+nameLen : 2+nameLen+4]))
		entries := raw[2+nameLen+4:]
		for j := 0; j < count; j++ {
			if len(entries) < dataEntryFixedSize {
				return base.CorruptionError(p.dataPath, "truncated entry in section for %q", name)
			}
			var node, deltaBase base.Node
			copy(node[:], entries[:base.NodeSize])
			copy(deltaBase[:], entries[base.NodeSize:2*base.NodeSize])
			deltaLen := binary.BigEndian.Uint64(entries[2*base.NodeSize:dataEntryFixedSize])
			total := dataEntryFixedSize + int(deltaLen)
			if len(entries) < total {
				return base.CorruptionError(p.dataPath, "truncated payload in section for %q", name)
			}
			if err := fn(name, node, deltaBase, entries[dataEntryFixedSize:total]); err != nil {
				return err
			}
			entries = entries[total:]
		}
	}
	return nil
}

// Verify walks the whole pack, checking index consistency and that every
// chain either terminates in a full text or points outside the pack.
func (p *DataPack) Verify() error {
	if err := p.verifyIndex(); err != nil {
		return err
	}
	return p.walkSections(func(name string, node, deltaBase base.Node, payload []byte) error {
		if node.IsNull() {
			return base.CorruptionError(p.dataPath, "null node stored under %q", name)
		}
		return nil
	})
}
