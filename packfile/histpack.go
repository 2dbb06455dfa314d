// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
)

var errTruncatedEntry = errors.New("truncated history entry")

// AncestorMap maps a node to its ancestry metadata. Nodes are globally
// content-addressed, so one map can span multiple names (copy provenance
// crosses name boundaries).
type AncestorMap map[base.Node]base.NodeInfo

// HistoryPack reads an immutable history pack: per-revision ancestry
// metadata (parents, linknode, copy source).
type HistoryPack struct {
	basePack
}

// OpenHistoryPack opens the history pack with the given base path.
func OpenHistoryPack(path string) (*HistoryPack, error) {
	bp, err := openPack(path, path+base.HistoryPackSuffix, path+base.HistoryIndexSuffix)
	if err != nil {
		return nil, err
	}
	return &HistoryPack{basePack: *bp}, nil
}

func decodeHistEntry(buf []byte) (node base.Node, info base.NodeInfo, size int, err error) {
	if len(buf) < histEntryFixedSize {
		return node, info, 0, errTruncatedEntry
	}
	copy(node[:], buf[:base.NodeSize])
	copy(info.P1[:], buf[base.NodeSize:2*base.NodeSize])
	copy(info.P2[:], buf[2*base.NodeSize:3*base.NodeSize])
	copy(info.Linknode[:], buf[3*base.NodeSize:4*base.NodeSize])
	copyFromLen := int(binary.BigEndian.Uint16(buf[4*base.NodeSize : histEntryFixedSize]))
	if len(buf) < histEntryFixedSize+copyFromLen {
		return node, info, 0, errTruncatedEntry
	}
	info.CopyFrom = string(buf[histEntryFixedSize : histEntryFixedSize+copyFromLen])
	return node, info, histEntryFixedSize + copyFromLen, nil
}

// getEntry locates the ancestry record for (name, node).
func (p *HistoryPack) getEntry(name string, node base.Node) (base.NodeInfo, bool, error) {
	ne, found := p.findName(name)
	if !found {
		return base.NodeInfo{}, false, nil
	}
	if p.version >= Version1 {
		offset, found := p.index.findNode(ne, node)
		if !found {
			return base.NodeInfo{}, false, nil
		}
		// Entries have a bounded size except for copyfrom, which cannot
		// exceed the 2-byte length field.
		maxLen := histEntryFixedSize + 0xFFFF
		if rem := p.dataSize - int64(offset); rem < int64(maxLen) {
			maxLen = int(rem)
		}
		buf, err := p.readAt(offset, maxLen)
		if err != nil {
			return base.NodeInfo{}, false, err
		}
		got, info, _, err := decodeHistEntry(buf)
		if err != nil {
			return base.NodeInfo{}, false, base.CorruptionError(p.dataPath, "truncated history entry for %q", name)
		}
		if got != node {
			return base.NodeInfo{}, false, base.CorruptionError(p.dataPath,
				"node index for %q points at the wrong entry", name)
		}
		return info, true, nil
	}

	// Version 0: walk the name's section chain linearly.
	entries, count, err := p.section(ne, name)
	if err != nil {
		return base.NodeInfo{}, false, err
	}
	for i := 0; i < count; i++ {
		got, info, size, err := decodeHistEntry(entries)
		if err != nil {
			return base.NodeInfo{}, false, base.CorruptionError(p.dataPath, "truncated history entry for %q", name)
		}
		if got == node {
			return info, true, nil
		}
		entries = entries[size:]
	}
	return base.NodeInfo{}, false, nil
}

// GetNodeInfo returns the ancestry record for the key.
func (p *HistoryPack) GetNodeInfo(name string, node base.Node) (base.NodeInfo, error) {
	info, ok, err := p.getEntry(name, node)
	if err != nil {
		return base.NodeInfo{}, err
	}
	if !ok {
		return base.NodeInfo{}, base.NotFoundError(base.MakeKey(name, node))
	}
	return info, nil
}

// GetAncestors traverses parent pointers from (name, node), collecting every
// ancestor record this pack holds and stopping at nodes already in known.
// The seed key must be present; ancestors that live in other packs are
// simply absent from the returned map.
func (p *HistoryPack) GetAncestors(name string, node base.Node, known map[base.Node]struct{}) (AncestorMap, error) {
	type item struct {
		name string
		node base.Node
	}
	ancestors := make(AncestorMap)
	stack := []item{{name, node}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := ancestors[cur.node]; ok {
			continue
		}
		if known != nil {
			if _, ok := known[cur.node]; ok {
				continue
			}
		}
		info, ok, err := p.getEntry(cur.name, cur.node)
		if err != nil {
			return nil, err
		}
		if !ok {
			if cur.node == node && cur.name == name {
				return nil, base.NotFoundError(base.MakeKey(name, node))
			}
			continue
		}
		ancestors[cur.node] = info
		p1Name := cur.name
		if info.CopyFrom != "" {
			p1Name = info.CopyFrom
		}
		if !info.P1.IsNull() {
			stack = append(stack, item{p1Name, info.P1})
		}
		if !info.P2.IsNull() {
			stack = append(stack, item{cur.name, info.P2})
		}
	}
	return ancestors, nil
}

// GetMissing returns the subset of keys this pack does not hold.
func (p *HistoryPack) GetMissing(keys []base.Key) ([]base.Key, error) {
	var missing []base.Key
	for _, k := range keys {
		_, ok, err := p.getEntry(k.Name, k.Node)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Keys returns every (name, node) in the pack in on-disk order.
func (p *HistoryPack) Keys() ([]base.Key, error) {
	var keys []base.Key
	err := p.walkSections(func(name string, node base.Node, info base.NodeInfo) error {
		keys = append(keys, base.MakeKey(name, node))
		return nil
	})
	return keys, err
}

// walkSections visits every history entry in on-disk order.
func (p *HistoryPack) walkSections(fn func(name string, node base.Node, info base.NodeInfo) error) error {
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
			node, info, size, err := decodeHistEntry(entries)
			if err != nil {
				return base.CorruptionError(p.dataPath, "truncated history entry for %q", name)
			}
			if err := fn(name, node, info); err != nil {
				return err
			}
			entries = entries[size:]
		}
	}
	return nil
}

// Verify walks the whole pack, checking index consistency and entry
// decodability.
func (p *HistoryPack) Verify() error {
	if err := p.verifyIndex(); err != nil {
		return err
	}
	return p.walkSections(func(name string, node base.Node, info base.NodeInfo) error {
		if node.IsNull() {
			return base.CorruptionError(p.dataPath, "null node stored under %q", name)
		}
		return nil
	})
}
