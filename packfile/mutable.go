// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
)

// A mutable pack accumulates entries in memory, is queryable before flush,
// and on Flush writes an immutable pack pair. Builders are single-writer:
// concurrent Add calls must be serialized by the caller.

type dataEntry struct {
	node      base.Node
	deltaBase base.Node
	payload   []byte
}

type histEntry struct {
	node base.Node
	info base.NodeInfo
}

// MutableDataPack is the mutable builder for data packs.
type MutableDataPack struct {
	dir     string
	names   []string
	entries map[string][]dataEntry
	lookup  map[base.Key]int
	flushed bool
}

// NewMutableDataPack returns a builder that will flush into dir.
func NewMutableDataPack(dir string) *MutableDataPack {
	return &MutableDataPack{
		dir:     dir,
		entries: make(map[string][]dataEntry),
		lookup:  make(map[base.Key]int),
	}
}

// Add appends one revision. payload is the full text when deltaBase is
// Null, otherwise a patch against deltaBase.
func (p *MutableDataPack) Add(name string, node, deltaBase base.Node, payload []byte) error {
	if p.flushed {
		return errors.AssertionFailedf("revpack: add to a flushed pack")
	}
	if node.IsNull() {
		return errors.AssertionFailedf("revpack: add of null node under %q", name)
	}
	key := base.MakeKey(name, node)
	if _, ok := p.lookup[key]; ok {
		return errors.AssertionFailedf("revpack: duplicate add of %s", key)
	}
	if _, ok := p.entries[name]; !ok {
		p.names = append(p.names, name)
	}
	p.entries[name] = append(p.entries[name], dataEntry{node: node, deltaBase: deltaBase, payload: payload})
	p.lookup[key] = len(p.entries[name]) - 1
	return nil
}

// Len returns the number of entries added so far.
func (p *MutableDataPack) Len() int { return len(p.lookup) }

func (p *MutableDataPack) getEntry(name string, node base.Node) (dataEntry, bool) {
	i, ok := p.lookup[base.MakeKey(name, node)]
	if !ok {
		return dataEntry{}, false
	}
	return p.entries[name][i], true
}

// Get returns the full text for the key if its chain resolves within the
// builder.
func (p *MutableDataPack) Get(name string, node base.Node) ([]byte, error) {
	chain, err := p.GetDeltaChain(name, node)
	if err != nil {
		return nil, err
	}
	return Replay(chain)
}

// GetDeltaChain returns the (possibly partial) chain local to the builder.
func (p *MutableDataPack) GetDeltaChain(name string, node base.Node) ([]DeltaChainLink, error) {
	var chain []DeltaChainLink
	seen := make(map[base.Node]struct{})
	cur := node
	for {
		if _, ok := seen[cur]; ok {
			return nil, errors.AssertionFailedf(
				"revpack: delta base cycle under %q at %s", name, cur)
		}
		seen[cur] = struct{}{}
		e, ok := p.getEntry(name, cur)
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
			DeltaBaseNode: e.deltaBase,
			Delta:         e.payload,
		})
		if e.deltaBase.IsNull() {
			return chain, nil
		}
		cur = e.deltaBase
	}
}

// GetDelta returns the stored form of one entry.
func (p *MutableDataPack) GetDelta(name string, node base.Node) ([]byte, string, base.Node, error) {
	e, ok := p.getEntry(name, node)
	if !ok {
		return nil, "", base.Null, base.NotFoundError(base.MakeKey(name, node))
	}
	return e.payload, name, e.deltaBase, nil
}

// GetMeta returns size metadata for the key.
func (p *MutableDataPack) GetMeta(name string, node base.Node) (base.Meta, error) {
	text, err := p.Get(name, node)
	if err != nil {
		return base.Meta{}, err
	}
	return base.Meta{Size: int64(len(text))}, nil
}

// GetMissing returns the subset of keys not yet added.
func (p *MutableDataPack) GetMissing(keys []base.Key) ([]base.Key, error) {
	var missing []base.Key
	for _, k := range keys {
		if _, ok := p.lookup[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Flush writes the pack pair and returns its base path. Flushing an empty
// builder writes nothing and returns "". The builder cannot be written
// after a flush.
func (p *MutableDataPack) Flush() (string, error) {
	if p.flushed {
		return "", errors.AssertionFailedf("revpack: double flush")
	}
	p.flushed = true
	if len(p.lookup) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	buf.WriteByte(CurrentVersion)

	w := newIndexWriter(len(p.lookup))
	for _, name := range sortedByHash(p.names) {
		entries, err := topoOrderData(name, p.entries[name])
		if err != nil {
			return "", err
		}
		sectionOffset := uint64(buf.Len())
		hdr := make([]byte, sectionHeaderSize(name))
		putSectionHeader(hdr, name, len(entries))
		buf.Write(hdr)
		nodes := make([]nodeOffset, 0, len(entries))
		for _, e := range entries {
			entryOffset := uint64(buf.Len())
			buf.Write(e.node[:])
			buf.Write(e.deltaBase[:])
			var lenBuf [8]byte
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(e.payload)))
			buf.Write(lenBuf[:])
			buf.Write(e.payload)
			nodes = append(nodes, nodeOffset{node: e.node, offset: entryOffset})
		}
		w.addName(name, sectionOffset, uint64(buf.Len())-sectionOffset, nodes)
	}

	return writePackPair(p.dir, buf.Bytes(), w.finish(),
		base.DataPackSuffix, base.DataIndexSuffix)
}

// topoOrderData orders a name's entries so every in-pack deltabase precedes
// the entries that patch against it. A base cycle is an invariant violation.
func topoOrderData(name string, entries []dataEntry) ([]dataEntry, error) {
	index := make(map[base.Node]int, len(entries))
	for i, e := range entries {
		index[e.node] = i
	}
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(entries))
	ordered := make([]dataEntry, 0, len(entries))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return errors.AssertionFailedf(
				"revpack: delta base cycle under %q at %s", name, entries[i].node)
		}
		state[i] = visiting
		if j, ok := index[entries[i].deltaBase]; ok && !entries[i].deltaBase.IsNull() {
			if err := visit(j); err != nil {
				return err
			}
		}
		state[i] = done
		ordered = append(ordered, entries[i])
		return nil
	}
	for i := range entries {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// MutableHistoryPack is the mutable builder for history packs.
type MutableHistoryPack struct {
	dir     string
	names   []string
	entries map[string][]histEntry
	lookup  map[base.Key]int
	flushed bool
}

// NewMutableHistoryPack returns a builder that will flush into dir.
func NewMutableHistoryPack(dir string) *MutableHistoryPack {
	return &MutableHistoryPack{
		dir:     dir,
		entries: make(map[string][]histEntry),
		lookup:  make(map[base.Key]int),
	}
}

// Add appends one ancestry record.
func (p *MutableHistoryPack) Add(name string, node base.Node, info base.NodeInfo) error {
	if p.flushed {
		return errors.AssertionFailedf("revpack: add to a flushed pack")
	}
	if node.IsNull() {
		return errors.AssertionFailedf("revpack: add of null node under %q", name)
	}
	key := base.MakeKey(name, node)
	if _, ok := p.lookup[key]; ok {
		return errors.AssertionFailedf("revpack: duplicate add of %s", key)
	}
	if _, ok := p.entries[name]; !ok {
		p.names = append(p.names, name)
	}
	p.entries[name] = append(p.entries[name], histEntry{node: node, info: info})
	p.lookup[key] = len(p.entries[name]) - 1
	return nil
}

// Len returns the number of entries added so far.
func (p *MutableHistoryPack) Len() int { return len(p.lookup) }

// GetNodeInfo returns the ancestry record for the key.
func (p *MutableHistoryPack) GetNodeInfo(name string, node base.Node) (base.NodeInfo, error) {
	i, ok := p.lookup[base.MakeKey(name, node)]
	if !ok {
		return base.NodeInfo{}, base.NotFoundError(base.MakeKey(name, node))
	}
	return p.entries[name][i].info, nil
}

// GetAncestors traverses parent pointers within the builder.
func (p *MutableHistoryPack) GetAncestors(name string, node base.Node, known map[base.Node]struct{}) (AncestorMap, error) {
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
		i, ok := p.lookup[base.MakeKey(cur.name, cur.node)]
		if !ok {
			if cur.node == node && cur.name == name {
				return nil, base.NotFoundError(base.MakeKey(name, node))
			}
			continue
		}
		info := p.entries[cur.name][i].info
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

// GetMissing returns the subset of keys not yet added.
func (p *MutableHistoryPack) GetMissing(keys []base.Key) ([]base.Key, error) {
	var missing []base.Key
	for _, k := range keys {
		if _, ok := p.lookup[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Flush writes the pack pair and returns its base path. Flushing an empty
// builder writes nothing and returns "".
func (p *MutableHistoryPack) Flush() (string, error) {
	if p.flushed {
		return "", errors.AssertionFailedf("revpack: double flush")
	}
	p.flushed = true
	if len(p.lookup) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	buf.WriteByte(CurrentVersion)

	w := newIndexWriter(len(p.lookup))
	for _, name := range sortedByHash(p.names) {
		entries := topoOrderHist(p.entries[name])
		sectionOffset := uint64(buf.Len())
		hdr := make([]byte, sectionHeaderSize(name))
		putSectionHeader(hdr, name, len(entries))
		buf.Write(hdr)
		nodes := make([]nodeOffset, 0, len(entries))
		for _, e := range entries {
			entryOffset := uint64(buf.Len())
			buf.Write(e.node[:])
			buf.Write(e.info.P1[:])
			buf.Write(e.info.P2[:])
			buf.Write(e.info.Linknode[:])
			var lenBuf [2]byte
			binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.info.CopyFrom)))
			buf.Write(lenBuf[:])
			buf.WriteString(e.info.CopyFrom)
			nodes = append(nodes, nodeOffset{node: e.node, offset: entryOffset})
		}
		w.addName(name, sectionOffset, uint64(buf.Len())-sectionOffset, nodes)
	}

	return writePackPair(p.dir, buf.Bytes(), w.finish(),
		base.HistoryPackSuffix, base.HistoryIndexSuffix)
}

// topoOrderHist orders a name's records children before parents (newest
// first), matching how readers walk a section.
func topoOrderHist(entries []histEntry) []histEntry {
	index := make(map[base.Node]int, len(entries))
	for i, e := range entries {
		index[e.node] = i
	}
	emitted := make(map[base.Node]bool, len(entries))
	ordered := make([]histEntry, 0, len(entries))
	var emit func(i int)
	emit = func(i int) {
		e := entries[i]
		if emitted[e.node] {
			return
		}
		emitted[e.node] = true
		ordered = append(ordered, e)
		for _, parent := range []base.Node{e.info.P1, e.info.P2} {
			if parent.IsNull() {
				continue
			}
			if j, ok := index[parent]; ok {
				emit(j)
			}
		}
	}
	for i := range entries {
		emit(i)
	}
	return ordered
}

// sortedByHash returns names ordered by their index hash, the order both
// the index and the data sections are written in.
func sortedByHash(names []string) []string {
	out := append([]string(nil), names...)
	sort.Slice(out, func(i, j int) bool {
		hi, hj := HashName(out[i]), HashName(out[j])
		return bytes.Compare(hi[:], hj[:]) < 0
	})
	return out
}

// nodeOffset pairs a node with its absolute entry offset in the data file.
type nodeOffset struct {
	node   base.Node
	offset uint64
}

// indexWriter accumulates per-name index state during a flush and encodes
// the index file.
type indexWriter struct {
	largeFanout bool
	nameEntries []nameEntry
	blocks      bytes.Buffer
	blockMeta   []struct{ off, size uint32 }
	names       []string
	nodeCount   uint64
}

func newIndexWriter(totalEntries int) *indexWriter {
	return &indexWriter{largeFanout: totalEntries > smallFanoutCutoff}
}

func (w *indexWriter) addName(name string, sectionOffset, sectionSize uint64, nodes []nodeOffset) {
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i].node[:], nodes[j].node[:]) < 0
	})
	blockOff := uint32(w.blocks.Len())
	var nameLen [2]byte
	binary.BigEndian.PutUint16(nameLen[:], uint16(len(name)))
	w.blocks.Write(nameLen[:])
	w.blocks.WriteString(name)
	for _, n := range nodes {
		w.blocks.Write(n.node[:])
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], n.offset)
		w.blocks.Write(off[:])
	}
	w.nameEntries = append(w.nameEntries, nameEntry{
		nameHash:        HashName(name),
		sectionOffset:   sectionOffset,
		sectionSize:     sectionSize,
		nodeIndexOffset: blockOff,
		nodeIndexSize:   uint32(w.blocks.Len()) - blockOff,
	})
	w.names = append(w.names, name)
	w.nodeCount += uint64(len(nodes))
}

// finish encodes the index file contents. Name entries arrive already in
// hash order because flush iterates names sorted by hash.
func (w *indexWriter) finish() []byte {
	slots := 1 << 8
	config := byte(0)
	if w.largeFanout {
		slots = 1 << 16
		config = configLargeFanout
	}
	fanout := make([]byte, slots*fanoutSlotSize)
	for i := range fanout {
		fanout[i] = 0xFF
	}
	for i, ne := range w.nameEntries {
		bucket := int(ne.nameHash[0])
		if w.largeFanout {
			bucket = int(binary.BigEndian.Uint16(ne.nameHash[:2]))
		}
		slot := fanout[bucket*fanoutSlotSize : (bucket+1)*fanoutSlotSize]
		if binary.BigEndian.Uint32(slot) == fanoutEmpty {
			binary.BigEndian.PutUint32(slot, uint32(i*nameEntrySizeV1))
		}
	}

	var out bytes.Buffer
	out.WriteByte(CurrentVersion)
	out.WriteByte(config)
	out.Write(fanout)
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(w.nameEntries)))
	out.Write(count[:])
	for _, ne := range w.nameEntries {
		out.Write(ne.nameHash[:])
		var fixed [24]byte
		binary.BigEndian.PutUint64(fixed[0:8], ne.sectionOffset)
		binary.BigEndian.PutUint64(fixed[8:16], ne.sectionSize)
		binary.BigEndian.PutUint32(fixed[16:20], ne.nodeIndexOffset)
		binary.BigEndian.PutUint32(fixed[20:24], ne.nodeIndexSize)
		out.Write(fixed[:])
	}
	binary.BigEndian.PutUint64(count[:], w.nodeCount)
	out.Write(count[:])
	out.Write(w.blocks.Bytes())
	return out.Bytes()
}

// writePackPair writes the data and index files under temporary names,
// syncs them, and renames them into place. The data file is renamed last:
// its presence is what makes the pack visible, so a reader never observes a
// pack without its index.
func writePackPair(dir string, data, index []byte, dataSuffix, indexSuffix string) (string, error) {
	id := base.NewPackID()
	path := filepath.Join(dir, id)
	if err := writeFileSynced(path+indexSuffix, index); err != nil {
		return "", err
	}
	if err := writeFileSynced(path+dataSuffix, data); err != nil {
		_ = os.Remove(path + indexSuffix)
		return "", err
	}
	if err := syncDir(dir); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileSynced(path string, contents []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := f.Write(contents); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	defer d.Close()
	return d.Sync()
}
