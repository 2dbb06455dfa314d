// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
)

// PackDir is the on-disk census of a pack directory: it scans for pack pairs,
// keeps readers open for each, and presents them as a single content store
// and history store. Packs that fail to open are quarantined (reported once,
// then ignored) rather than failing the whole directory.
//
// A PackDir only ever reflects a completed scan; MarkForRefresh schedules a
// rescan so packs written by other processes become visible.
type PackDir struct {
	dirname string
	opts    *Options

	mu struct {
		sync.RWMutex
		dataPacks map[string]*packfile.DataPack
		histPacks map[string]*packfile.HistoryPack
		// corrupt holds pack IDs that failed to open. They are skipped on
		// subsequent scans so a bad pack is reported once, not once per
		// refresh.
		corrupt map[string]struct{}
	}
}

// OpenPackDir opens (creating if necessary) the pack directory and performs
// an initial scan.
func OpenPackDir(dirname string, opts *Options) (*PackDir, error) {
	opts = opts.EnsureDefaults()
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}
	d := &PackDir{dirname: dirname, opts: opts}
	d.mu.dataPacks = make(map[string]*packfile.DataPack)
	d.mu.histPacks = make(map[string]*packfile.HistoryPack)
	d.mu.corrupt = make(map[string]struct{})
	if err := d.refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dirname returns the directory this PackDir scans.
func (d *PackDir) Dirname() string { return d.dirname }

// refresh rescans the directory, opening packs that appeared and closing
// readers for packs that were removed. A pack is considered present when its
// data file exists; the index is renamed into place first, so a visible data
// file implies a complete pair.
func (d *PackDir) refresh() error {
	entries, err := os.ReadDir(d.dirname)
	if err != nil {
		return err
	}
	dataIDs := make(map[string]struct{})
	histIDs := make(map[string]struct{})
	for _, e := range entries {
		ft, id, ok := base.ParseFilename(e.Name())
		if !ok {
			continue
		}
		switch ft {
		case base.FileTypeDataPack:
			dataIDs[id] = struct{}{}
		case base.FileTypeHistoryPack:
			histIDs[id] = struct{}{}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range dataIDs {
		if _, ok := d.mu.dataPacks[id]; ok {
			continue
		}
		if _, ok := d.mu.corrupt[id]; ok {
			continue
		}
		pack, err := packfile.OpenDataPack(filepath.Join(d.dirname, id))
		if err != nil {
			d.quarantineLocked(id, base.MakeFilepath(d.dirname, base.FileTypeDataPack, id), err)
			continue
		}
		d.mu.dataPacks[id] = pack
	}
	for id := range histIDs {
		if _, ok := d.mu.histPacks[id]; ok {
			continue
		}
		if _, ok := d.mu.corrupt[id]; ok {
			continue
		}
		pack, err := packfile.OpenHistoryPack(filepath.Join(d.dirname, id))
		if err != nil {
			d.quarantineLocked(id, base.MakeFilepath(d.dirname, base.FileTypeHistoryPack, id), err)
			continue
		}
		d.mu.histPacks[id] = pack
	}
	for id, pack := range d.mu.dataPacks {
		if _, ok := dataIDs[id]; !ok {
			_ = pack.Close()
			delete(d.mu.dataPacks, id)
		}
	}
	for id, pack := range d.mu.histPacks {
		if _, ok := histIDs[id]; !ok {
			_ = pack.Close()
			delete(d.mu.histPacks, id)
		}
	}
	return nil
}

func (d *PackDir) quarantineLocked(id, path string, err error) {
	d.mu.corrupt[id] = struct{}{}
	d.opts.EventListener.PackCorruption(base.PackCorruptionInfo{Path: path, Err: err})
}

// MarkForRefresh rescans the directory so externally written packs become
// visible.
func (d *PackDir) MarkForRefresh() error {
	return d.refresh()
}

// Close releases every open pack reader.
func (d *PackDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for id, pack := range d.mu.dataPacks {
		if err := pack.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.mu.dataPacks, id)
	}
	for id, pack := range d.mu.histPacks {
		if err := pack.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.mu.histPacks, id)
	}
	return firstErr
}

// DataPacks returns the open data pack readers, sorted by pack ID for
// deterministic iteration.
func (d *PackDir) DataPacks() []*packfile.DataPack {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.mu.dataPacks))
	for id := range d.mu.dataPacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	packs := make([]*packfile.DataPack, len(ids))
	for i, id := range ids {
		packs[i] = d.mu.dataPacks[id]
	}
	return packs
}

// HistoryPacks returns the open history pack readers, sorted by pack ID.
func (d *PackDir) HistoryPacks() []*packfile.HistoryPack {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.mu.histPacks))
	for id := range d.mu.histPacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	packs := make([]*packfile.HistoryPack, len(ids))
	for i, id := range ids {
		packs[i] = d.mu.histPacks[id]
	}
	return packs
}

// contentUnion builds a union over the current data packs.
func (d *PackDir) contentUnion() *UnionContentStore {
	packs := d.DataPacks()
	stores := make([]ContentStore, len(packs))
	for i, p := range packs {
		stores[i] = p
	}
	u := NewUnionContentStore(stores...)
	u.AllowIncomplete = true
	return u
}

// historyUnion builds a union over the current history packs.
func (d *PackDir) historyUnion() *UnionHistoryStore {
	packs := d.HistoryPacks()
	stores := make([]HistoryStore, len(packs))
	for i, p := range packs {
		stores[i] = p
	}
	u := NewUnionHistoryStore(stores...)
	u.AllowIncomplete = true
	return u
}

// Get implements ContentStore.
func (d *PackDir) Get(name string, node Node) ([]byte, error) {
	return d.contentUnion().Get(name, node)
}

// GetDelta implements ContentStore.
func (d *PackDir) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	return d.contentUnion().GetDelta(name, node)
}

// GetDeltaChain implements ContentStore. Chains are spliced across packs;
// a chain whose base lives outside this directory comes back partial.
func (d *PackDir) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	return d.contentUnion().GetDeltaChain(name, node)
}

// GetMeta implements ContentStore.
func (d *PackDir) GetMeta(name string, node Node) (Meta, error) {
	return d.contentUnion().GetMeta(name, node)
}

// GetMissing implements ContentStore.
func (d *PackDir) GetMissing(keys []Key) ([]Key, error) {
	return d.contentUnion().GetMissing(keys)
}

// GetNodeInfo implements HistoryStore.
func (d *PackDir) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	return d.historyUnion().GetNodeInfo(name, node)
}

// GetAncestors implements HistoryStore.
func (d *PackDir) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	return d.historyUnion().GetAncestors(name, node, known)
}

// GetHistoryMissing returns the subset of keys no history pack holds.
func (d *PackDir) GetHistoryMissing(keys []Key) ([]Key, error) {
	return d.historyUnion().GetMissing(keys)
}

// census fills in the pack-count portion of m.
func (d *PackDir) census(m *Metrics) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m.DataPacks = int64(len(d.mu.dataPacks))
	m.HistoryPacks = int64(len(d.mu.histPacks))
	m.CorruptPacks = int64(len(d.mu.corrupt))
	m.Generations = make([]GenerationMetrics, len(d.opts.Generations))
	for i, b := range d.opts.Generations {
		m.Generations[i].Boundary = b
	}
	for _, p := range d.mu.dataPacks {
		size := p.DiskSize()
		m.PackBytes += size
		if g := generationOf(d.opts.Generations, size); g >= 0 {
			m.Generations[g].NumPacks++
			m.Generations[g].Size += size
		}
	}
	for _, p := range d.mu.histPacks {
		m.PackBytes += p.DiskSize()
	}
}

// generationOf returns the index of the generation a pack of the given size
// belongs to: the largest boundary not exceeding size. Packs smaller than the
// first boundary belong to generation 0.
func generationOf(boundaries []int64, size int64) int {
	g := 0
	for i, b := range boundaries {
		if size >= b {
			g = i
		}
	}
	return g
}

// PackDir's GetMissing covers content only; use GetHistoryMissing for the
// history side.
var (
	_ ContentStore = (*PackDir)(nil)
	_ Refresher    = (*PackDir)(nil)
)
