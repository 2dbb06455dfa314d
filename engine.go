// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package revpack implements a pack-based, content-addressed object storage
// engine for version control data. Revision texts and their ancestry records
// live in immutable pack pairs (a data file plus an index); new writes
// accumulate in mutable packs and are flushed into fresh pairs; a
// generational repacker merges small packs into larger ones and collects
// garbage along the way.
package revpack

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
)

// Engine is the top-level handle on a pack directory. It composes the
// on-disk packs with an in-memory mutable pack for each of content and
// history, and optionally a generating layer for keys no local pack holds.
//
// Reads see the mutable packs first, then the on-disk packs. Writes go to
// the mutable packs and become durable on Commit. Engine methods are safe
// for concurrent use.
type Engine struct {
	dirname string
	opts    *Options
	packDir *PackDir

	// generating is non-nil when Options.Generator is set. It persists for
	// the life of the engine so its reentrancy guard spans nested reads.
	generating *GeneratingStore

	mu struct {
		sync.Mutex
		mutableData *packfile.MutableDataPack
		mutableHist *packfile.MutableHistoryPack
		jobID       int
		closed      bool
		repack      struct {
			count, inputs, outputs, entries, gced int64
		}
	}
}

// Open opens (creating if necessary) the engine over the given pack
// directory. opts may be nil.
func Open(dirname string, opts *Options) (*Engine, error) {
	opts = opts.EnsureDefaults()
	packDir, err := OpenPackDir(dirname, opts)
	if err != nil {
		return nil, err
	}
	e := &Engine{dirname: dirname, opts: opts, packDir: packDir}
	e.mu.mutableData = packfile.NewMutableDataPack(dirname)
	e.mu.mutableHist = packfile.NewMutableHistoryPack(dirname)
	if opts.Generator != nil {
		e.generating = NewGeneratingStore(
			engineContent{e}, engineHistory{e},
			engineMutableData{e}, engineMutableHistory{e},
			opts.Generator,
		)
	}
	return e, nil
}

// Dirname returns the pack directory path.
func (e *Engine) Dirname() string { return e.dirname }

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return errors.WithStack(ErrClosed)
	}
	return nil
}

// localContent returns the non-generating read path: mutable pack first,
// then the on-disk packs.
func (e *Engine) localContent() *UnionContentStore {
	e.mu.Lock()
	mutable := e.mu.mutableData
	e.mu.Unlock()
	return NewUnionContentStore(mutable, e.packDir.contentUnion())
}

func (e *Engine) localHistory() *UnionHistoryStore {
	e.mu.Lock()
	mutable := e.mu.mutableHist
	e.mu.Unlock()
	return NewUnionHistoryStore(mutable, e.packDir.historyUnion())
}

func (e *Engine) content() ContentStore {
	if e.generating != nil {
		return e.generating
	}
	return e.localContent()
}

func (e *Engine) history() HistoryStore {
	if e.generating != nil {
		return e.generating
	}
	return e.localHistory()
}

// Get returns the full text of the revision.
func (e *Engine) Get(name string, node Node) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.content().Get(name, node)
}

// GetDelta returns the stored form of the revision.
func (e *Engine) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	if err := e.checkOpen(); err != nil {
		return nil, "", Null, err
	}
	return e.content().GetDelta(name, node)
}

// GetDeltaChain returns the delta chain for the revision, spliced across
// packs.
func (e *Engine) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.content().GetDeltaChain(name, node)
}

// GetMeta returns size metadata for the revision.
func (e *Engine) GetMeta(name string, node Node) (Meta, error) {
	if err := e.checkOpen(); err != nil {
		return Meta{}, err
	}
	return e.content().GetMeta(name, node)
}

// GetMissing returns the subset of keys no content store holds.
func (e *Engine) GetMissing(keys []Key) ([]Key, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.content().GetMissing(keys)
}

// GetNodeInfo returns the ancestry record for the key.
func (e *Engine) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	if err := e.checkOpen(); err != nil {
		return NodeInfo{}, err
	}
	return e.history().GetNodeInfo(name, node)
}

// GetAncestors walks ancestry from the key, stopping at nodes in known.
func (e *Engine) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.history().GetAncestors(name, node, known)
}

// GetHistoryMissing returns the subset of keys no history store holds.
func (e *Engine) GetHistoryMissing(keys []Key) ([]Key, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.localHistory().GetMissing(keys)
}

// AddData buffers one revision in the mutable data pack. payload is the full
// text when deltaBase is Null, otherwise a patch against deltaBase.
func (e *Engine) AddData(name string, node, deltaBase Node, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return errors.WithStack(ErrClosed)
	}
	return e.mu.mutableData.Add(name, node, deltaBase, payload)
}

// AddHistory buffers one ancestry record in the mutable history pack.
func (e *Engine) AddHistory(name string, node Node, info NodeInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return errors.WithStack(ErrClosed)
	}
	return e.mu.mutableHist.Add(name, node, info)
}

// Commit flushes the mutable packs into immutable pack pairs and starts
// fresh builders. Empty builders write nothing. The returned base paths are
// "" for the sides that had no entries.
func (e *Engine) Commit() (dataPath, histPath string, err error) {
	e.mu.Lock()
	if e.mu.closed {
		e.mu.Unlock()
		return "", "", errors.WithStack(ErrClosed)
	}
	e.mu.jobID++
	jobID := e.mu.jobID
	data := e.mu.mutableData
	hist := e.mu.mutableHist
	dataEntries := data.Len()
	histEntries := hist.Len()
	e.mu.mutableData = packfile.NewMutableDataPack(e.dirname)
	e.mu.mutableHist = packfile.NewMutableHistoryPack(e.dirname)
	e.mu.Unlock()

	if dataPath, err = data.Flush(); err != nil {
		return "", "", err
	}
	if dataPath != "" {
		e.opts.EventListener.PackCreated(base.PackCreateInfo{
			JobID:   jobID,
			Path:    dataPath,
			Entries: dataEntries,
			Size:    pairSize(dataPath, base.DataPackSuffix, base.DataIndexSuffix),
		})
	}
	if histPath, err = hist.Flush(); err != nil {
		return dataPath, "", err
	}
	if histPath != "" {
		e.opts.EventListener.PackCreated(base.PackCreateInfo{
			JobID:   jobID,
			Path:    histPath,
			Entries: histEntries,
			Size:    pairSize(histPath, base.HistoryPackSuffix, base.HistoryIndexSuffix),
		})
	}
	if rerr := e.packDir.MarkForRefresh(); rerr != nil {
		return dataPath, histPath, rerr
	}
	return dataPath, histPath, nil
}

// MarkForRefresh rescans the pack directory so packs written by other
// processes become visible.
func (e *Engine) MarkForRefresh() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.packDir.MarkForRefresh()
}

// Repack rewrites packs into fewer, larger ones. With incremental set, only
// the generation the picker selects is consumed; otherwise every readable
// pack is. Returns ErrRepackInProgress when another process holds the repack
// lock.
func (e *Engine) Repack(incremental bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.mu.Lock()
	e.mu.jobID++
	jobID := e.mu.jobID
	e.mu.Unlock()

	r := &repacker{dir: e.packDir, opts: e.opts}
	res, err := r.run(jobID, incremental)
	if err != nil {
		return err
	}
	if res.inputs > 0 {
		e.mu.Lock()
		e.mu.repack.count++
		e.mu.repack.inputs += int64(res.inputs)
		e.mu.repack.outputs += int64(res.outputs)
		e.mu.repack.entries += int64(res.entries)
		e.mu.repack.gced += int64(res.gced)
		e.mu.Unlock()
	}
	return nil
}

// MaybeRepack triggers a repack when the pack directory has outgrown
// MaxPackFileCount. It tries an incremental repack first and falls back to a
// full one when the picker finds no over-limit generation, so the file count
// is brought down either way.
func (e *Engine) MaybeRepack() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.packDir.MarkForRefresh(); err != nil {
		return err
	}
	var m Metrics
	e.packDir.census(&m)
	if m.DataPacks+m.HistoryPacks < int64(e.opts.MaxPackFileCount) {
		return nil
	}
	before := m.DataPacks + m.HistoryPacks
	if err := e.Repack(true /* incremental */); err != nil {
		return err
	}
	var after Metrics
	e.packDir.census(&after)
	if after.DataPacks+after.HistoryPacks >= before {
		return e.Repack(false /* incremental */)
	}
	return nil
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() Metrics {
	var m Metrics
	e.packDir.census(&m)
	e.mu.Lock()
	m.Repack.Count = e.mu.repack.count
	m.Repack.InputPacks = e.mu.repack.inputs
	m.Repack.OutputPacks = e.mu.repack.outputs
	m.Repack.Entries = e.mu.repack.entries
	m.Repack.GCed = e.mu.repack.gced
	e.mu.Unlock()
	return m
}

// Close releases the engine's pack readers. Entries buffered in the mutable
// packs and not yet committed are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.mu.closed {
		e.mu.Unlock()
		return errors.WithStack(ErrClosed)
	}
	e.mu.closed = true
	e.mu.Unlock()
	return e.packDir.Close()
}

// VerifyPacks opens and verifies every pack in the directory, returning the
// first corruption found. Sound packs are left untouched.
func (e *Engine) VerifyPacks() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.packDir.MarkForRefresh(); err != nil {
		return err
	}
	for _, p := range e.packDir.DataPacks() {
		if err := p.Verify(); err != nil {
			return err
		}
	}
	for _, p := range e.packDir.HistoryPacks() {
		if err := p.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// engineContent adapts the engine's local (non-generating) content read path
// to the ContentStore interface. The generating layer reads through it, so a
// generator's own reads never recurse into generation.
type engineContent struct{ e *Engine }

func (c engineContent) Get(name string, node Node) ([]byte, error) {
	return c.e.localContent().Get(name, node)
}
func (c engineContent) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	return c.e.localContent().GetDelta(name, node)
}
func (c engineContent) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	return c.e.localContent().GetDeltaChain(name, node)
}
func (c engineContent) GetMeta(name string, node Node) (Meta, error) {
	return c.e.localContent().GetMeta(name, node)
}
func (c engineContent) GetMissing(keys []Key) ([]Key, error) {
	return c.e.localContent().GetMissing(keys)
}

type engineHistory struct{ e *Engine }

func (h engineHistory) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	return h.e.localHistory().GetNodeInfo(name, node)
}
func (h engineHistory) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	return h.e.localHistory().GetAncestors(name, node, known)
}
func (h engineHistory) GetMissing(keys []Key) ([]Key, error) {
	return h.e.localHistory().GetMissing(keys)
}

// engineMutableData is the write surface handed to generators. Adds land in
// the engine's current mutable pack; Flush is a no-op because the engine
// owns the commit cycle.
type engineMutableData struct{ e *Engine }

func (m engineMutableData) Add(name string, node, deltaBase Node, payload []byte) error {
	return m.e.AddData(name, node, deltaBase, payload)
}
func (m engineMutableData) Flush() (string, error) { return "", nil }
func (m engineMutableData) Get(name string, node Node) ([]byte, error) {
	return m.e.localContent().Get(name, node)
}
func (m engineMutableData) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	return m.e.localContent().GetDelta(name, node)
}
func (m engineMutableData) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	return m.e.localContent().GetDeltaChain(name, node)
}
func (m engineMutableData) GetMeta(name string, node Node) (Meta, error) {
	return m.e.localContent().GetMeta(name, node)
}
func (m engineMutableData) GetMissing(keys []Key) ([]Key, error) {
	return m.e.localContent().GetMissing(keys)
}

type engineMutableHistory struct{ e *Engine }

func (m engineMutableHistory) Add(name string, node Node, info NodeInfo) error {
	return m.e.AddHistory(name, node, info)
}
func (m engineMutableHistory) Flush() (string, error) { return "", nil }
func (m engineMutableHistory) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	return m.e.localHistory().GetNodeInfo(name, node)
}
func (m engineMutableHistory) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	return m.e.localHistory().GetAncestors(name, node, known)
}
func (m engineMutableHistory) GetMissing(keys []Key) ([]Key, error) {
	return m.e.localHistory().GetMissing(keys)
}

var (
	_ ContentStore        = (*Engine)(nil)
	_ ContentStore        = engineContent{}
	_ HistoryStore        = engineHistory{}
	_ MutableContentStore = engineMutableData{}
	_ MutableHistoryStore = engineMutableHistory{}
)
