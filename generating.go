// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
)

// Generator materializes revisions that no local store holds, writing both
// texts and ancestry records into the mutable stores it is handed. A network
// fetcher or an on-demand computation (manifest expansion, blame cache) are
// typical implementations.
type Generator interface {
	// Generate produces the given keys into the mutable stores. It is not an
	// error for Generate to produce extra keys, or to fail to produce some of
	// the requested ones; the caller re-checks the inner stores afterward.
	Generate(keys []Key, data MutableContentStore, history MutableHistoryStore) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(keys []Key, data MutableContentStore, history MutableHistoryStore) error

// Generate calls fn.
func (fn GeneratorFunc) Generate(keys []Key, data MutableContentStore, history MutableHistoryStore) error {
	return fn(keys, data, history)
}

// GeneratingStore layers a Generator over a content/history store pair. A
// read that misses triggers generation and is retried once; a retry miss is
// surfaced as ErrNotFound.
//
// The guard set makes the store safe against reentrant generation: if
// Generate itself reads back through this store (directly or through a union
// that contains it), keys already being generated are reported as not found
// instead of recursing.
type GeneratingStore struct {
	content   ContentStore
	history   HistoryStore
	data      MutableContentStore
	histData  MutableHistoryStore
	generator Generator

	mu struct {
		sync.Mutex
		// generating holds the keys of in-flight Generate calls on this
		// goroutine stack. Reads of these keys fail fast with ErrNotFound.
		generating map[Key]struct{}
	}
}

// NewGeneratingStore wraps the read stores with on-demand generation. The
// mutable stores are where the generator writes; they are normally members of
// the read unions so generated entries become visible on retry.
func NewGeneratingStore(
	content ContentStore, history HistoryStore,
	data MutableContentStore, histData MutableHistoryStore,
	generator Generator,
) *GeneratingStore {
	s := &GeneratingStore{
		content:   content,
		history:   history,
		data:      data,
		histData:  histData,
		generator: generator,
	}
	s.mu.generating = make(map[Key]struct{})
	return s
}

// generate runs the generator for the keys not already in flight. It returns
// ErrNotFound without invoking the generator when every requested key is in
// flight, so reentrant reads terminate.
func (s *GeneratingStore) generate(keys []Key) error {
	s.mu.Lock()
	var todo []Key
	for _, k := range keys {
		if _, ok := s.mu.generating[k]; ok {
			continue
		}
		s.mu.generating[k] = struct{}{}
		todo = append(todo, k)
	}
	s.mu.Unlock()
	if len(todo) == 0 {
		return ErrNotFound
	}
	defer func() {
		s.mu.Lock()
		for _, k := range todo {
			delete(s.mu.generating, k)
		}
		s.mu.Unlock()
	}()
	return s.generator.Generate(todo, s.data, s.histData)
}

// Get returns the full text, generating the key on a first miss.
func (s *GeneratingStore) Get(name string, node Node) ([]byte, error) {
	text, err := s.content.Get(name, node)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return text, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, base.NotFoundError(MakeKey(name, node))
		}
		return nil, err
	}
	return s.content.Get(name, node)
}

// GetDelta returns the stored form, generating the key on a first miss.
func (s *GeneratingStore) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	delta, baseName, baseNode, err := s.content.GetDelta(name, node)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return delta, baseName, baseNode, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", Null, base.NotFoundError(MakeKey(name, node))
		}
		return nil, "", Null, err
	}
	return s.content.GetDelta(name, node)
}

// GetDeltaChain returns the chain, generating the key on a first miss.
func (s *GeneratingStore) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	chain, err := s.content.GetDeltaChain(name, node)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return chain, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, base.NotFoundError(MakeKey(name, node))
		}
		return nil, err
	}
	return s.content.GetDeltaChain(name, node)
}

// GetMeta returns metadata, generating the key on a first miss.
func (s *GeneratingStore) GetMeta(name string, node Node) (Meta, error) {
	meta, err := s.content.GetMeta(name, node)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return meta, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Meta{}, base.NotFoundError(MakeKey(name, node))
		}
		return Meta{}, err
	}
	return s.content.GetMeta(name, node)
}

// GetMissing reports nothing as definitively missing: any key this store is
// asked about can in principle be generated.
func (s *GeneratingStore) GetMissing(keys []Key) ([]Key, error) {
	return nil, nil
}

// GetNodeInfo returns the ancestry record, generating the key on a first
// miss.
func (s *GeneratingStore) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	info, err := s.history.GetNodeInfo(name, node)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return info, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NodeInfo{}, base.NotFoundError(MakeKey(name, node))
		}
		return NodeInfo{}, err
	}
	return s.history.GetNodeInfo(name, node)
}

// GetAncestors walks ancestry, generating the seed on a first miss.
func (s *GeneratingStore) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	m, err := s.history.GetAncestors(name, node, known)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return m, err
	}
	if err := s.generate([]Key{MakeKey(name, node)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, base.NotFoundError(MakeKey(name, node))
		}
		return nil, err
	}
	return s.history.GetAncestors(name, node, known)
}

// Add is rejected: writes go through the engine's mutable stores, not the
// generating layer.
func (s *GeneratingStore) Add(name string, node, deltaBase Node, payload []byte) error {
	return errors.Wrapf(ErrReadOnly, "generating store")
}

var (
	_ ContentStore = (*GeneratingStore)(nil)
	_ HistoryStore = (*GeneratingStore)(nil)
)
