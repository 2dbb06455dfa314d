// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
)

// UnionContentStore composes an ordered list of content stores into one
// logical store. Reads consult members in registration order; a key is
// missing only when every member misses. Chains are spliced: a member that
// holds only a delta composes transparently with a later member that holds
// the full-text ancestor.
type UnionContentStore struct {
	stores []ContentStore
	// AllowIncomplete makes GetDeltaChain return a partial chain when no
	// member holds the next base, instead of failing with ErrNotFound.
	AllowIncomplete bool
}

// NewUnionContentStore returns a union over the given stores, consulted in
// order.
func NewUnionContentStore(stores ...ContentStore) *UnionContentStore {
	return &UnionContentStore{stores: stores}
}

// Get returns the full text for the key by fetching its delta chain and
// replaying it from the terminal full text upward.
func (u *UnionContentStore) Get(name string, node Node) ([]byte, error) {
	chain, err := u.getDeltaChain(name, node, false /* allowIncomplete */)
	if err != nil {
		return nil, err
	}
	return packfile.Replay(chain)
}

// GetDelta returns the stored form from the first member that holds the key.
func (u *UnionContentStore) GetDelta(name string, node Node) ([]byte, string, Node, error) {
	for _, s := range u.stores {
		delta, baseName, baseNode, err := s.GetDelta(name, node)
		if err == nil {
			return delta, baseName, baseNode, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", Null, err
		}
	}
	return nil, "", Null, base.NotFoundError(MakeKey(name, node))
}

// GetDeltaChain fetches the shortest available partial chain from the first
// member holding the key, then recurses on the dangling base until a full
// text is reached. With AllowIncomplete set, a dangling base no member holds
// terminates the chain instead of failing.
func (u *UnionContentStore) GetDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	return u.getDeltaChain(name, node, u.AllowIncomplete)
}

func (u *UnionContentStore) getDeltaChain(name string, node Node, allowIncomplete bool) ([]DeltaChainLink, error) {
	var chain []DeltaChainLink
	seen := make(map[Key]struct{})
	curName, curNode := name, node
	for {
		key := MakeKey(curName, curNode)
		if _, ok := seen[key]; ok {
			return nil, base.CorruptionError(curName, "delta base cycle at %s", key)
		}
		seen[key] = struct{}{}

		partial, err := u.memberDeltaChain(curName, curNode)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if len(chain) == 0 {
				// Seed miss.
				return nil, base.NotFoundError(MakeKey(name, node))
			}
			if allowIncomplete {
				return chain, nil
			}
			return nil, base.NotFoundError(key)
		}
		chain = append(chain, partial...)
		tail := chain[len(chain)-1]
		if tail.FullText() {
			return chain, nil
		}
		curName, curNode = tail.DeltaBaseName, tail.DeltaBaseNode
	}
}

// memberDeltaChain returns the first member's partial chain for the key.
func (u *UnionContentStore) memberDeltaChain(name string, node Node) ([]DeltaChainLink, error) {
	for _, s := range u.stores {
		chain, err := s.GetDeltaChain(name, node)
		if err == nil {
			return chain, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, base.NotFoundError(MakeKey(name, node))
}

// GetMeta returns metadata for the key, materializing the text across
// members if needed.
func (u *UnionContentStore) GetMeta(name string, node Node) (Meta, error) {
	text, err := u.Get(name, node)
	if err != nil {
		return Meta{}, err
	}
	return Meta{Size: int64(len(text))}, nil
}

// GetMissing feeds the key set through each member in order, each narrowing
// the residual set. A key is truly missing only if every member misses it.
func (u *UnionContentStore) GetMissing(keys []Key) ([]Key, error) {
	missing := keys
	for _, s := range u.stores {
		if len(missing) == 0 {
			return nil, nil
		}
		var err error
		missing, err = s.GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// MarkForRefresh propagates the refresh to every member that supports it.
func (u *UnionContentStore) MarkForRefresh() error {
	for _, s := range u.stores {
		if r, ok := s.(Refresher); ok {
			if err := r.MarkForRefresh(); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnionHistoryStore composes an ordered list of history stores into one
// logical store, assembling ancestor maps across members with a worklist
// traversal.
type UnionHistoryStore struct {
	stores []HistoryStore
	// AllowIncomplete permits the ancestor walk to stop at nodes no member
	// holds. A miss on the seed key is a hard failure regardless.
	AllowIncomplete bool
}

// NewUnionHistoryStore returns a union over the given stores, consulted in
// order.
func NewUnionHistoryStore(stores ...HistoryStore) *UnionHistoryStore {
	return &UnionHistoryStore{stores: stores}
}

// GetNodeInfo returns the record from the first member that holds the key.
func (u *UnionHistoryStore) GetNodeInfo(name string, node Node) (NodeInfo, error) {
	for _, s := range u.stores {
		info, err := s.GetNodeInfo(name, node)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return NodeInfo{}, err
		}
	}
	return NodeInfo{}, base.NotFoundError(MakeKey(name, node))
}

// GetAncestors performs a worklist traversal, querying members for partial
// ancestor maps and continuing the walk from parents not yet resolved until
// the lineage bottoms out.
func (u *UnionHistoryStore) GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	type item struct {
		name string
		node Node
	}
	ancestors := make(AncestorMap)
	stack := []item{{name, node}}
	seed := true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		isSeed := seed
		seed = false
		if _, ok := ancestors[cur.node]; ok {
			continue
		}
		if known != nil {
			if _, ok := known[cur.node]; ok {
				continue
			}
		}
		partial, err := u.memberAncestors(cur.name, cur.node, known)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if isSeed {
				return nil, base.NotFoundError(MakeKey(name, node))
			}
			if u.AllowIncomplete {
				continue
			}
			return nil, base.NotFoundError(MakeKey(cur.name, cur.node))
		}
		// Re-walk the member's partial map from cur so each record's name is
		// known at the point its parents are pushed; copies switch the name a
		// parent is filed under, and the frontier lookup in the next member
		// needs the right one.
		local := []item{cur}
		visited := make(map[Node]struct{})
		for len(local) > 0 {
			x := local[len(local)-1]
			local = local[:len(local)-1]
			if _, ok := visited[x.node]; ok {
				continue
			}
			visited[x.node] = struct{}{}
			if known != nil {
				if _, ok := known[x.node]; ok {
					continue
				}
			}
			info, ok := partial[x.node]
			if !ok {
				// The member does not hold this record; continue the walk in
				// the other members.
				if _, have := ancestors[x.node]; !have {
					stack = append(stack, x)
				}
				continue
			}
			ancestors[x.node] = info
			p1Name := x.name
			if info.CopyFrom != "" {
				p1Name = info.CopyFrom
			}
			if !info.P1.IsNull() {
				if _, have := ancestors[info.P1]; !have {
					local = append(local, item{p1Name, info.P1})
				}
			}
			if !info.P2.IsNull() {
				if _, have := ancestors[info.P2]; !have {
					local = append(local, item{x.name, info.P2})
				}
			}
		}
	}
	return ancestors, nil
}

func (u *UnionHistoryStore) memberAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error) {
	for _, s := range u.stores {
		m, err := s.GetAncestors(name, node, known)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, base.NotFoundError(MakeKey(name, node))
}

// GetMissing narrows the key set through each member in order.
func (u *UnionHistoryStore) GetMissing(keys []Key) ([]Key, error) {
	missing := keys
	for _, s := range u.stores {
		if len(missing) == 0 {
			return nil, nil
		}
		var err error
		missing, err = s.GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// MarkForRefresh propagates the refresh to every member that supports it.
func (u *UnionHistoryStore) MarkForRefresh() error {
	for _, s := range u.stores {
		if r, ok := s.(Refresher); ok {
			if err := r.MarkForRefresh(); err != nil {
				return err
			}
		}
	}
	return nil
}
