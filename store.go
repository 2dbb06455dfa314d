// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
)

// Node exports the base.Node type.
type Node = base.Node

// Key exports the base.Key type.
type Key = base.Key

// NodeInfo exports the base.NodeInfo type.
type NodeInfo = base.NodeInfo

// Meta exports the base.Meta type.
type Meta = base.Meta

// DeltaChainLink exports the packfile.DeltaChainLink type.
type DeltaChainLink = packfile.DeltaChainLink

// AncestorMap exports the packfile.AncestorMap type.
type AncestorMap = packfile.AncestorMap

// Null exports the base.Null node.
var Null = base.Null

// MakeKey exports base.MakeKey.
func MakeKey(name string, node Node) Key { return base.MakeKey(name, node) }

// Exported error sentinels. See internal/base for semantics.
var (
	ErrNotFound         = base.ErrNotFound
	ErrCorruption       = base.ErrCorruption
	ErrRepackInProgress = base.ErrRepackInProgress
	ErrReadOnly         = base.ErrReadOnly
	ErrClosed           = base.ErrClosed
)

// ContentStore answers queries about revision texts. Implementations
// include immutable packs, mutable packs, unions of stores, and generating
// stores.
type ContentStore interface {
	// Get returns the full text of the revision, replaying its delta chain.
	// Fails with ErrNotFound when the key (or a chain base) is absent.
	Get(name string, node Node) ([]byte, error)

	// GetDelta returns the stored form of the revision: its payload plus the
	// key of the base it patches. A full text comes back with a Null base.
	GetDelta(name string, node Node) (delta []byte, baseName string, baseNode Node, err error)

	// GetDeltaChain returns the chain for the key, ordered from the requested
	// node toward its terminal full text. The chain may be partial when the
	// store holds a delta whose base lives elsewhere.
	GetDeltaChain(name string, node Node) ([]DeltaChainLink, error)

	// GetMeta returns size/flags metadata without handing out the text.
	GetMeta(name string, node Node) (Meta, error)

	// GetMissing returns the subset of keys the store does not hold.
	GetMissing(keys []Key) ([]Key, error)
}

// HistoryStore answers queries about revision ancestry.
type HistoryStore interface {
	// GetNodeInfo returns the ancestry record for the key. Fails with
	// ErrNotFound when absent.
	GetNodeInfo(name string, node Node) (NodeInfo, error)

	// GetAncestors walks parent pointers from the key, stopping at nodes in
	// known, and returns every record reachable in this store. A miss on the
	// seed key is a hard ErrNotFound.
	GetAncestors(name string, node Node, known map[Node]struct{}) (AncestorMap, error)

	// GetMissing returns the subset of keys the store does not hold.
	GetMissing(keys []Key) ([]Key, error)
}

// Refresher is implemented by stores whose backing state can change
// externally (a pack directory shared between processes). MarkForRefresh
// invalidates any cached notion of which files exist.
type Refresher interface {
	MarkForRefresh() error
}

// MutableContentStore is a ContentStore that accumulates entries and flushes
// them into an immutable pack.
type MutableContentStore interface {
	ContentStore
	// Add appends one revision. payload is a full text when deltaBase is
	// Null, otherwise a patch against deltaBase.
	Add(name string, node, deltaBase Node, payload []byte) error
	// Flush writes the pack pair and returns its base path; "" for an empty
	// builder.
	Flush() (string, error)
}

// MutableHistoryStore is a HistoryStore that accumulates ancestry records
// and flushes them into an immutable pack.
type MutableHistoryStore interface {
	HistoryStore
	Add(name string, node Node, info NodeInfo) error
	Flush() (string, error)
}

var (
	// The packfile builders satisfy the mutable store interfaces.
	_ MutableContentStore = (*packfile.MutableDataPack)(nil)
	_ MutableHistoryStore = (*packfile.MutableHistoryPack)(nil)
	// The packfile readers satisfy the read-only interfaces.
	_ ContentStore = (*packfile.DataPack)(nil)
	_ HistoryStore = (*packfile.HistoryPack)(nil)
)
