// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"bytes"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// NodeSize is the size in bytes of a revision hash.
const NodeSize = 20

// Node is the 20-byte content hash identifying one revision of a named
// object. Node values are opaque to the engine; they are assigned by the
// layer that computes content hashes.
type Node [NodeSize]byte

// Null is the zero node. It denotes "no parent" in history entries and
// terminates delta chains: an entry whose deltabase is Null is a full text.
var Null Node

// ParseNode parses a 40-character hex string into a Node.
func ParseNode(s string) (Node, error) {
	var n Node
	if len(s) != 2*NodeSize {
		return n, errors.Errorf("revpack: invalid node %q", s)
	}
	if _, err := hex.Decode(n[:], []byte(s)); err != nil {
		return n, errors.Wrapf(err, "revpack: invalid node %q", s)
	}
	return n, nil
}

// IsNull reports whether n is the zero node.
func (n Node) IsNull() bool { return n == Null }

// Less reports whether n sorts before other in byte order.
func (n Node) Less(other Node) bool { return bytes.Compare(n[:], other[:]) < 0 }

// String returns the hex form of the node.
func (n Node) String() string { return hex.EncodeToString(n[:]) }

// Short returns the abbreviated hex form used in log output.
func (n Node) Short() string { return hex.EncodeToString(n[:6]) }

// SafeFormat implements redact.SafeFormatter.
func (n Node) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(n.Short()))
}

// Key identifies one revision of a named object. Name is empty for entries
// with no path of their own (e.g. a root tree). Keys are content-addressed
// and immutable once published.
type Key struct {
	Name string
	Node Node
}

// MakeKey returns a Key for the given name and node.
func MakeKey(name string, node Node) Key {
	return Key{Name: name, Node: node}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Name + ":" + k.Node.String()
}

// NodeInfo is the ancestry metadata of one history entry. P1 names a node
// under CopyFrom when CopyFrom is non-empty (rename/copy provenance),
// otherwise under the entry's own name. Linknode ties the entry to the
// higher-level change that introduced it.
type NodeInfo struct {
	P1       Node
	P2       Node
	Linknode Node
	CopyFrom string
}

// Meta describes a stored revision without materializing its text.
type Meta struct {
	// Size is the length in bytes of the full text.
	Size int64
	// Flags carries store-specific entry flags. The engine itself defines
	// none; the field round-trips for the benefit of higher layers.
	Flags uint16
}
