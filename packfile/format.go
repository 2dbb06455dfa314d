// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package packfile implements the immutable two-file pack format (data file +
// index file) holding many revisions for many names, plus the mutable
// builders that produce packs.
//
// Data file layout (.datapack / .histpack):
//
//	<1-byte version>
//	per name section, sections concatenated:
//	  <2-byte BE name length>
//	  <name>
//	  <4-byte BE entry count>
//	  [entry]...
//
// A data entry is:
//
//	<20-byte node>
//	<20-byte deltabase node>    (Null = entry is a full text)
//	<8-byte BE delta length>
//	<delta bytes>
//
// A history entry is:
//
//	<20-byte node>
//	<20-byte p1>
//	<20-byte p2>
//	<20-byte linknode>
//	<2-byte BE copyfrom length>
//	<copyfrom bytes>
//
// Index file layout (.dataidx / .histidx):
//
//	<1-byte version>            (must match the data file)
//	<1-byte config>             (0x80 bit set = large fanout)
//	<fanout table>              (2^8 or 2^16 4-byte BE slots)
//	v0: <name entries, 36 bytes each, to EOF>
//	v1: <8-byte BE name entry count>
//	    <name entries, 44 bytes each>
//	    <8-byte BE total node count>
//	    <node-index blocks>
//
// A name entry is <20-byte SHA-1 of name><8-byte BE section offset>
// <8-byte BE section size>, extended in v1 with <4-byte BE node-index
// offset><4-byte BE node-index size>. Name entries are sorted by name hash.
// Section offsets are absolute offsets into the data file; node-index
// offsets are relative to the start of the node-index block region.
//
// A fanout slot holds the byte offset, relative to the start of the name
// entry region, of the first name entry whose hash starts with that slot's
// prefix, or 0xFFFFFFFF if no such entry exists.
//
// A v1 node-index block is <2-byte BE name length><name> followed by
// <20-byte node><8-byte BE entry offset> pairs sorted by node, where the
// entry offset is absolute into the data file. Version 0 has no node index;
// readers locate a node by walking its name's section.
//
// Packs are write-once. Both files are renamed into their final names only
// after their contents are fully written and synced, so a reader never
// observes a partial pack.
package packfile

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/revpack/revpack/internal/base"
)

// Pack format versions. Version 1 adds the per-name node index.
const (
	Version0 = 0
	Version1 = 1

	// CurrentVersion is the version written by the mutable builders.
	CurrentVersion = Version1
)

// Index config byte flags.
const (
	// configLargeFanout selects the 2-byte-prefix (2^16 slot) fanout table.
	configLargeFanout = 0x80
)

// smallFanoutCutoff is the entry count above which builders switch from the
// 2^8-slot fanout to the 2^16-slot fanout.
const smallFanoutCutoff = 8192

const (
	fanoutSlotSize = 4
	// fanoutEmpty marks a fanout slot with no entries for its prefix.
	fanoutEmpty = 0xFFFFFFFF

	nameEntrySizeV0 = base.NodeSize + 8 + 8
	nameEntrySizeV1 = nameEntrySizeV0 + 4 + 4

	// dataEntryFixedSize is the size of a data entry up to its payload.
	dataEntryFixedSize = base.NodeSize + base.NodeSize + 8
	// histEntryFixedSize is the size of a history entry up to its copyfrom.
	histEntryFixedSize = 4*base.NodeSize + 2
)

// HashName returns the 20-byte hash under which a name is indexed.
func HashName(name string) base.Node {
	return base.Node(sha1.Sum([]byte(name)))
}

// sectionHeaderSize returns the encoded size of a name section header.
func sectionHeaderSize(name string) int {
	return 2 + len(name) + 4
}

func putSectionHeader(buf []byte, name string, entryCount int) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(name)))
	n := 2 + copy(buf[2:], name)
	binary.BigEndian.PutUint32(buf[n:n+4], uint32(entryCount))
	return n + 4
}
