// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packfile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack/internal/base"
)

// basePack holds what the data and history readers share: the open data
// file and the parsed index.
type basePack struct {
	// path is the pack's base path, without the data/index suffix.
	path      string
	dataPath  string
	indexPath string
	version   int
	dataSize  int64
	indexSize int64
	f         *os.File
	index     *packIndex
}

func openPack(path, dataPath, indexPath string) (*basePack, error) {
	indexBytes, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	index, err := parseIndex(indexPath, indexBytes)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}
	var versionByte [1]byte
	if _, err := f.ReadAt(versionByte[:], 0); err != nil {
		_ = f.Close()
		return nil, base.CorruptionError(dataPath, "empty data file")
	}
	if int(versionByte[0]) != index.version {
		_ = f.Close()
		return nil, base.CorruptionError(dataPath,
			"data file version %d does not match index version %d", versionByte[0], index.version)
	}
	return &basePack{
		path:      path,
		dataPath:  dataPath,
		indexPath: indexPath,
		version:   index.version,
		dataSize:  stat.Size(),
		indexSize: int64(len(indexBytes)),
		f:         f,
		index:     index,
	}, nil
}

// Path returns the pack's base path (without the data/index suffix).
func (p *basePack) Path() string { return p.path }

// Version returns the pack's format version.
func (p *basePack) Version() int { return p.version }

// Close releases the data file handle.
func (p *basePack) Close() error {
	return p.f.Close()
}

// DiskSize returns the combined on-disk size of the data and index files.
func (p *basePack) DiskSize() int64 {
	return p.dataSize + p.indexSize
}

// readAt reads length bytes at the given data-file offset.
func (p *basePack) readAt(offset uint64, length int) ([]byte, error) {
	if int64(offset)+int64(length) > p.dataSize {
		return nil, base.CorruptionError(p.dataPath,
			"read of %d bytes beyond end of data file", length)
	}
	buf := make([]byte, length)
	if _, err := p.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, base.CorruptionError(p.dataPath, "short read: %s", err)
	}
	return buf, nil
}

// section reads a whole name section into memory and strips its header,
// returning the concatenated entries and the declared entry count.
func (p *basePack) section(ne nameEntry, name string) ([]byte, int, error) {
	raw, err := p.readAt(ne.sectionOffset, int(ne.sectionSize))
	if err != nil {
		return nil, 0, err
	}
	hdr := sectionHeaderSize(name)
	if len(raw) < hdr {
		return nil, 0, base.CorruptionError(p.dataPath, "section for %q shorter than its header", name)
	}
	if got := int(binary.BigEndian.Uint16(raw[:2])); got != len(name) {
		return nil, 0, base.CorruptionError(p.dataPath,
			"section name length %d does not match %q", got, name)
	}
	if string(raw[2:2+len(name)]) != name {
		return nil, 0, base.CorruptionError(p.dataPath, "section does not belong to %q", name)
	}
	count := int(binary.BigEndian.Uint32(raw[2+len(name) : hdr]))
	return raw[hdr:], count, nil
}

// findName looks up the index entry for name.
func (p *basePack) findName(name string) (nameEntry, bool) {
	return p.index.findName(HashName(name))
}

// verifyReadable is a cheap open-time sanity check shared by both readers.
func (p *basePack) verifyIndex() error {
	return p.index.validate(p.indexPath)
}

var _ io.Closer = (*basePack)(nil)
