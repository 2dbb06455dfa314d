// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// FileType enumerates the kinds of files found in a pack directory.
type FileType int

// The FileTypes.
const (
	FileTypeDataPack FileType = iota
	FileTypeDataIndex
	FileTypeHistoryPack
	FileTypeHistoryIndex
	FileTypeLock
)

// Pack file name suffixes. A pack is the two-file unit {data, index}; the
// data and index files of one pack share a base name.
const (
	DataPackSuffix     = ".datapack"
	DataIndexSuffix    = ".dataidx"
	HistoryPackSuffix  = ".histpack"
	HistoryIndexSuffix = ".histidx"
	lockFilename       = "REPACKLOCK"
)

func (ft FileType) String() string {
	switch ft {
	case FileTypeDataPack:
		return "datapack"
	case FileTypeDataIndex:
		return "dataidx"
	case FileTypeHistoryPack:
		return "histpack"
	case FileTypeHistoryIndex:
		return "histidx"
	case FileTypeLock:
		return "lock"
	}
	return "unknown"
}

func (ft FileType) suffix() string {
	switch ft {
	case FileTypeDataPack:
		return DataPackSuffix
	case FileTypeDataIndex:
		return DataIndexSuffix
	case FileTypeHistoryPack:
		return HistoryPackSuffix
	case FileTypeHistoryIndex:
		return HistoryIndexSuffix
	}
	return ""
}

// MakeFilepath builds the path of the given file type within dirname. id is
// the pack's base name and is ignored for the lock file.
func MakeFilepath(dirname string, fileType FileType, id string) string {
	if fileType == FileTypeLock {
		return filepath.Join(dirname, lockFilename)
	}
	return filepath.Join(dirname, id+fileType.suffix())
}

// ParseFilename parses the base name of a pack directory file. ok is false
// for files that are not part of a pack (temp files, foreign files).
func ParseFilename(filename string) (fileType FileType, id string, ok bool) {
	filename = filepath.Base(filename)
	if filename == lockFilename {
		return FileTypeLock, "", true
	}
	for _, ft := range []FileType{
		FileTypeDataPack, FileTypeDataIndex, FileTypeHistoryPack, FileTypeHistoryIndex,
	} {
		suffix := ft.suffix()
		if id, found := strings.CutSuffix(filename, suffix); found && id != "" {
			return ft, id, true
		}
	}
	return 0, "", false
}

// NewPackID returns a fresh random pack base name. Pack names carry no
// ordering; identity comes from content, uniqueness from randomness.
func NewPackID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
