// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// ErrNotFound means that a get call did not find the requested key in any
// consulted store. It is recoverable: callers may fall back to another store
// or fetch the key remotely.
var ErrNotFound = errors.New("revpack: not found")

// ErrCorruption is a marker error for corrupted pack data. Readers refuse to
// open a corrupt pack; the pack is quarantined rather than trusted, and is
// never deleted by a repack that could not read it.
var ErrCorruption = errors.New("revpack: corruption")

// ErrRepackInProgress is returned when a repack could not acquire the
// exclusive repack lock. It is a benign signal, not a failure: another
// process is already doing the work.
var ErrRepackInProgress = errors.New("revpack: repack already in progress")

// ErrReadOnly is returned by Add on stores that cannot be written directly,
// e.g. generating stores which are read-through only.
var ErrReadOnly = errors.New("revpack: store is read-only")

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("revpack: engine is closed")

// CorruptionError wraps a corruption detail with the path of the offending
// pack file. It is marked with ErrCorruption.
func CorruptionError(path string, format string, args ...interface{}) error {
	err := errors.Newf("revpack: pack %s: %s", errors.Safe(path), redact.Sprintf(format, args...))
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError reports whether err is marked as pack corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// NotFoundError returns an ErrNotFound-marked error naming the key that
// could not be resolved. Failures are always reported in terms of the
// requested key, never internal file offsets.
func NotFoundError(key Key) error {
	return errors.Mark(errors.Newf("revpack: key %s not found", key), ErrNotFound)
}
