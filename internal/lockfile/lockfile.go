// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package lockfile implements the advisory file lock that serializes repacks
// across processes. The lock is acquired non-blocking: if another process
// holds it, TryLock fails immediately rather than waiting.
//
// The lock guards repack exclusivity only. Reading packs requires no lock
// since published packs are immutable.
package lockfile

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Lock is a held advisory lock. Closing it releases the lock.
type Lock = io.Closer

// ErrBusy is returned by TryLock when the lock is held elsewhere.
var ErrBusy = errors.New("lockfile: lock is held by another process")
