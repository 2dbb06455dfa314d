// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !solaris

package lockfile

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

// TryLock is not implemented on this platform.
func TryLock(name string) (Lock, error) {
	return nil, errors.Errorf("lockfile: file locking is not implemented on %s/%s",
		runtime.GOOS, runtime.GOARCH)
}
