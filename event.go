// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import "github.com/revpack/revpack/internal/base"

// EventListener exports the base.EventListener type.
type EventListener = base.EventListener

// PackCreateInfo exports the base.PackCreateInfo type.
type PackCreateInfo = base.PackCreateInfo

// PackDeleteInfo exports the base.PackDeleteInfo type.
type PackDeleteInfo = base.PackDeleteInfo

// PackCorruptionInfo exports the base.PackCorruptionInfo type.
type PackCorruptionInfo = base.PackCorruptionInfo

// RepackInfo exports the base.RepackInfo type.
type RepackInfo = base.RepackInfo

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	return base.MakeLoggingEventListener(logger)
}
