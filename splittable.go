// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package splittable defines the contention-adaptive counter abstraction
// shared by the single, mrv and pr variants: one identity, one interface
// (Read/Add/Sub against a host stm.Txn), and the process-wide stat tallies
// every variant's operations report into.
package splittable

import (
	"errors"
	"sync/atomic"

	"splittable/stats"
	"splittable/stm"
)

// Errors returned by Read/Add/Sub, per spec §7.
var (
	// ErrOverflow is returned by Add when the logical value would wrap u32.
	ErrOverflow = errors.New("splittable: add would overflow u32")
	// ErrInsufficientValue is returned by Sub when no layout can supply delta.
	ErrInsufficientValue = errors.New("splittable: insufficient value for sub")
	// ErrBoundReached is returned by an adjustment that is already at its
	// structural bound (MRV add_nodes at MAX_NODES, remove_node at size 1).
	ErrBoundReached = errors.New("splittable: adjustment bound reached")
	// ErrTransitionFailed is returned by a manager-driven transition whose
	// precondition no longer held by the time it ran.
	ErrTransitionFailed = errors.New("splittable: transition precondition not met")
)

// MaxU32 is the ceiling every counter's logical value must never cross.
const MaxU32 = 1<<32 - 1

// Splittable is the interface every counter variant implements, regardless
// of its internal layout. Variant selection happens at construction time and
// is fixed for the counter's lifetime (spec §4.1); only the manager may move
// a counter between sub-layouts (MRV chunk count, PR split state).
type Splittable interface {
	// Read returns the counter's current logical value under tx's snapshot.
	Read(tx *stm.Txn) (uint32, error)
	// Add increases the logical value by delta on commit.
	Add(tx *stm.Txn, delta uint32) error
	// Sub decreases the logical value by delta on commit.
	Sub(tx *stm.Txn, delta uint32) error
}

var nextID atomic.Uint32

// NewID returns the next monotonically increasing counter identity, shared
// across all variants so ids stay globally unique (spec §9).
func NewID() uint32 { return nextID.Add(1) }

// GetGlobalStats returns the process-wide abort/commit tallies accumulated
// across every splittable counter of every variant.
func GetGlobalStats() (aborts, commits uint64) { return stats.GlobalStats() }

// ResetGlobalStats zeroes the process-wide abort/commit tallies.
func ResetGlobalStats() { stats.ResetGlobalStats() }
