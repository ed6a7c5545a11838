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

// Package single is the baseline splittable layout: one transactional cell,
// no adaptation. It exists as the lowest-overhead, highest-contention point
// of comparison for mrv and pr; unlike them it needs no background manager.
package single

import (
	"splittable"
	"splittable/stats"
	"splittable/stm"
)

// Single is a splittable counter backed by one transactional u32 cell.
type Single struct {
	id   uint32
	cell *stm.Var
}

var _ splittable.Splittable = (*Single)(nil)

// NewInstance constructs a Single counter holding the given initial value and
// registers its identity. There is no per-variant manager to register with:
// Single is the only layout the spec calls out as not needing to be adaptive.
func NewInstance(initial uint32) *Single {
	return &Single{id: splittable.NewID(), cell: stm.NewVar(initial)}
}

// DeleteInstance drops the counter handle. Single owns no background state.
func DeleteInstance(*Single) {}

// ID returns the counter's stable identity.
func (s *Single) ID() uint32 { return s.id }

// Read returns the cell's current value.
func (s *Single) Read(tx *stm.Txn) (uint32, error) {
	installHooks(tx)
	v, ok := tx.Get(s.cell)
	if !ok {
		return 0, nil
	}
	return v.(uint32), nil
}

// Add writes cell+delta, failing with ErrOverflow rather than wrapping.
func (s *Single) Add(tx *stm.Txn, delta uint32) error {
	installHooks(tx)
	v, ok := tx.Get(s.cell)
	if !ok {
		return nil
	}
	cur := v.(uint32)
	if uint64(cur)+uint64(delta) > splittable.MaxU32 {
		return splittable.ErrOverflow
	}
	tx.Set(s.cell, cur+delta)
	return nil
}

// Sub writes cell-delta, failing with ErrInsufficientValue when cell < delta.
func (s *Single) Sub(tx *stm.Txn, delta uint32) error {
	installHooks(tx)
	v, ok := tx.Get(s.cell)
	if !ok {
		return nil
	}
	cur := v.(uint32)
	if cur < delta {
		tx.MarkNoStock()
		return splittable.ErrInsufficientValue
	}
	tx.Set(s.cell, cur-delta)
	return nil
}

// installHooks wires the process-wide abort/commit tallies per spec §4.5.
// Installing them more than once per attempt double-counts, since stm.Txn
// appends every hook it is given; Read/Add/Sub each call this exactly once
// on entry.
func installHooks(tx *stm.Txn) {
	tx.OnFail(stats.RecordAbort)
	tx.After(stats.RecordCommit)
}
