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

// Package mrv is the multi-record-value splittable layout: a counter backed
// by a vector of independently addressable cells whose logical value is
// their sum. Writes hit one randomly chosen cell; reads sum every cell.
// Growing, shrinking and rebalancing the vector never locks client
// transactions out of it: the vector itself is an immutable, copy-on-write
// snapshot published through an atomic pointer, the same discipline the
// teacher's root VSA type uses for its striped atomic counters, generalized
// here from a fixed-size stripe array to a resizable one.
package mrv

import (
	"math"
	"sync/atomic"

	"splittable"
	"splittable/internal/xrand"
	"splittable/stats"
	"splittable/stm"
)

// MaxNodes is the structural upper bound on an MRV's chunk count (spec §6).
const MaxNodes = 1024

// MinBalanceDiff is the largest max-min gap, across two chunks, that a
// min-max balance pass leaves alone; only a strictly larger gap is corrected
// (spec §6).
const MinBalanceDiff = 5

// destructiveInterferenceSize pads a chunk's cell to its own cache line so
// that two chunks hammered by different goroutines never false-share.
const destructiveInterferenceSize = 128

// chunk is one cell of the vector, padded to a cache line.
type chunk struct {
	cell *stm.Var
	_    [destructiveInterferenceSize - 8]byte
}

func newChunk(v uint32) *chunk { return &chunk{cell: stm.NewVar(v)} }

// sequence is the immutable, shared vector of chunks. A new sequence is
// built and published wholesale on every resize; nothing ever mutates a
// published sequence's slice.
type sequence struct {
	chunks []*chunk
}

// BalanceStrategy selects how Balance redistributes chunk values. Both
// options preserve the sum-of-chunks conservation invariant (spec §4.3);
// which one is "correct" is left unresolved by the source this was
// distilled from, so both are implemented and selectable.
type BalanceStrategy int

const (
	// StrategyNone disables balancing; Balance is a no-op.
	StrategyNone BalanceStrategy = iota
	// StrategyMinMax equalizes the single most extreme pair of chunks.
	StrategyMinMax
	// StrategyMinMaxK equalizes the k smallest against the k largest chunks,
	// k scaling with chunk count per the table in spec §4.3.
	StrategyMinMaxK
)

// MRV is a splittable counter whose logical value is the sum of a resizable
// vector of cells.
type MRV struct {
	id    uint32
	seq   atomic.Pointer[sequence]
	stats stats.Word32
}

var _ splittable.Splittable = (*MRV)(nil)

// NewInstance constructs an MRV counter with a single chunk holding initial.
// It does not register the counter with any manager: the counter is adjusted
// and balanced only once it is passed to a manager.MRVManager's Register.
func NewInstance(initial uint32) *MRV {
	m := &MRV{id: splittable.NewID()}
	m.seq.Store(&sequence{chunks: []*chunk{newChunk(initial)}})
	return m
}

// DeleteInstance is a hook point for callers that also deregister the
// counter from its manager; MRV itself owns no resources beyond the GC'd
// chunk vector.
func DeleteInstance(*MRV) {}

// ID returns the counter's stable identity.
func (m *MRV) ID() uint32 { return m.id }

// Stats exposes the counter's rolling (aborts, commits) window to the
// manager's adjust task.
func (m *MRV) Stats() *stats.Word32 { return &m.stats }

// Size returns the current chunk count.
func (m *MRV) Size() int { return len(m.seq.Load().chunks) }

func installHooks(tx *stm.Txn, st *stats.Word32) {
	tx.OnFail(func() {
		stats.RecordAbort()
		st.IncAbort()
	})
	tx.After(func() {
		stats.RecordCommit()
		st.IncCommit()
	})
}

// Read sums every chunk under the snapshot visible to tx.
func (m *MRV) Read(tx *stm.Txn) (uint32, error) {
	installHooks(tx, &m.stats)
	seq := m.seq.Load()
	var sum uint64
	for _, c := range seq.chunks {
		v, ok := tx.Get(c.cell)
		if !ok {
			return 0, nil
		}
		sum += uint64(v.(uint32))
	}
	if sum > splittable.MaxU32 {
		sum = splittable.MaxU32
	}
	return uint32(sum), nil
}

// Add picks a chunk uniformly at random and adds delta to it, failing with
// ErrOverflow rather than letting that single chunk wrap.
func (m *MRV) Add(tx *stm.Txn, delta uint32) error {
	installHooks(tx, &m.stats)
	seq := m.seq.Load()
	idx := xrand.Intn(len(seq.chunks))
	c := seq.chunks[idx].cell
	v, ok := tx.Get(c)
	if !ok {
		return nil
	}
	cur := v.(uint32)
	if uint64(cur)+uint64(delta) > splittable.MaxU32 {
		return splittable.ErrOverflow
	}
	tx.Set(c, cur+delta)
	return nil
}

// Sub walks the chunk vector starting from a uniformly random index, pulling
// delta out of however many chunks it takes, per spec §4.3:
//   - if a chunk holds more than what's left to pull, take it and stop;
//   - if it holds some but not enough, zero it and continue;
//   - if it holds nothing, continue.
//
// If the walk exhausts every chunk without satisfying delta, the whole
// attempt fails with ErrInsufficientValue and nothing is written.
func (m *MRV) Sub(tx *stm.Txn, delta uint32) error {
	installHooks(tx, &m.stats)
	seq := m.seq.Load()
	n := len(seq.chunks)
	start := xrand.Intn(n)
	remaining := delta
	for i := 0; i < n; i++ {
		c := seq.chunks[(start+i)%n].cell
		v, ok := tx.Get(c)
		if !ok {
			return nil
		}
		cur := v.(uint32)
		if cur > remaining {
			tx.Set(c, cur-remaining)
			return nil
		}
		if cur > 0 {
			tx.Set(c, uint32(0))
			remaining -= cur
			if remaining == 0 {
				return nil
			}
		}
	}
	tx.MarkNoStock()
	return splittable.ErrInsufficientValue
}

// AddNodes grows the chunk vector by
// min(ceil(1 + size*abortRate), MaxNodes-size) zero-valued chunks and
// publishes the extended sequence. It is a no-op (ErrBoundReached) if the
// vector is already at MaxNodes.
func (m *MRV) AddNodes(abortRate float64) error {
	old := m.seq.Load()
	size := len(old.chunks)
	if size >= MaxNodes {
		return splittable.ErrBoundReached
	}
	grow := int(math.Ceil(1 + float64(size)*abortRate))
	if grow < 1 {
		grow = 1
	}
	if room := MaxNodes - size; grow > room {
		grow = room
	}
	next := make([]*chunk, size, size+grow)
	copy(next, old.chunks)
	for i := 0; i < grow; i++ {
		next = append(next, newChunk(0))
	}
	m.seq.Store(&sequence{chunks: next})
	return nil
}

// RemoveNode shrinks the chunk vector by one, as an irrevocable transaction:
// the last chunk's value is zeroed (so concurrent writers targeting it
// conflict rather than losing an update) and transferred whole to a
// uniformly chosen surviving chunk, then the truncated sequence is
// published. A no-op (ErrBoundReached) below two chunks.
func (m *MRV) RemoveNode() error {
	old := m.seq.Load()
	n := len(old.chunks)
	if n < 2 {
		return splittable.ErrBoundReached
	}
	last := old.chunks[n-1]
	return stm.RunLocked(func(tx *stm.Txn) error {
		v, ok := tx.Get(last.cell)
		if !ok {
			return nil
		}
		drained := v.(uint32)
		tx.Set(last.cell, uint32(0))
		if drained > 0 {
			idx := xrand.Intn(n - 1)
			target := old.chunks[idx].cell
			tv, ok := tx.Get(target)
			if !ok {
				return nil
			}
			cur := tv.(uint32)
			sum := uint64(cur) + uint64(drained)
			if sum > splittable.MaxU32 {
				sum = splittable.MaxU32
			}
			tx.Set(target, uint32(sum))
		}
		next := make([]*chunk, n-1)
		copy(next, old.chunks[:n-1])
		m.seq.Store(&sequence{chunks: next})
		return nil
	})
}

// Balance redistributes chunk values without changing their sum, per the
// selected strategy. It is a no-op when the vector has fewer than two
// chunks or the strategy is StrategyNone. Min-max writes nothing when the
// gap between its two chunks is at or below MinBalanceDiff; min-max-k always
// rewrites its 2k selected chunks.
func (m *MRV) Balance(strategy BalanceStrategy) error {
	seq := m.seq.Load()
	if len(seq.chunks) < 2 || strategy == StrategyNone {
		return splittable.ErrBoundReached
	}
	return stm.Atomically(func(tx *stm.Txn) error {
		switch strategy {
		case StrategyMinMax:
			return m.balanceMinMax(tx, seq)
		case StrategyMinMaxK:
			return m.balanceMinMaxK(tx, seq)
		default:
			return splittable.ErrTransitionFailed
		}
	})
}

func (m *MRV) balanceMinMax(tx *stm.Txn, seq *sequence) error {
	values := make([]uint32, len(seq.chunks))
	minIdx, maxIdx := 0, 0
	for i, c := range seq.chunks {
		v, ok := tx.Get(c.cell)
		if !ok {
			return nil
		}
		values[i] = v.(uint32)
		if values[i] < values[minIdx] {
			minIdx = i
		}
		if values[i] > values[maxIdx] {
			maxIdx = i
		}
	}
	if minIdx == maxIdx {
		return nil
	}
	diff := int64(values[maxIdx]) - int64(values[minIdx])
	if diff <= MinBalanceDiff {
		return nil
	}
	total := values[maxIdx] + values[minIdx]
	half := total / 2
	remainder := total - half // goes to the min index
	tx.Set(seq.chunks[maxIdx].cell, half)
	tx.Set(seq.chunks[minIdx].cell, remainder)
	return nil
}

// kForSize picks k, the number of smallest/largest chunks min-max-k
// equalizes, per the table in spec §4.3.
func kForSize(n int) int {
	switch {
	case n < 4:
		return 1
	case n <= 16:
		return 2
	case n < 64:
		return max(1, n/8)
	default:
		return max(1, n/16)
	}
}

func (m *MRV) balanceMinMaxK(tx *stm.Txn, seq *sequence) error {
	n := len(seq.chunks)
	values := make([]uint32, n)
	for i, c := range seq.chunks {
		v, ok := tx.Get(c.cell)
		if !ok {
			return nil
		}
		values[i] = v.(uint32)
	}
	k := kForSize(n)
	if 2*k > n {
		k = n / 2
	}
	if k < 1 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// Sort every index by value and take the k smallest and k largest; n is
	// bounded by MaxNodes so this stays cheap relative to the transaction.
	sortByValue(idx, values)
	smallest := idx[:k]
	largest := idx[n-k:]

	var sum uint64
	for _, i := range smallest {
		sum += uint64(values[i])
	}
	for _, i := range largest {
		sum += uint64(values[i])
	}
	group := append(append([]int{}, smallest...), largest...)
	share := uint32(sum / uint64(len(group)))
	remainder := uint32(sum - uint64(share)*uint64(len(group)))
	for j, i := range group {
		v := share
		if j == 0 {
			v += remainder
		}
		tx.Set(seq.chunks[i].cell, v)
	}
	return nil
}

// sortByValue sorts idx (a permutation of 0..len(values)-1) ascending by
// values[idx[i]], insertion-sort style: simple, and fine for the small,
// bounded chunk counts this runs over.
func sortByValue(idx []int, values []uint32) {
	for i := 1; i < len(idx); i++ {
		j := i
		for j > 0 && values[idx[j-1]] > values[idx[j]] {
			idx[j-1], idx[j] = idx[j], idx[j-1]
			j--
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
