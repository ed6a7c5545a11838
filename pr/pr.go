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

// Package pr is the phase-reconciled splittable layout: a counter that
// toggles between one shared cell (Unsplit) and one private cell per
// registered worker (Split). Writes in the Split state never cross lanes;
// a read while split blocks (stm.Txn.Retry) until a reconcile folds the
// lanes back into a single cell.
package pr

import (
	"sync"
	"sync/atomic"

	"splittable"
	"splittable/stats"
	"splittable/stm"
)

// numWorkers is fixed once by GlobalInit, per spec §4.4: "N = number of
// workers, fixed at global init". Behavior is undefined if more than N
// distinct workers call ThreadInit.
var numWorkers atomic.Uint32

// GlobalInit fixes the number of worker lanes every PR counter splits into.
// Must be called once before any transaction touches a PR counter.
func GlobalInit(n uint32) { numWorkers.Store(n) }

// SetNumThreads is equivalent to GlobalInit, kept as a separate name for
// call sites that think in terms of "thread count" rather than "global
// init", per spec's external interface table.
func SetNumThreads(n uint32) { GlobalInit(n) }

// NumWorkers returns the worker-lane count fixed by the last GlobalInit.
func NumWorkers() uint32 { return numWorkers.Load() }

var (
	threadIDMu  sync.Mutex
	threadIDSeq uint32
)

// ThreadID is a process-local identity a worker goroutine holds onto (Go has
// no native goroutine-local storage) and passes into ThreadInit, directly or
// through Bind. Callers that pass the same *ThreadID every time get the same
// dense id back.
type ThreadID struct {
	id  uint32
	set bool
}

// ThreadInit assigns the next dense id (0, 1, 2, ... in process-wide order)
// to tid on its first use and returns it on every subsequent call. The id is
// not bounded by the worker count; Add and Sub map it onto a lane modulo the
// number of lanes.
func ThreadInit(tid *ThreadID) uint32 {
	if tid.set {
		return tid.id
	}
	threadIDMu.Lock()
	defer threadIDMu.Unlock()
	if tid.set {
		return tid.id
	}
	tid.id = threadIDSeq
	threadIDSeq++
	tid.set = true
	return tid.id
}

// body is the PR counter's physical layout at a point in time: either a
// single shared cell, or one cell per worker lane. isSplit is itself a
// transactional Var so readers observe (isSplit, body) as one consistent
// pair, per spec §3.
type body struct {
	single *stm.Var   // valid when !split
	lanes  []*stm.Var // valid when split, len == N at the time of split
}

// PR is a splittable counter that toggles between Unsplit and Split.
type PR struct {
	id      uint32
	isSplit *stm.Var // bool, read/written inside transactions
	b       atomic.Pointer[body]
	stats   stats.Word64

	// splitFlag mirrors isSplit for the manager's advisory, non-transactional
	// IsSplit() check. It is only ever written immediately after a Split or
	// Reconcile RunLocked transaction commits, so it can never observe a
	// torn intermediate state.
	splitFlag atomic.Bool
}

// NewInstance constructs a PR counter in the Unsplit state holding initial.
func NewInstance(initial uint32) *PR {
	p := &PR{id: splittable.NewID(), isSplit: stm.NewVar(false)}
	p.b.Store(&body{single: stm.NewVar(initial)})
	return p
}

// DeleteInstance is a hook point for callers that also deregister the
// counter from its manager.
func DeleteInstance(*PR) {}

// ID returns the counter's stable identity.
func (p *PR) ID() uint32 { return p.id }

// Stats exposes the counter's rolling stat window to the manager's phase task.
func (p *PR) Stats() *stats.Word64 { return &p.stats }

func installHooks(tx *stm.Txn, st *stats.Word64) {
	tx.OnFail(func() {
		stats.RecordAbort()
		if tx.NoStock() {
			st.IncNoStock()
		} else {
			st.IncAbort()
		}
	})
	tx.After(func() {
		stats.RecordCommit()
		st.IncCommit()
	})
}

// Read returns the single cell's value when Unsplit. While Split it blocks
// (stm retry) rather than returning a fused value, per spec §4.4; every
// blocked attempt increments the counter's waiting tally so the manager can
// decide to reconcile.
func (p *PR) Read(tx *stm.Txn) (uint32, error) {
	installHooks(tx, &p.stats)
	v, ok := tx.Get(p.isSplit)
	if !ok {
		return 0, nil
	}
	if v.(bool) {
		p.stats.IncWaiting()
		tx.Retry()
		return 0, nil
	}
	b := p.b.Load()
	cv, ok := tx.Get(b.single)
	if !ok {
		return 0, nil
	}
	return cv.(uint32), nil
}

// Add writes single+delta when Unsplit, or chunks[threadID]+delta when
// Split, so concurrent workers never conflict on the happy path.
func (p *PR) Add(tx *stm.Txn, delta uint32, threadID uint32) error {
	installHooks(tx, &p.stats)
	v, ok := tx.Get(p.isSplit)
	if !ok {
		return nil
	}
	b := p.b.Load()
	cell := b.single
	if v.(bool) {
		cell = b.lanes[threadID%uint32(len(b.lanes))]
	}
	cv, ok := tx.Get(cell)
	if !ok {
		return nil
	}
	cur := cv.(uint32)
	if uint64(cur)+uint64(delta) > splittable.MaxU32 {
		return splittable.ErrOverflow
	}
	tx.Set(cell, cur+delta)
	return nil
}

// Sub writes single-delta or chunks[threadID]-delta. A drained lane never
// borrows from another lane: it fails with ErrInsufficientValue and relies
// on the manager's phase loop to reconcile, per spec §4.4.
func (p *PR) Sub(tx *stm.Txn, delta uint32, threadID uint32) error {
	installHooks(tx, &p.stats)
	v, ok := tx.Get(p.isSplit)
	if !ok {
		return nil
	}
	b := p.b.Load()
	cell := b.single
	if v.(bool) {
		cell = b.lanes[threadID%uint32(len(b.lanes))]
	}
	cv, ok := tx.Get(cell)
	if !ok {
		return nil
	}
	cur := cv.(uint32)
	if cur < delta {
		tx.MarkNoStock()
		return splittable.ErrInsufficientValue
	}
	tx.Set(cell, cur-delta)
	return nil
}

// Split distributes the current single value as evenly as possible over N
// worker lanes (remainder to lane 0) and flips isSplit to true. It is an
// irrevocable transaction: spec §4.4 requires split/reconcile to be
// atomic, all-or-nothing state changes.
func (p *PR) Split() error {
	n := numWorkers.Load()
	if n == 0 {
		return splittable.ErrTransitionFailed
	}
	return stm.RunLocked(func(tx *stm.Txn) error {
		sv, ok := tx.Get(p.isSplit)
		if !ok {
			return nil
		}
		if sv.(bool) {
			return splittable.ErrTransitionFailed
		}
		b := p.b.Load()
		cv, ok := tx.Get(b.single)
		if !ok {
			return nil
		}
		total := cv.(uint32)
		lanes := make([]*stm.Var, n)
		share := total / n
		remainder := total - share*n
		for i := uint32(0); i < n; i++ {
			v := share
			if i == 0 {
				v += remainder
			}
			lanes[i] = stm.NewVar(v)
		}
		// Keep the single cell in the new body: a transaction that still sees
		// isSplit=false uses it, and its write conflicts with this one.
		p.b.Store(&body{single: b.single, lanes: lanes})
		tx.Set(p.isSplit, true)
		tx.After(func() { p.splitFlag.Store(true) })
		return nil
	})
}

// Reconcile sums every lane into a fresh single cell and flips isSplit to
// false. Irrevocable for the same reason Split is.
func (p *PR) Reconcile() error {
	return stm.RunLocked(func(tx *stm.Txn) error {
		sv, ok := tx.Get(p.isSplit)
		if !ok {
			return nil
		}
		if !sv.(bool) {
			return splittable.ErrTransitionFailed
		}
		b := p.b.Load()
		var sum uint64
		for _, lane := range b.lanes {
			v, ok := tx.Get(lane)
			if !ok {
				return nil
			}
			sum += uint64(v.(uint32))
		}
		if sum > splittable.MaxU32 {
			sum = splittable.MaxU32
		}
		// Keep the lanes in the new body: a transaction that still sees
		// isSplit=true uses them, and a re-run of this body sums them again.
		p.b.Store(&body{single: stm.NewVar(uint32(sum)), lanes: b.lanes})
		tx.Set(p.isSplit, false)
		tx.After(func() { p.splitFlag.Store(false) })
		return nil
	})
}

// IsSplit reports the counter's current state without going through a host
// transaction; used by the manager's phase loop to decide which transition
// to attempt next. The authoritative, transactionally-consistent state is
// still the isSplit Var observed by Read/Add/Sub.
func (p *PR) IsSplit() bool {
	return p.splitFlag.Load()
}

// Worker binds a PR counter to one goroutine's thread identity so the pair
// satisfies splittable.Splittable: Go has no thread-local storage, so the
// per-worker lane that spec §4.4 threads through Add/Sub has to be resolved
// from somewhere, and a Worker is where a client goroutine keeps it. Each
// worker goroutine should construct exactly one Worker (via Bind) per PR
// counter it touches and reuse it for every transaction attempt.
type Worker struct {
	pr  *PR
	tid *ThreadID
}

var _ splittable.Splittable = (*Worker)(nil)

// Bind pairs this counter with tid, registering tid's dense thread id (via
// ThreadInit) lazily on first use.
func (p *PR) Bind(tid *ThreadID) *Worker { return &Worker{pr: p, tid: tid} }

// Read delegates to the bound counter; PR's read does not depend on thread
// identity.
func (w *Worker) Read(tx *stm.Txn) (uint32, error) { return w.pr.Read(tx) }

// Add delegates to the bound counter's lane for this worker's thread id.
func (w *Worker) Add(tx *stm.Txn, delta uint32) error {
	return w.pr.Add(tx, delta, ThreadInit(w.tid))
}

// Sub delegates to the bound counter's lane for this worker's thread id.
func (w *Worker) Sub(tx *stm.Txn, delta uint32) error {
	return w.pr.Sub(tx, delta, ThreadInit(w.tid))
}
