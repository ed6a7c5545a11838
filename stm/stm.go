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

// Package stm is a small software-transactional-memory runtime used by the
// splittable counters to give every read/add/sub operation snapshot
// isolation. It implements Transactional Locking II: a versioned write-lock
// per Var, a global version clock, optimistic reads with post-validation,
// and a lock-write-set/validate-read-set/commit sequence on write.
//
// On top of that base algorithm it adds what the splittable counters need
// and a minimal TL2 does not provide on its own: a blocking Retry (used by
// the PR counter's read while split), OnFail/After commit hooks (used to
// maintain the abort/commit tallies every splittable operation installs),
// and RunLocked irrevocable transactions (used by MRV's remove_node and PR's
// split/reconcile).
package stm

import (
	"sync"
	"sync/atomic"
)

// 1 bit for lock, 63 bits for version.
type versionedWriteLock uint64

func (l *versionedWriteLock) load() (locked bool, version uint64) {
	v := atomic.LoadUint64((*uint64)(l))
	locked = (v >> 63) > 0
	version = v & ((1 << 63) - 1)
	return
}

func (l *versionedWriteLock) tryAcquire() bool {
	v := atomic.LoadUint64((*uint64)(l))
	if (v >> 63) > 0 {
		return false
	}
	return atomic.CompareAndSwapUint64((*uint64)(l), v, v|(1<<63))
}

func (l *versionedWriteLock) commit(v uint64) {
	atomic.StoreUint64((*uint64)(l), v)
}

func (l *versionedWriteLock) release() {
	_, version := l.load()
	atomic.StoreUint64((*uint64)(l), version)
}

type versionClock struct{ v uint64 }

func (c *versionClock) load() uint64      { return atomic.LoadUint64(&c.v) }
func (c *versionClock) increment() uint64 { return atomic.AddUint64(&c.v, 1) }

var global versionClock

// wake is broadcast every time a transaction commits, so that transactions
// blocked in Retry re-run and observe the new state. It is a single global
// condition variable rather than a per-Var wait list: blocked transactions
// are rare (only PR's read-while-split path uses Retry) and re-running a
// speculative read is cheap relative to the time spent blocked.
var (
	wakeMu   sync.Mutex
	wakeCond = sync.NewCond(&wakeMu)
)

// irrevocableMu serializes RunLocked transactions against one another. It is
// not taken by ordinary Atomically transactions.
var irrevocableMu sync.Mutex

// Var is a single transactional memory cell.
type Var struct {
	lock versionedWriteLock
	val  any
}

// NewVar creates a transactional cell holding the given initial value.
func NewVar(v any) *Var { return &Var{val: v} }

// Txn carries one attempt's read-set, write-set and bookkeeping. A *Txn must
// never be retained past the body it was passed to.
type Txn struct {
	rv       uint64
	readSet  []*Var
	writeSet map[*Var]any
	locked   []*Var

	conflict bool // internal: optimistic read/commit validation failed, rerun silently
	blocked  bool // internal: body called Retry, block until something changes

	onFail  []func()
	onAfter []func()

	noStock bool // distinguishing flag for the InsufficientValue abort path (spec §4.5)
}

// Get performs a transactional read of v, returning the last value written
// by this transaction if v is already in the write-set. ok is false when the
// read observed a conflict; the caller must return from its body immediately
// in that case (further reads will also report !ok).
func (tx *Txn) Get(v *Var) (val any, ok bool) {
	if tx.conflict {
		return nil, false
	}
	if val, ok := tx.writeSet[v]; ok {
		return val, true
	}
	locked, version1 := v.lock.load()
	if locked || version1 > tx.rv {
		tx.abort()
		return nil, false
	}
	val = v.val
	locked, version2 := v.lock.load()
	if locked || version1 != version2 || version2 > tx.rv {
		tx.abort()
		return nil, false
	}
	tx.readSet = append(tx.readSet, v)
	return val, true
}

// Set performs a transactional write of v, visible to later Gets in the same
// attempt and published to other transactions only on commit.
func (tx *Txn) Set(v *Var, val any) {
	if tx.conflict {
		return
	}
	if tx.writeSet == nil {
		tx.writeSet = make(map[*Var]any, 4)
	}
	tx.writeSet[v] = val
}

// Retry blocks the whole transaction until some Var it has read changes,
// then re-runs the body from scratch. Used by PR's read in the Split state.
func (tx *Txn) Retry() { tx.blocked = true }

// MarkNoStock flags the current attempt's abort as an InsufficientValue
// failure rather than an ordinary conflict, so OnFail hooks can tell the two
// apart. PR's hooks record it as aborts_no_stock instead of a generic abort;
// MRV's and Single's hooks count it as an ordinary abort.
func (tx *Txn) MarkNoStock() { tx.noStock = true }

// NoStock reports whether MarkNoStock was called during this attempt.
func (tx *Txn) NoStock() bool { return tx.noStock }

// OnFail registers a callback invoked once for every aborted attempt of the
// enclosing Atomically/RunLocked call, including the attempt that ultimately
// fails with a terminal (non-retried) error.
func (tx *Txn) OnFail(f func()) { tx.onFail = append(tx.onFail, f) }

// After registers a callback invoked exactly once, after the enclosing
// transaction commits successfully.
func (tx *Txn) After(f func()) { tx.onAfter = append(tx.onAfter, f) }

func (tx *Txn) abort() {
	tx.conflict = true
}

func (tx *Txn) reset() {
	tx.rv = global.load()
	tx.readSet = tx.readSet[:0]
	tx.locked = tx.locked[:0]
	tx.conflict = false
	tx.blocked = false
	tx.noStock = false
	tx.onFail = nil
	tx.onAfter = nil
	clear(tx.writeSet)
}

// Atomically runs body against a consistent snapshot, retrying transparently
// on conflict and blocking on an explicit Retry. body returns a terminal
// error (e.g. Overflow, InsufficientValue) to abort the transaction and
// surface the failure to the caller without an automatic retry; it returns
// nil to request a commit.
func Atomically(body func(tx *Txn) error) error {
	tx := &Txn{rv: global.load()}
	for {
		err := runAttempt(tx, body)
		switch {
		case tx.conflict:
			runHooks(tx.onFail)
			tx.reset()
			continue
		case tx.blocked:
			waitForChange(tx)
			tx.reset()
			continue
		case err != nil:
			runHooks(tx.onFail)
			return err
		default:
			runHooks(tx.onAfter)
			return nil
		}
	}
}

// RunLocked runs body as an irrevocable transaction: serialized against every
// other RunLocked call so the runtime guarantees it will not itself cause or
// suffer a conflict with a concurrent irrevocable transaction. Used for
// administrative operations (MRV remove_node, PR split/reconcile). It is not
// serialized against ordinary Atomically transactions: a conflict with one
// of those aborts the RunLocked attempt and re-runs it like any other.
func RunLocked(body func(tx *Txn) error) error {
	irrevocableMu.Lock()
	defer irrevocableMu.Unlock()
	return Atomically(body)
}

func runAttempt(tx *Txn, body func(tx *Txn) error) error {
	err := body(tx)
	if tx.conflict || tx.blocked {
		return nil
	}
	if err != nil {
		return err
	}
	if len(tx.writeSet) == 0 {
		return nil
	}
	// Lock the write-set.
	if tx.locked == nil {
		tx.locked = make([]*Var, 0, len(tx.writeSet))
	}
	for v := range tx.writeSet {
		if !v.lock.tryAcquire() {
			releaseLocked(tx)
			tx.conflict = true
			return nil
		}
		tx.locked = append(tx.locked, v)
	}

	writeVersion := global.increment()

	// Validate the read-set, unless we are provably the only writer.
	if writeVersion != tx.rv+1 {
		for _, v := range tx.readSet {
			locked, version := v.lock.load()
			_, lockedByUs := tx.writeSet[v]
			if (locked && !lockedByUs) || version > tx.rv {
				releaseLocked(tx)
				tx.conflict = true
				return nil
			}
		}
	}

	for v, val := range tx.writeSet {
		v.val = val
		v.lock.commit(writeVersion)
	}
	tx.locked = tx.locked[:0]

	wakeMu.Lock()
	wakeCond.Broadcast()
	wakeMu.Unlock()
	return nil
}

func releaseLocked(tx *Txn) {
	for _, v := range tx.locked {
		v.lock.release()
	}
	tx.locked = tx.locked[:0]
}

// waitForChange blocks until the next commit broadcast, unless a Var in tx's
// read-set has already been committed past tx's read version, so a commit
// that landed between the body's reads and this wait is not missed.
func waitForChange(tx *Txn) {
	wakeMu.Lock()
	defer wakeMu.Unlock()
	for _, v := range tx.readSet {
		if _, version := v.lock.load(); version > tx.rv {
			return
		}
	}
	wakeCond.Wait()
}

func runHooks(hooks []func()) {
	for _, h := range hooks {
		h()
	}
}
