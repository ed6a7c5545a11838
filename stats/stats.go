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

// Package stats holds the process-level abort/commit tallies shared by every
// splittable counter, plus the packed per-counter stat words used by the MRV
// and PR managers to drive adaptation. Counters are lock-free atomics to
// avoid allocation and locking on the hot path, the same discipline the
// teacher's core/metrics.go uses for its attempted/admits/refunds tallies.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalAborts  atomic.Uint64
	totalCommits atomic.Uint64
)

var (
	promTotalAborts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splittable_total_aborts",
		Help: "Total aborted transaction attempts across every splittable counter.",
	})
	promTotalCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splittable_total_commits",
		Help: "Total committed transactions across every splittable counter.",
	})
	// PromMRVChunkCount reports the live chunk count of an MRV counter. Exported
	// so the manager package's adjust task can set it without this package
	// depending on mrv or manager.
	PromMRVChunkCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "splittable_mrv_chunk_count",
		Help: "Number of chunks currently backing an MRV splittable counter.",
	}, []string{"counter_id"})
	// PromPRSplit reports 1 while a PR counter is split, 0 while unsplit.
	PromPRSplit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "splittable_pr_split",
		Help: "1 if the PR splittable counter is currently split across per-worker lanes, else 0.",
	}, []string{"counter_id"})
	// PromManagerPhaseSeconds records the wall-clock duration of one manager
	// periodic task iteration (adjust, balance, or phase), grouped by variant+task.
	PromManagerPhaseSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splittable_manager_phase_seconds",
		Help:    "Wall-clock duration of one manager periodic task iteration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant", "task"})
)

func init() {
	prometheus.MustRegister(promTotalAborts, promTotalCommits, PromMRVChunkCount, PromPRSplit, PromManagerPhaseSeconds)
}

// RecordAbort increments the process-wide abort tally. Called by every
// splittable operation's OnFail hook, per spec §4.5.
func RecordAbort() {
	totalAborts.Add(1)
	promTotalAborts.Inc()
}

// RecordCommit increments the process-wide commit tally. Called by every
// splittable operation's After hook, per spec §4.5.
func RecordCommit() {
	totalCommits.Add(1)
	promTotalCommits.Inc()
}

// GlobalStats returns the process-wide abort/commit tallies.
func GlobalStats() (aborts, commits uint64) {
	return totalAborts.Load(), totalCommits.Load()
}

// ResetGlobalStats zeroes the process-wide tallies.
func ResetGlobalStats() {
	totalAborts.Store(0)
	totalCommits.Store(0)
}

// Word32 packs an MRV counter's rolling (aborts, commits) window into one
// atomic 32-bit word, per spec §3: aborts:u16 | commits:u16.
type Word32 struct {
	v atomic.Uint32
}

func pack32(aborts, commits uint16) uint32 {
	return uint32(aborts)<<16 | uint32(commits)
}

func unpack32(w uint32) (aborts, commits uint16) {
	return uint16(w >> 16), uint16(w)
}

// IncAbort increments the rolling abort count, saturating instead of
// wrapping if the 16-bit field is already at its maximum.
func (w *Word32) IncAbort() {
	for {
		old := w.v.Load()
		aborts, commits := unpack32(old)
		if aborts == ^uint16(0) {
			return
		}
		next := pack32(aborts+1, commits)
		if w.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// IncCommit increments the rolling commit count, saturating at the field max.
func (w *Word32) IncCommit() {
	for {
		old := w.v.Load()
		aborts, commits := unpack32(old)
		if commits == ^uint16(0) {
			return
		}
		next := pack32(aborts, commits+1)
		if w.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// ReadReset atomically reads the current window and resets it to zero, the
// operation the MRV manager's adjust task performs once per ADJUST_INTERVAL.
func (w *Word32) ReadReset() (aborts, commits uint16) {
	old := w.v.Swap(0)
	return unpack32(old)
}

// Word64 packs a PR counter's rolling stat window into one atomic 64-bit
// word, per spec §3: aborts:u16 | aborts_no_stock:u16 | commits:u16 | waiting:u16.
type Word64 struct {
	v atomic.Uint64
}

func pack64(aborts, noStock, commits, waiting uint16) uint64 {
	return uint64(aborts)<<48 | uint64(noStock)<<32 | uint64(commits)<<16 | uint64(waiting)
}

func unpack64(w uint64) (aborts, noStock, commits, waiting uint16) {
	return uint16(w >> 48), uint16(w >> 32), uint16(w >> 16), uint16(w)
}

func (w *Word64) incField(field int) {
	for {
		old := w.v.Load()
		a, n, c, wt := unpack64(old)
		switch field {
		case 0:
			if a == ^uint16(0) {
				return
			}
			a++
		case 1:
			if n == ^uint16(0) {
				return
			}
			n++
		case 2:
			if c == ^uint16(0) {
				return
			}
			c++
		case 3:
			if wt == ^uint16(0) {
				return
			}
			wt++
		}
		next := pack64(a, n, c, wt)
		if w.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// IncAbort increments the rolling ordinary-abort count.
func (w *Word64) IncAbort() { w.incField(0) }

// IncNoStock increments the rolling InsufficientValue-abort count.
func (w *Word64) IncNoStock() { w.incField(1) }

// IncCommit increments the rolling commit count.
func (w *Word64) IncCommit() { w.incField(2) }

// IncWaiting increments the rolling blocked-read count.
func (w *Word64) IncWaiting() { w.incField(3) }

// ReadReset atomically reads the current window and resets it to zero, the
// operation the PR manager's phase task performs once per PHASE_INTERVAL.
func (w *Word64) ReadReset() (aborts, noStock, commits, waiting uint16) {
	old := w.v.Swap(0)
	return unpack64(old)
}
