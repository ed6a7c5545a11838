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

package manager

import (
	"strconv"
	"sync/atomic"
	"time"

	"splittable/pr"
	"splittable/stats"
)

// prSplitThreshold is the abort rate a PR counter has to sustain while
// unsplit before the manager splits it into per-worker lanes (spec §6).
const prSplitThreshold = 0.65

// phaseInterval is how often the PR manager re-evaluates every registered
// counter's split/reconcile state (spec §6).
const phaseInterval = 20 * time.Millisecond

// PRManager runs the single periodic phase task spec §4.4 describes: drain
// each PR counter's rolling stat word and either split it (sustained high
// abort rate while unsplit) or reconcile it (any blocked reader, or any
// InsufficientValue abort, while split). Modeled on the same
// ticker-plus-dispatcher shape as MRVManager, collapsed to one task since PR
// has only one phase where MRV has two.
type PRManager struct {
	reg *Registry[pr.PR]
	d   *dispatcher

	stop chan struct{}
	done chan struct{}

	phaseEMA atomic.Uint64
}

// NewPRManager starts a manager with workers worker goroutines backing its
// job dispatcher.
func NewPRManager(workers int) *PRManager {
	m := &PRManager{
		reg:  NewRegistry[pr.PR](),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.d = newDispatcher(workers, m.runPhase)
	go m.loop()
	return m
}

// Register adds c to the set of counters this manager transitions.
func (m *PRManager) Register(c *pr.PR) { m.reg.Register(c.ID(), c) }

// Deregister removes c from management.
func (m *PRManager) Deregister(c *pr.PR) { m.reg.Deregister(c.ID()) }

func (m *PRManager) loop() {
	ticker := time.NewTicker(phaseInterval)
	defer ticker.Stop()
	defer close(m.done)
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			m.reg.Scan(func(id uint32, _ *pr.PR) { m.d.dispatch(id) })
			observeEMA(&m.phaseEMA, time.Since(start))
			stats.PromManagerPhaseSeconds.WithLabelValues("pr", "phase").Observe(time.Since(start).Seconds())
		case <-m.stop:
			return
		}
	}
}

// runPhase implements spec §4.4's try_transition logic for one counter:
// reconcile takes priority over split, since a split counter with waiting
// readers or stockouts should fold back before any new split decision makes
// sense.
func (m *PRManager) runPhase(id uint32) {
	target, ok := m.reg.Lookup(id)
	if !ok {
		return
	}
	aborts, noStock, commits, waiting := target.Stats().ReadReset()
	split := target.IsSplit()
	switch {
	case split && (waiting > 0 || noStock > 0):
		_ = target.Reconcile()
	case !split:
		total := uint64(aborts) + uint64(commits)
		if total == 0 {
			break
		}
		rate := float64(aborts) / float64(total)
		if rate > prSplitThreshold {
			_ = target.Split()
		}
	}
	splitVal := 0.0
	if target.IsSplit() {
		splitVal = 1.0
	}
	stats.PromPRSplit.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(splitVal)
}

// Stop halts the phase task and drains its dispatcher.
func (m *PRManager) Stop() {
	close(m.stop)
	<-m.done
	m.d.stop()
}

// GetAvgPhaseInterval reports the exponential moving average wall-clock
// duration of one phase pass across every registered counter.
func (m *PRManager) GetAvgPhaseInterval() time.Duration {
	return loadEMA(&m.phaseEMA)
}
