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

	"splittable/mrv"
	"splittable/stats"
)

// Tuning constants shared by every MRV manager (spec §6).
const (
	minAbortRate    = 0.10
	maxAbortRate    = 0.50
	adjustInterval  = 1 * time.Second
	balanceInterval = 100 * time.Millisecond
)

// MRVManager watches every live MRV counter and grows, shrinks or rebalances
// its chunk vector in response to the abort/commit rate it observes, the
// way the teacher's core.Worker ticks a commit cycle against its store
// (internal/ratelimiter/core/worker.go) - generalized here from one fixed
// cycle into two independently-paced periodic tasks, since adjust and
// balance run at different cadences (spec §4.3/§6).
type MRVManager struct {
	reg      *Registry[mrv.MRV]
	strategy mrv.BalanceStrategy
	adjustD  *dispatcher
	balanceD *dispatcher

	stopAdjust  chan struct{}
	stopBalance chan struct{}
	done        chan struct{}

	adjustEMA  atomic.Uint64 // avg adjust-pass duration, nanoseconds, packed as float64 bits via math.Float64bits
	balanceEMA atomic.Uint64
}

// NewMRVManager starts a manager with workers worker goroutines backing its
// job dispatchers, using strategy for every balance pass.
func NewMRVManager(workers int, strategy mrv.BalanceStrategy) *MRVManager {
	m := &MRVManager{
		reg:         NewRegistry[mrv.MRV](),
		strategy:    strategy,
		stopAdjust:  make(chan struct{}),
		stopBalance: make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.adjustD = newDispatcher(workers, m.runAdjust)
	m.balanceD = newDispatcher(workers, m.runBalance)
	go m.loop()
	return m
}

// Register adds c to the set of counters this manager adjusts and balances.
func (m *MRVManager) Register(c *mrv.MRV) { m.reg.Register(c.ID(), c) }

// Deregister removes c; its goroutine-owned handle may still outlive this
// call; the registry only drops its own weak reference.
func (m *MRVManager) Deregister(c *mrv.MRV) { m.reg.Deregister(c.ID()) }

func (m *MRVManager) loop() {
	adjustTicker := time.NewTicker(adjustInterval)
	balanceTicker := time.NewTicker(balanceInterval)
	defer adjustTicker.Stop()
	defer balanceTicker.Stop()
	defer close(m.done)
	for {
		select {
		case <-adjustTicker.C:
			start := time.Now()
			m.reg.Scan(func(id uint32, _ *mrv.MRV) { m.adjustD.dispatch(id) })
			observeEMA(&m.adjustEMA, time.Since(start))
			stats.PromManagerPhaseSeconds.WithLabelValues("mrv", "adjust").Observe(time.Since(start).Seconds())
		case <-balanceTicker.C:
			start := time.Now()
			m.reg.Scan(func(id uint32, _ *mrv.MRV) { m.balanceD.dispatch(id) })
			observeEMA(&m.balanceEMA, time.Since(start))
			stats.PromManagerPhaseSeconds.WithLabelValues("mrv", "balance").Observe(time.Since(start).Seconds())
		case <-m.stopAdjust:
			return
		}
	}
}

// runAdjust implements spec §4.3's adjust task for one counter: drain its
// rolling (aborts, commits) window and grow or shrink the chunk vector
// according to the observed abort rate.
func (m *MRVManager) runAdjust(id uint32) {
	target, ok := m.reg.Lookup(id)
	if !ok {
		return
	}
	aborts, commits := target.Stats().ReadReset()
	switch {
	case commits == 0:
		_ = target.RemoveNode()
	default:
		rate := float64(aborts) / float64(uint64(aborts)+uint64(commits))
		switch {
		case rate > maxAbortRate:
			_ = target.AddNodes(rate)
		case rate < minAbortRate && target.Size() > 1:
			_ = target.RemoveNode()
		}
	}
	stats.PromMRVChunkCount.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(float64(target.Size()))
}

// runBalance implements spec §4.3's balance task for one counter.
func (m *MRVManager) runBalance(id uint32) {
	target, ok := m.reg.Lookup(id)
	if !ok {
		return
	}
	_ = target.Balance(m.strategy)
}

// Stop halts both periodic tasks and drains their dispatchers.
func (m *MRVManager) Stop() {
	close(m.stopAdjust)
	<-m.done
	m.adjustD.stop()
	m.balanceD.stop()
}

// GetAvgAdjustInterval reports the exponential moving average wall-clock
// duration of one adjust pass across every registered counter.
func (m *MRVManager) GetAvgAdjustInterval() time.Duration {
	return loadEMA(&m.adjustEMA)
}

// GetAvgBalanceInterval reports the exponential moving average wall-clock
// duration of one balance pass across every registered counter.
func (m *MRVManager) GetAvgBalanceInterval() time.Duration {
	return loadEMA(&m.balanceEMA)
}
