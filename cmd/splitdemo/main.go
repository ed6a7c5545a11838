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

// Package main drives a small, runnable demonstration of the three
// splittable counter variants under synthetic contention: N worker
// goroutines hammer add/sub against a Single, an MRV and a PR counter at
// once, while their managers adapt layout in the background, and the demo
// periodically prints the Single and MRV values (the PR value is not read,
// since a read blocks while the counter is split) plus the observed shape
// (MRV chunk count, PR split state), the global tallies and the managers'
// timing averages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"splittable/manager"
	"splittable/mrv"
	"splittable/pr"
	"splittable/single"
	"splittable/stats"
	"splittable/stm"
)

func main() {
	workers := flag.Int("workers", 8, "number of contending worker goroutines per variant")
	duration := flag.Duration("duration", 20*time.Second, "how long to run the contention workload before stopping")
	reportInterval := flag.Duration("report_interval", 2*time.Second, "how often to print a status line")
	initial := flag.Uint64("initial", 0, "initial value for every counter")
	managerPool := flag.Int("manager_workers", 4, "goroutines backing each manager's job dispatcher")
	balanceStrategy := flag.String("balance_strategy", "minmax", "MRV balance strategy: none, minmax, minmax_k")
	flag.Parse()

	strategy := mrv.StrategyMinMax
	switch *balanceStrategy {
	case "none":
		strategy = mrv.StrategyNone
	case "minmax_k":
		strategy = mrv.StrategyMinMaxK
	}

	pr.GlobalInit(uint32(*workers))

	singleCounter := single.NewInstance(uint32(*initial))
	mrvCounter := mrv.NewInstance(uint32(*initial))
	prCounter := pr.NewInstance(uint32(*initial))

	mrvMgr := manager.NewMRVManager(*managerPool, strategy)
	prMgr := manager.NewPRManager(*managerPool)
	mrvMgr.Register(mrvCounter)
	prMgr.Register(prCounter)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	var wg sync.WaitGroup
	runWorkers(ctx, &wg, *workers, "single", func(tid uint32) func() {
		return func() {
			_ = stm.Atomically(func(tx *stm.Txn) error {
				if rand.Intn(2) == 0 {
					return singleCounter.Add(tx, 1)
				}
				return singleCounter.Sub(tx, 1)
			})
		}
	})
	runWorkers(ctx, &wg, *workers, "mrv", func(tid uint32) func() {
		return func() {
			_ = stm.Atomically(func(tx *stm.Txn) error {
				if rand.Intn(2) == 0 {
					return mrvCounter.Add(tx, 1)
				}
				return mrvCounter.Sub(tx, 1)
			})
		}
	})
	runWorkers(ctx, &wg, *workers, "pr", func(tid uint32) func() {
		worker := prCounter.Bind(&pr.ThreadID{})
		return func() {
			_ = stm.Atomically(func(tx *stm.Txn) error {
				if rand.Intn(2) == 0 {
					return worker.Add(tx, 1)
				}
				return worker.Sub(tx, 1)
			})
		}
	})

	report(ctx, *reportInterval, singleCounter, mrvCounter, prCounter, mrvMgr, prMgr)

	wg.Wait()
	mrvMgr.Stop()
	prMgr.Stop()
	fmt.Println("splitdemo: stopped")
}

// runWorkers starts n goroutines, each assigned a distinct dense id. newOp is
// called once per goroutine to build its op, so per-goroutine setup (such as
// binding one stable pr.ThreadID) happens exactly once rather than on every
// iteration; op is then invoked repeatedly until ctx is done. Modeled on the
// teacher's worker-pool loop (internal/ratelimiter/core/worker.go),
// generalized from one fixed background task to an arbitrary per-variant
// contention source.
func runWorkers(ctx context.Context, wg *sync.WaitGroup, n int, label string, newOp func(tid uint32) func()) {
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tid uint32) {
			defer wg.Done()
			op := newOp(tid)
			for {
				select {
				case <-ctx.Done():
					return
				default:
					op()
				}
			}
		}(uint32(i))
	}
	_ = label
}

func report(ctx context.Context, interval time.Duration, s *single.Single, m *mrv.MRV, p *pr.PR, mrvMgr *manager.MRVManager, prMgr *manager.PRManager) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv, err := readSingle(s)
			if err != nil {
				log.Printf("single read: %v", err)
			}
			mv, err := readMRV(m)
			if err != nil {
				log.Printf("mrv read: %v", err)
			}
			aborts, commits := stats.GlobalStats()
			fmt.Printf(
				"single=%d mrv=%d (chunks=%d) pr_split=%v global(aborts=%d commits=%d) avg_adjust=%s avg_balance=%s avg_phase=%s\n",
				sv, mv, m.Size(), p.IsSplit(), aborts, commits,
				mrvMgr.GetAvgAdjustInterval(), mrvMgr.GetAvgBalanceInterval(), prMgr.GetAvgPhaseInterval(),
			)
		}
	}
}

func readSingle(s *single.Single) (uint32, error) {
	var v uint32
	err := stm.Atomically(func(tx *stm.Txn) error {
		val, rerr := s.Read(tx)
		v = val
		return rerr
	})
	return v, err
}

func readMRV(m *mrv.MRV) (uint32, error) {
	var v uint32
	err := stm.Atomically(func(tx *stm.Txn) error {
		val, rerr := m.Read(tx)
		v = val
		return rerr
	})
	return v, err
}
