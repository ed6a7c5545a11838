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
	"sync"
	"testing"
	"time"

	"splittable/mrv"
	"splittable/pr"
	"splittable/stm"
)

// Test_MRVManager_GrowsUnderSustainedAborts covers testable property 8's MRV
// half: forcing a high abort rate for one adjust window strictly grows size.
func Test_MRVManager_GrowsUnderSustainedAborts(t *testing.T) {
	c := mrv.NewInstance(0)
	mgr := NewMRVManager(2, mrv.StrategyMinMax)
	defer mgr.Stop()
	mgr.Register(c)

	startSize := c.Size()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	const contenders = 16
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = stm.Atomically(func(tx *stm.Txn) error { return c.Add(tx, 1) })
				}
			}
		}()
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.Size() > startSize {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(stop)
	wg.Wait()

	if c.Size() <= startSize {
		t.Fatalf("expected chunk count to grow under sustained contention, stayed at %d", c.Size())
	}
}

func Test_PRManager_SplitsUnderSustainedAborts(t *testing.T) {
	pr.GlobalInit(4)
	c := pr.NewInstance(1000)
	mgr := NewPRManager(2)
	defer mgr.Stop()
	mgr.Register(c)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	const contenders = 16
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func(n int) {
			defer wg.Done()
			var id pr.ThreadID
			w := c.Bind(&id)
			for {
				select {
				case <-stop:
					return
				default:
					_ = stm.Atomically(func(tx *stm.Txn) error { return w.Add(tx, 1) })
				}
			}
		}(i)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsSplit() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(stop)
	wg.Wait()

	if !c.IsSplit() {
		t.Fatalf("expected PR counter to split under sustained single-cell contention")
	}
}

func Test_Dispatcher_DeliversDispatchedJobs(t *testing.T) {
	var mu sync.Mutex
	seenBy := map[uint32]int{}
	d := newDispatcher(4, func(id uint32) {
		mu.Lock()
		seenBy[id]++
		mu.Unlock()
	})
	defer d.stop()

	for round := 0; round < 50; round++ {
		for id := uint32(0); id < 10; id++ {
			d.dispatch(id)
		}
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, n := range seenBy {
		total += n
	}
	if total == 0 {
		t.Fatalf("dispatcher delivered no jobs")
	}
}
