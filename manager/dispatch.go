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
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// dispatcher fans jobs (identified by a counter id) out to a small, fixed
// pool of worker goroutines using rendezvous (highest-random-weight)
// hashing, so a given counter's jobs always land on the same worker -
// bounding fan-out and keeping a counter's own jobs ordered relative to each
// other without a global queue. Spec §4.6 only requires that jobs across
// distinct counters be unordered and safely concurrent; sticky-per-counter
// dispatch satisfies that while avoiding the thundering-herd a naive
// goroutine-per-counter fan-out would cause at large counter counts.
type dispatcher struct {
	rv      *rendezvous.Rendezvous
	workers []chan uint32
	wg      sync.WaitGroup
}

func newDispatcher(n int, run func(id uint32)) *dispatcher {
	if n < 1 {
		n = 1
	}
	nodes := make([]string, n)
	for i := range nodes {
		nodes[i] = strconv.Itoa(i)
	}
	d := &dispatcher{
		rv:      rendezvous.New(nodes, xxhash.Sum64String),
		workers: make([]chan uint32, n),
	}
	for i := range d.workers {
		ch := make(chan uint32, 64)
		d.workers[i] = ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for id := range ch {
				run(id)
			}
		}()
	}
	return d
}

// dispatch enqueues id on the worker rendezvous hashing selects for it,
// dropping the job rather than blocking if that worker is backed up: a
// missed balance/adjust pass this interval is corrected by the next one.
func (d *dispatcher) dispatch(id uint32) {
	node := d.rv.Get(strconv.FormatUint(uint64(id), 10))
	idx, err := strconv.Atoi(node)
	if err != nil || idx < 0 || idx >= len(d.workers) {
		return
	}
	select {
	case d.workers[idx] <- id:
	default:
	}
}

// stop closes every worker channel and waits for the goroutines to drain.
func (d *dispatcher) stop() {
	for _, ch := range d.workers {
		close(ch)
	}
	d.wg.Wait()
}
