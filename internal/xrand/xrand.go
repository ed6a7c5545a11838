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

// Package xrand provides a lock-free, uniform random index source for the
// splittable counters. MRV relies on it to spread add/sub across chunks
// without re-creating the hotspot a single shared cell has; biasing any
// index here biases which chunk gets hot.
package xrand

import (
	"sync"
	"time"
)

// rng64 is a xorshift64* generator, cheap enough to reseed per goroutine via
// a sync.Pool rather than paying for a mutex or a full per-goroutine slot.
type rng64 struct{ x uint64 }

func (r *rng64) next() uint64 {
	x := r.x
	if x == 0 {
		x = uint64(time.Now().UnixNano())
	}
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.x = x
	return x * 2685821657736338717
}

var pool sync.Pool

func get() *rng64 {
	if p := pool.Get(); p != nil {
		return p.(*rng64)
	}
	return &rng64{x: uint64(time.Now().UnixNano())}
}

// Intn returns a uniform random integer in [0, n). It panics if n <= 0.
func Intn(n int) int {
	if n <= 0 {
		panic("xrand: Intn called with n <= 0")
	}
	r := get()
	x := r.next()
	pool.Put(r)
	return int(x % uint64(n))
}

// Range returns a uniform random integer in [min, max], inclusive. It panics
// if max < min.
func Range(min, max int) int {
	if max < min {
		panic("xrand: Range called with max < min")
	}
	return min + Intn(max-min+1)
}
