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

package mrv

import (
	"sync"
	"testing"

	"splittable"
	"splittable/stm"
)

func readMRV(t *testing.T, m *MRV) uint32 {
	t.Helper()
	var v uint32
	if err := stm.Atomically(func(tx *stm.Txn) error {
		got, err := m.Read(tx)
		v = got
		return err
	}); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	return v
}

// newFixed builds an MRV with the given initial per-chunk values, bypassing
// NewInstance's single-chunk construction, for scenario tests that need a
// specific starting shape (S4, S5, S6).
func newFixed(values ...uint32) *MRV {
	m := &MRV{id: splittable.NewID()}
	chunks := make([]*chunk, len(values))
	for i, v := range values {
		chunks[i] = newChunk(v)
	}
	m.seq.Store(&sequence{chunks: chunks})
	return m
}

func Test_Read_SumsAllChunks(t *testing.T) {
	m := newFixed(3, 0, 7, 0)
	if got := readMRV(t, m); got != 10 {
		t.Fatalf("got %d, want 10", got)
	}
}

// Test_Sub_Walk_S4 covers spec scenario S4: size 4, cells [3,0,7,0], sub(8).
func Test_Sub_Walk_S4(t *testing.T) {
	m := newFixed(3, 0, 7, 0)
	if err := stm.Atomically(func(tx *stm.Txn) error { return m.Sub(tx, 8) }); err != nil {
		t.Fatalf("sub(8) failed: %v", err)
	}
	if got := readMRV(t, m); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

// Test_Sub_Insufficient_S5 covers spec scenario S5.
func Test_Sub_Insufficient_S5(t *testing.T) {
	m := newFixed(2, 1, 1, 1) // sums to 5
	err := stm.Atomically(func(tx *stm.Txn) error { return m.Sub(tx, 6) })
	if err != splittable.ErrInsufficientValue {
		t.Fatalf("got err %v, want ErrInsufficientValue", err)
	}
	if got := readMRV(t, m); got != 5 {
		t.Fatalf("got %d, want 5 (unchanged)", got)
	}
}

// Test_Balance_MinMax_S6 covers spec scenario S6.
func Test_Balance_MinMax_S6(t *testing.T) {
	m := newFixed(100, 0, 0, 0)
	if err := m.Balance(StrategyMinMax); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if got := readMRV(t, m); got != 100 {
		t.Fatalf("balance changed the total: got %d, want 100", got)
	}
	values := chunkValues(t, m)
	if values[0] != 50 || values[1] != 50 {
		t.Fatalf("got %v, want [50 50 0 0] (or a permutation under the chosen tie-break)", values)
	}
}

func chunkValues(t *testing.T, m *MRV) []uint32 {
	t.Helper()
	seq := m.seq.Load()
	out := make([]uint32, len(seq.chunks))
	_ = stm.Atomically(func(tx *stm.Txn) error {
		for i, c := range seq.chunks {
			v, ok := tx.Get(c.cell)
			if !ok {
				return nil
			}
			out[i] = v.(uint32)
		}
		return nil
	})
	return out
}

func Test_AddNodes_GrowsAndPreservesSum(t *testing.T) {
	m := NewInstance(100)
	before := readMRV(t, m)
	if err := m.AddNodes(0.9); err != nil {
		t.Fatalf("add_nodes failed: %v", err)
	}
	if m.Size() < 2 {
		t.Fatalf("expected size to grow, got %d", m.Size())
	}
	if got := readMRV(t, m); got != before {
		t.Fatalf("add_nodes changed the total: got %d, want %d", got, before)
	}
}

func Test_AddNodes_NoOpAtMaxNodes(t *testing.T) {
	values := make([]uint32, MaxNodes)
	m := newFixed(values...)
	if err := m.AddNodes(1.0); err != splittable.ErrBoundReached {
		t.Fatalf("got err %v, want ErrBoundReached", err)
	}
	if m.Size() != MaxNodes {
		t.Fatalf("size changed past MaxNodes: got %d", m.Size())
	}
}

func Test_RemoveNode_ShrinksAndPreservesSum(t *testing.T) {
	m := newFixed(4, 6, 0)
	before := readMRV(t, m)
	if err := m.RemoveNode(); err != nil {
		t.Fatalf("remove_node failed: %v", err)
	}
	if m.Size() != 2 {
		t.Fatalf("got size %d, want 2", m.Size())
	}
	if got := readMRV(t, m); got != before {
		t.Fatalf("remove_node changed the total: got %d, want %d", got, before)
	}
}

func Test_RemoveNode_NoOpBelowTwoChunks(t *testing.T) {
	m := newFixed(7)
	if err := m.RemoveNode(); err != splittable.ErrBoundReached {
		t.Fatalf("got err %v, want ErrBoundReached", err)
	}
	if m.Size() != 1 {
		t.Fatalf("size changed at the floor: got %d", m.Size())
	}
}

// Test_ConcurrentAdd_ResizeInterleaved covers testable property 5: value
// equals the arithmetic total of committed adds even while AddNodes and
// Balance run concurrently with them.
func Test_ConcurrentAdd_ResizeInterleaved(t *testing.T) {
	m := NewInstance(0)
	const goroutines = 8
	const ops = 300
	stop := make(chan struct{})
	var resizer sync.WaitGroup
	resizer.Add(1)
	go func() {
		defer resizer.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.AddNodes(0.3)
				_ = m.Balance(StrategyMinMax)
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				_ = stm.Atomically(func(tx *stm.Txn) error { return m.Add(tx, 1) })
			}
		}()
	}
	wg.Wait()
	close(stop)
	resizer.Wait()

	want := uint32(goroutines * ops)
	if got := readMRV(t, m); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}
