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

package xrand

import (
	"math"
	"testing"
)

// Test_Intn_UniformOverRestingDistribution covers testable property 9: over M
// calls on n buckets, each bucket is selected M/n +/- O(sqrt(M)) times.
func Test_Intn_UniformOverRestingDistribution(t *testing.T) {
	const n = 8
	const m = 80_000
	counts := make([]int, n)
	for i := 0; i < m; i++ {
		counts[Intn(n)]++
	}
	mean := float64(m) / float64(n)
	tolerance := 6 * math.Sqrt(mean)
	for i, c := range counts {
		dev := math.Abs(float64(c) - mean)
		if dev > tolerance {
			t.Fatalf("bucket %d: got %d, mean %.1f, deviation %.1f exceeds tolerance %.1f", i, c, mean, dev, tolerance)
		}
	}
}

func Test_Intn_PanicsOnNonPositiveN(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Intn(0) to panic")
		}
	}()
	Intn(0)
}

func Test_Range_InclusiveBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := Range(3, 5)
		if v < 3 || v > 5 {
			t.Fatalf("Range(3,5) returned %d, out of bounds", v)
		}
	}
}

func Test_Range_PanicsWhenMaxLessThanMin(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Range(5,3) to panic")
		}
	}()
	Range(5, 3)
}
