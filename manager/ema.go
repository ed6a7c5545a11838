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
	"math"
	"sync/atomic"
	"time"
)

// emaWeight is the smoothing factor for the periodic-task timing averages
// exposed by GetAvgAdjustInterval/GetAvgBalanceInterval/GetAvgPhaseInterval:
// low enough that one slow pass doesn't dominate the reported average, high
// enough that the average tracks a sustained shift within a handful of
// intervals.
const emaWeight = 0.2

// observeEMA folds d into the moving average packed into acc, storing the
// result as raw float64 bits since atomic.Uint64 has no float counterpart.
func observeEMA(acc *atomic.Uint64, d time.Duration) {
	for {
		old := acc.Load()
		oldAvg := math.Float64frombits(old)
		var next float64
		if oldAvg == 0 {
			next = float64(d)
		} else {
			next = oldAvg + emaWeight*(float64(d)-oldAvg)
		}
		if acc.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// loadEMA reads the current moving average as a Duration.
func loadEMA(acc *atomic.Uint64) time.Duration {
	return time.Duration(math.Float64frombits(acc.Load()))
}
