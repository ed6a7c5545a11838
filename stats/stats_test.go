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

package stats

import "testing"

func Test_GlobalStats_RecordAndReset(t *testing.T) {
	ResetGlobalStats()
	RecordAbort()
	RecordAbort()
	RecordCommit()
	aborts, commits := GlobalStats()
	if aborts != 2 || commits != 1 {
		t.Fatalf("got (aborts=%d commits=%d), want (2, 1)", aborts, commits)
	}
	ResetGlobalStats()
	aborts, commits = GlobalStats()
	if aborts != 0 || commits != 0 {
		t.Fatalf("got (aborts=%d commits=%d) after reset, want (0, 0)", aborts, commits)
	}
}

func Test_Word32_IncAndReadReset(t *testing.T) {
	var w Word32
	w.IncAbort()
	w.IncAbort()
	w.IncCommit()
	aborts, commits := w.ReadReset()
	if aborts != 2 || commits != 1 {
		t.Fatalf("got (aborts=%d commits=%d), want (2, 1)", aborts, commits)
	}
	aborts, commits = w.ReadReset()
	if aborts != 0 || commits != 0 {
		t.Fatalf("ReadReset did not zero the window: got (%d, %d)", aborts, commits)
	}
}

func Test_Word64_IncAndReadReset(t *testing.T) {
	var w Word64
	w.IncAbort()
	w.IncNoStock()
	w.IncNoStock()
	w.IncCommit()
	w.IncWaiting()
	w.IncWaiting()
	w.IncWaiting()
	aborts, noStock, commits, waiting := w.ReadReset()
	if aborts != 1 || noStock != 2 || commits != 1 || waiting != 3 {
		t.Fatalf("got (%d,%d,%d,%d), want (1,2,1,3)", aborts, noStock, commits, waiting)
	}
	aborts, noStock, commits, waiting = w.ReadReset()
	if aborts != 0 || noStock != 0 || commits != 0 || waiting != 0 {
		t.Fatalf("ReadReset did not zero the window: got (%d,%d,%d,%d)", aborts, noStock, commits, waiting)
	}
}
