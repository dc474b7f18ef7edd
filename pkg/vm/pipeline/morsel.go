// Copyright 2023 QuarkDB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	queue "github.com/yireyun/go-queue"
)

// Morsel is one independently-schedulable unit of scan work: a contiguous
// row range of the scanned relation.
type Morsel struct {
	Begin int64
	End   int64
}

// SplitRange cuts [begin, end) into morsels of at most morselRows rows.
func SplitRange(begin, end int64, morselRows int) []Morsel {
	if morselRows <= 0 || begin >= end {
		return nil
	}
	morsels := make([]Morsel, 0, (end-begin+int64(morselRows)-1)/int64(morselRows))
	for lo := begin; lo < end; lo += int64(morselRows) {
		hi := lo + int64(morselRows)
		if hi > end {
			hi = end
		}
		morsels = append(morsels, Morsel{Begin: lo, End: hi})
	}
	return morsels
}

// MorselQueue is the shared, contended supply of morsels for one scan
// operator within one fragment instance. All drivers instantiated from
// the pipeline containing that scan pop from it competitively; two
// drivers never receive the same morsel, and a drained queue stays empty.
// The queue is filled once at construction and never refilled, so the
// only contended operation is the lock-free pop.
type MorselQueue struct {
	q     *queue.EsQueue
	total int
}

func NewMorselQueue(morsels []Morsel) *MorselQueue {
	// EsQueue rounds the capacity up to a power of two; +1 keeps a full
	// load from hitting the ring's one-slot slack.
	q := queue.NewQueue(uint32(len(morsels) + 1))
	for i := range morsels {
		m := morsels[i]
		if ok, _ := q.Put(m); !ok {
			// cannot happen: capacity covers the full load
			panic("morsel queue overflow")
		}
	}
	return &MorselQueue{q: q, total: len(morsels)}
}

// Pop removes one morsel. ok is false once the queue is permanently
// empty.
func (mq *MorselQueue) Pop() (Morsel, bool) {
	v, ok, _ := mq.q.Get()
	if !ok {
		return Morsel{}, false
	}
	return v.(Morsel), true
}

// NumMorsels is the number of morsels the queue was built with.
func (mq *MorselQueue) NumMorsels() int {
	return mq.total
}

// MorselQueueMap maps a scan operator id to its queue.
type MorselQueueMap = map[int32]*MorselQueue
