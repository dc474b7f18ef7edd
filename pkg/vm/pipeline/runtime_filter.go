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
	"encoding/binary"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/axiomhq/hyperloglog"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// RuntimeFilter is a predicate computed during execution, typically from
// a join build side, and broadcast to dependent pipelines of the same
// fragment. Once published it is immutable.
type RuntimeFilter struct {
	ID int32
	// AlwaysPass marks a published no-op filter: the producing side
	// determined the filter would reject nothing worth the probe cost.
	AlwaysPass bool
	// In is the set of accepted keys; nil iff AlwaysPass.
	In *roaring64.Bitmap
}

// Accept reports whether the key survives the filter.
func (f *RuntimeFilter) Accept(v int64) bool {
	if f.AlwaysPass {
		return true
	}
	return f.In.Contains(uint64(v))
}

type filterEntry struct {
	publishOnce sync.Once
	ready       chan struct{}
	// filter is written once, before ready is closed.
	filter *RuntimeFilter
}

// RuntimeFilterHub is the fragment-scoped registry of runtime filters.
// Publish is single-writer per filter; consumption is multi-reader.
type RuntimeFilterHub struct {
	mu      sync.Mutex
	entries map[int32]*filterEntry
}

func NewRuntimeFilterHub() *RuntimeFilterHub {
	return &RuntimeFilterHub{entries: make(map[int32]*filterEntry)}
}

func (h *RuntimeFilterHub) entry(id int32) *filterEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		e = &filterEntry{ready: make(chan struct{})}
		h.entries[id] = e
	}
	return e
}

// Publish installs the filter and releases every waiter. Later publishes
// of the same id are ignored; the first one wins, which is what the
// teardown path relies on when it force-closes pending filters.
func (h *RuntimeFilterHub) Publish(f *RuntimeFilter) {
	e := h.entry(f.ID)
	e.publishOnce.Do(func() {
		e.filter = f
		close(e.ready)
	})
}

// PublishAlwaysPass publishes a no-op filter for id.
func (h *RuntimeFilterHub) PublishAlwaysPass(id int32) {
	h.Publish(&RuntimeFilter{ID: id, AlwaysPass: true})
}

// CloseAllInFilters force-publishes every still-pending filter as
// always-pass so that no driver stays parked on a filter that will never
// arrive. Called during fragment teardown, before pipelines are closed.
func (h *RuntimeFilterHub) CloseAllInFilters(proc *process.Process) {
	h.mu.Lock()
	entries := make([]*filterEntry, 0, len(h.entries))
	ids := make([]int32, 0, len(h.entries))
	for id, e := range h.entries {
		entries = append(entries, e)
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for i, e := range entries {
		id := ids[i]
		e.publishOnce.Do(func() {
			e.filter = &RuntimeFilter{ID: id, AlwaysPass: true}
			close(e.ready)
		})
	}
}

// RuntimeFilterPort is the consumer-side view of the hub handed to scan
// and filter operators.
type RuntimeFilterPort struct {
	hub *RuntimeFilterHub
}

func NewRuntimeFilterPort(hub *RuntimeFilterHub) *RuntimeFilterPort {
	return &RuntimeFilterPort{hub: hub}
}

// Poll returns the filter if it has been published.
func (p *RuntimeFilterPort) Poll(id int32) (*RuntimeFilter, bool) {
	e := p.hub.entry(id)
	select {
	case <-e.ready:
		return e.filter, true
	default:
		return nil, false
	}
}

// Wait blocks until the filter is published or the process is cancelled.
func (p *RuntimeFilterPort) Wait(proc *process.Process, id int32) (*RuntimeFilter, error) {
	e := p.hub.entry(id)
	select {
	case <-e.ready:
		return e.filter, nil
	case <-proc.Ctx.Done():
		// a filter published before the cancel still wins
		select {
		case <-e.ready:
			return e.filter, nil
		default:
		}
		return nil, qerr.NewQueryCancelled(proc.Ctx)
	}
}

// RuntimeFilterBuilder accumulates build-side keys and decides, using a
// cardinality sketch, whether the finished filter carries a key set or
// degrades to always-pass.
type RuntimeFilterBuilder struct {
	id       int32
	ndvLimit uint64
	sketch   *hyperloglog.Sketch
	in       *roaring64.Bitmap
}

func NewRuntimeFilterBuilder(id int32, ndvLimit uint64) *RuntimeFilterBuilder {
	return &RuntimeFilterBuilder{
		id:       id,
		ndvLimit: ndvLimit,
		sketch:   hyperloglog.New14(),
		in:       roaring64.New(),
	}
}

func (b *RuntimeFilterBuilder) Add(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	b.sketch.Insert(buf[:])
	b.in.Add(uint64(v))
}

// Build finalizes the filter. A build side whose estimated distinct count
// exceeds the limit publishes always-pass: probing a filter that rejects
// almost nothing costs more than it saves.
func (b *RuntimeFilterBuilder) Build() *RuntimeFilter {
	if b.sketch.Estimate() > b.ndvLimit {
		return &RuntimeFilter{ID: b.id, AlwaysPass: true}
	}
	return &RuntimeFilter{ID: b.id, In: b.in}
}
