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

package colexec

import (
	"sync"
	"sync/atomic"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// FilterBuildFactory is the build side of a join reduced to what the
// core needs: its sinks absorb the build input and, when the last driver
// finishes, publish the runtime filter to the fragment's hub. If a build
// driver fails before publishing, the probe side is unblocked by
// cancellation and by the hub's teardown close.
type FilterBuildFactory struct {
	keyAttr  string
	filterID int32
	hub      *pipeline.RuntimeFilterHub
	ndvLimit uint64
	dop      int32

	mu        sync.Mutex
	builder   *pipeline.RuntimeFilterBuilder
	remaining atomic.Int32
}

func NewFilterBuildFactory(filterID int32, keyAttr string, hub *pipeline.RuntimeFilterHub, ndvLimit uint64, dop int32) *FilterBuildFactory {
	if dop < 1 {
		dop = 1
	}
	return &FilterBuildFactory{
		keyAttr:  keyAttr,
		filterID: filterID,
		hub:      hub,
		ndvLimit: ndvLimit,
		dop:      dop,
	}
}

func (f *FilterBuildFactory) Prepare(proc *process.Process) error {
	f.builder = pipeline.NewRuntimeFilterBuilder(f.filterID, f.ndvLimit)
	f.remaining.Store(f.dop)
	return nil
}

func (f *FilterBuildFactory) Close(proc *process.Process) error {
	f.builder = nil
	return nil
}

func (f *FilterBuildFactory) New(driverSeq int32) pipeline.Operator {
	return &filterBuildSink{f: f}
}

type filterBuildSink struct {
	f *FilterBuildFactory
}

func (op *filterBuildSink) Prepare(proc *process.Process) error { return nil }

func (op *filterBuildSink) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	idx := bat.ColumnIndex(op.f.keyAttr)
	if idx < 0 {
		return nil, qerr.NewExecution(proc.Ctx, "build key column %s missing", op.f.keyAttr)
	}
	op.f.mu.Lock()
	for _, v := range bat.Vecs[idx] {
		op.f.builder.Add(v)
	}
	op.f.mu.Unlock()
	return nil, nil
}

func (op *filterBuildSink) Finish(proc *process.Process) (*chunk.Chunk, error) {
	if op.f.remaining.Add(-1) == 0 {
		op.f.mu.Lock()
		rf := op.f.builder.Build()
		op.f.mu.Unlock()
		op.f.hub.Publish(rf)
	}
	return nil, nil
}

func (op *filterBuildSink) Close(proc *process.Process) error { return nil }
