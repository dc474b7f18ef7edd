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
	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// FilterFactory builds filters that apply a static range predicate and,
// when a runtime filter id is bound, block-and-consume that filter before
// producing rows.
type FilterFactory struct {
	attr     string
	min, max int64 // static predicate keeps min <= v < max; min>=max disables it
	filterID int32 // 0 means no runtime filter
	port     *pipeline.RuntimeFilterPort
}

func NewFilterFactory(attr string, min, max int64, filterID int32, port *pipeline.RuntimeFilterPort) *FilterFactory {
	return &FilterFactory{attr: attr, min: min, max: max, filterID: filterID, port: port}
}

func (f *FilterFactory) Prepare(proc *process.Process) error { return nil }

func (f *FilterFactory) Close(proc *process.Process) error { return nil }

func (f *FilterFactory) New(driverSeq int32) pipeline.Operator {
	return &filterOp{f: f}
}

type filterOp struct {
	f      *FilterFactory
	rf     *pipeline.RuntimeFilter
	waited bool
}

func (op *filterOp) Prepare(proc *process.Process) error { return nil }

func (op *filterOp) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	// the runtime filter is awaited lazily, on the first chunk, so a
	// driver with no input never parks on it
	if op.f.filterID != 0 && !op.waited {
		rf, err := op.f.port.Wait(proc, op.f.filterID)
		if err != nil {
			return nil, err
		}
		op.rf = rf
		op.waited = true
	}
	idx := bat.ColumnIndex(op.f.attr)
	if idx < 0 {
		return nil, qerr.NewExecution(proc.Ctx, "filter column %s missing", op.f.attr)
	}
	vec := bat.Vecs[idx]
	sel := make([]int, 0, len(vec))
	for i, v := range vec {
		if op.f.min < op.f.max && (v < op.f.min || v >= op.f.max) {
			continue
		}
		if op.rf != nil && !op.rf.Accept(v) {
			continue
		}
		sel = append(sel, i)
	}
	if len(sel) == len(vec) {
		return bat, nil
	}
	bat.Shrink(sel)
	if bat.IsEmpty() {
		return nil, nil
	}
	return bat, nil
}

func (op *filterOp) Finish(proc *process.Process) (*chunk.Chunk, error) {
	return nil, nil
}

func (op *filterOp) Close(proc *process.Process) error {
	op.rf = nil
	return nil
}
