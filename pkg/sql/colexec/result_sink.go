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

	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// ResultSinkFactory pipes fragment output to a consumer callback. Sinks
// of parallel drivers share the factory, so delivery is serialized here
// rather than in every consumer.
type ResultSinkFactory struct {
	mu      sync.Mutex
	deliver func(*chunk.Chunk) error
}

func NewResultSinkFactory(deliver func(*chunk.Chunk) error) *ResultSinkFactory {
	return &ResultSinkFactory{deliver: deliver}
}

func (f *ResultSinkFactory) Prepare(proc *process.Process) error { return nil }

func (f *ResultSinkFactory) Close(proc *process.Process) error { return nil }

func (f *ResultSinkFactory) New(driverSeq int32) pipeline.Operator {
	return &resultSink{f: f}
}

type resultSink struct {
	f *ResultSinkFactory
}

func (op *resultSink) Prepare(proc *process.Process) error { return nil }

func (op *resultSink) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	op.f.mu.Lock()
	defer op.f.mu.Unlock()
	if err := op.f.deliver(bat); err != nil {
		return nil, err
	}
	return nil, nil
}

func (op *resultSink) Finish(proc *process.Process) (*chunk.Chunk, error) {
	return nil, nil
}

func (op *resultSink) Close(proc *process.Process) error { return nil }
