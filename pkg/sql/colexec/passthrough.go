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
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/exchange"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// PassThroughSinkFactory hands result chunks to a co-located receiver
// fragment through the shared pass-through buffer instead of the wire.
type PassThroughSinkFactory struct {
	queue *exchange.ChunkQueue
}

func NewPassThroughSinkFactory(queue *exchange.ChunkQueue) *PassThroughSinkFactory {
	return &PassThroughSinkFactory{queue: queue}
}

func (f *PassThroughSinkFactory) Prepare(proc *process.Process) error { return nil }

func (f *PassThroughSinkFactory) Close(proc *process.Process) error { return nil }

func (f *PassThroughSinkFactory) New(driverSeq int32) pipeline.Operator {
	return &passThroughSink{queue: f.queue}
}

type passThroughSink struct {
	queue *exchange.ChunkQueue
}

func (op *passThroughSink) Prepare(proc *process.Process) error { return nil }

func (op *passThroughSink) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	op.queue.Put(bat)
	return nil, nil
}

func (op *passThroughSink) Finish(proc *process.Process) (*chunk.Chunk, error) {
	return nil, nil
}

func (op *passThroughSink) Close(proc *process.Process) error { return nil }
