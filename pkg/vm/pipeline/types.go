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

// Package pipeline is the fragment lifecycle and parallel-driver
// coordination engine: it owns a fragment instance's runtime state, its
// pipelines and drivers, the morsel supply, and the cross-driver
// synchronization primitives. Operator kernels live elsewhere and only
// implement the contracts below.
package pipeline

import (
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// Operator is one non-source stage of an instantiated pipeline. A driver
// owns its operator instances; no operator method is called concurrently.
type Operator interface {
	Prepare(proc *process.Process) error

	// Push processes one input chunk and returns the chunk for the next
	// operator, or nil when the input was absorbed.
	Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error)

	// Finish signals end of input. Anything returned flows through the
	// rest of the chain, once.
	Finish(proc *process.Process) (*chunk.Chunk, error)

	Close(proc *process.Process) error
}

// SourceOperator heads an instantiated pipeline. Pull may block, but must
// return when proc.Ctx is cancelled.
type SourceOperator interface {
	Prepare(proc *process.Process) error

	// Pull produces the next chunk. finished reports that the source is
	// permanently drained; bat may be nil on a resumption with nothing
	// to deliver yet.
	Pull(proc *process.Process) (bat *chunk.Chunk, finished bool, err error)

	Close(proc *process.Process) error
}

// MorselDriven is implemented by sources that partition their work
// through a shared MorselQueue.
type MorselDriven interface {
	SetMorselQueue(q *MorselQueue)
}

// OperatorFactory builds one Operator per driver of a pipeline. Factory
// prepare/close hooks run once per pipeline, driver instances many times.
type OperatorFactory interface {
	Prepare(proc *process.Process) error
	Close(proc *process.Process) error
	New(driverSeq int32) Operator
}

// SourceOperatorFactory builds the pipeline's source instances.
type SourceOperatorFactory interface {
	Prepare(proc *process.Process) error
	Close(proc *process.Process) error
	NewSource(driverSeq int32) SourceOperator

	// SourceID is the scan operator id whose MorselQueue feeds the
	// sources, or NoMorselSource when the source is not morsel-driven.
	SourceID() int32
}

// NoMorselSource marks a pipeline whose source does not pull morsels,
// e.g. a local exchange source.
const NoMorselSource int32 = -1
