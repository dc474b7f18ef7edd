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
	"sync/atomic"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// LocalExchanger connects two sibling pipelines of one fragment whose
// degrees of parallelism differ: N sink drivers feed M source drivers
// through a bounded channel. The channel closes when the last sink
// finishes; cancellation unblocks both ends via the process context.
type LocalExchanger struct {
	ch      chan *chunk.Chunk
	senders atomic.Int32
}

func NewLocalExchanger(capacity int, senders int32) *LocalExchanger {
	if capacity < 1 {
		capacity = 1
	}
	ex := &LocalExchanger{ch: make(chan *chunk.Chunk, capacity)}
	ex.senders.Store(senders)
	return ex
}

// LocalExchangeSinkFactory ends the producer pipeline.
type LocalExchangeSinkFactory struct {
	ex *LocalExchanger
}

func NewLocalExchangeSinkFactory(ex *LocalExchanger) *LocalExchangeSinkFactory {
	return &LocalExchangeSinkFactory{ex: ex}
}

func (f *LocalExchangeSinkFactory) Prepare(proc *process.Process) error { return nil }

func (f *LocalExchangeSinkFactory) Close(proc *process.Process) error { return nil }

func (f *LocalExchangeSinkFactory) New(driverSeq int32) pipeline.Operator {
	return &localExchangeSink{ex: f.ex}
}

type localExchangeSink struct {
	ex   *LocalExchanger
	done bool
}

func (op *localExchangeSink) Prepare(proc *process.Process) error { return nil }

func (op *localExchangeSink) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	select {
	case op.ex.ch <- bat:
		return nil, nil
	case <-proc.Ctx.Done():
		return nil, qerr.NewQueryCancelled(proc.Ctx)
	}
}

func (op *localExchangeSink) Finish(proc *process.Process) (*chunk.Chunk, error) {
	op.done = true
	if op.ex.senders.Add(-1) == 0 {
		close(op.ex.ch)
	}
	return nil, nil
}

func (op *localExchangeSink) Close(proc *process.Process) error { return nil }

// LocalExchangeSourceFactory heads the consumer pipeline. Its sources
// are not morsel-driven.
type LocalExchangeSourceFactory struct {
	ex *LocalExchanger
}

func NewLocalExchangeSourceFactory(ex *LocalExchanger) *LocalExchangeSourceFactory {
	return &LocalExchangeSourceFactory{ex: ex}
}

func (f *LocalExchangeSourceFactory) SourceID() int32 {
	return pipeline.NoMorselSource
}

func (f *LocalExchangeSourceFactory) Prepare(proc *process.Process) error { return nil }

func (f *LocalExchangeSourceFactory) Close(proc *process.Process) error { return nil }

func (f *LocalExchangeSourceFactory) NewSource(driverSeq int32) pipeline.SourceOperator {
	return &localExchangeSource{ex: f.ex}
}

type localExchangeSource struct {
	ex *LocalExchanger
}

func (op *localExchangeSource) Prepare(proc *process.Process) error { return nil }

func (op *localExchangeSource) Pull(proc *process.Process) (*chunk.Chunk, bool, error) {
	select {
	case bat, ok := <-op.ex.ch:
		if !ok {
			return nil, true, nil
		}
		return bat, false, nil
	case <-proc.Ctx.Done():
		// let the driver loop observe the cancel flag
		return nil, false, nil
	}
}

func (op *localExchangeSource) Close(proc *process.Process) error { return nil }
