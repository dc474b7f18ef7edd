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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// stubSourceFactory yields a fixed chunk sequence, unbounded when
// endless is set.
type stubSourceFactory struct {
	chunks  []*chunk.Chunk
	endless bool
}

func (f *stubSourceFactory) SourceID() int32 { return NoMorselSource }

func (f *stubSourceFactory) Prepare(proc *process.Process) error { return nil }

func (f *stubSourceFactory) Close(proc *process.Process) error { return nil }

func (f *stubSourceFactory) NewSource(driverSeq int32) SourceOperator {
	return &stubSource{f: f}
}

type stubSource struct {
	f   *stubSourceFactory
	pos int
}

func (s *stubSource) Prepare(proc *process.Process) error { return nil }

func (s *stubSource) Pull(proc *process.Process) (*chunk.Chunk, bool, error) {
	if s.f.endless {
		bat := chunk.New([]string{"v"})
		bat.AppendRow(1)
		return bat, false, nil
	}
	if s.pos >= len(s.f.chunks) {
		return nil, true, nil
	}
	bat := s.f.chunks[s.pos]
	s.pos++
	return bat, false, nil
}

func (s *stubSource) Close(proc *process.Process) error { return nil }

// collectFactory counts rows across all its driver instances.
type collectFactory struct {
	mu   sync.Mutex
	rows int
}

func (f *collectFactory) Prepare(proc *process.Process) error { return nil }

func (f *collectFactory) Close(proc *process.Process) error { return nil }

func (f *collectFactory) New(driverSeq int32) Operator { return &collectOp{f: f} }

type collectOp struct{ f *collectFactory }

func (op *collectOp) Prepare(proc *process.Process) error { return nil }

func (op *collectOp) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	op.f.mu.Lock()
	op.f.rows += bat.NumRows()
	op.f.mu.Unlock()
	return nil, nil
}

func (op *collectOp) Finish(proc *process.Process) (*chunk.Chunk, error) { return nil, nil }

func (op *collectOp) Close(proc *process.Process) error { return nil }

// flushFactory buffers everything and emits one chunk on Finish.
type flushFactory struct{}

func (f *flushFactory) Prepare(proc *process.Process) error { return nil }

func (f *flushFactory) Close(proc *process.Process) error { return nil }

func (f *flushFactory) New(driverSeq int32) Operator { return &flushOp{} }

type flushOp struct{ buf *chunk.Chunk }

func (op *flushOp) Prepare(proc *process.Process) error { return nil }

func (op *flushOp) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	if op.buf == nil {
		op.buf = chunk.New(bat.Attrs)
	}
	op.buf.Append(bat)
	return nil, nil
}

func (op *flushOp) Finish(proc *process.Process) (*chunk.Chunk, error) {
	out := op.buf
	op.buf = nil
	return out, nil
}

func (op *flushOp) Close(proc *process.Process) error { return nil }

type faultFactory struct {
	err      error
	panicMsg string
}

func (f *faultFactory) Prepare(proc *process.Process) error { return nil }

func (f *faultFactory) Close(proc *process.Process) error { return nil }

func (f *faultFactory) New(driverSeq int32) Operator { return &faultOp{f: f} }

type faultOp struct{ f *faultFactory }

func (op *faultOp) Prepare(proc *process.Process) error { return nil }

func (op *faultOp) Push(proc *process.Process, bat *chunk.Chunk) (*chunk.Chunk, error) {
	if op.f.panicMsg != "" {
		panic(op.f.panicMsg)
	}
	return nil, op.f.err
}

func (op *faultOp) Finish(proc *process.Process) (*chunk.Chunk, error) { return nil, nil }

func (op *faultOp) Close(proc *process.Process) error { return nil }

func testChunks(n, rows int) []*chunk.Chunk {
	out := make([]*chunk.Chunk, 0, n)
	for i := 0; i < n; i++ {
		bat := chunk.New([]string{"v"})
		for j := 0; j < rows; j++ {
			bat.AppendRow(int64(i*rows + j))
		}
		out = append(out, bat)
	}
	return out
}

func newTestFragment(t *testing.T, p *Pipeline) (*FragmentContext, []*Driver) {
	fc := NewFragmentContext()
	fc.SetRuntimeState(newTestProcess(t))
	fc.SetPipelines([]*Pipeline{p})
	require.NoError(t, fc.PrepareAllPipelines())

	drivers := make([]*Driver, 0, p.DegreeOfParallelism())
	for seq := int32(0); seq < p.DegreeOfParallelism(); seq++ {
		d, err := NewDriver(fc, p, seq)
		require.NoError(t, err)
		require.NoError(t, d.Prepare())
		drivers = append(drivers, d)
	}
	fc.SetDrivers(drivers)
	return fc, drivers
}

func TestDriverRunsChainToCompletion(t *testing.T) {
	defer leaktest.AfterTest(t)()

	sink := &collectFactory{}
	p := New(0, &stubSourceFactory{chunks: testChunks(5, 8)}, []OperatorFactory{sink}, 1)
	fc, drivers := newTestFragment(t, p)

	done := make(chan struct{})
	fc.SetOnFinished(func(c *FragmentContext) { close(done) })
	drivers[0].Run()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fragment not finished")
	}
	assert.NoError(t, fc.FinalStatus())
	assert.Equal(t, 40, sink.rows)
}

func TestDriverFlushesOperatorsOnFinish(t *testing.T) {
	defer leaktest.AfterTest(t)()

	sink := &collectFactory{}
	p := New(0, &stubSourceFactory{chunks: testChunks(3, 4)},
		[]OperatorFactory{&flushFactory{}, sink}, 1)
	fc, drivers := newTestFragment(t, p)

	drivers[0].Run()
	require.NoError(t, fc.FinalStatus())
	// everything buffered by the flush operator reaches the sink
	assert.Equal(t, 12, sink.rows)
}

func TestDriverFailureCapturesStatus(t *testing.T) {
	defer leaktest.AfterTest(t)()

	cause := qerr.NewExecution(context.TODO(), "bad chunk")
	p := New(0, &stubSourceFactory{chunks: testChunks(2, 4)},
		[]OperatorFactory{&faultFactory{err: cause}}, 1)
	fc, drivers := newTestFragment(t, p)

	drivers[0].Run()
	assert.True(t, fc.IsCanceled())
	assert.Equal(t, cause, fc.FinalStatus())
}

func TestDriverRecoversPanic(t *testing.T) {
	defer leaktest.AfterTest(t)()

	p := New(0, &stubSourceFactory{chunks: testChunks(1, 1)},
		[]OperatorFactory{&faultFactory{panicMsg: "operator bug"}}, 1)
	fc, drivers := newTestFragment(t, p)

	drivers[0].Run()
	err := fc.FinalStatus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator bug")
}

func TestDriverStopsOnCancel(t *testing.T) {
	defer leaktest.AfterTest(t)()

	p := New(0, &stubSourceFactory{endless: true}, []OperatorFactory{&collectFactory{}}, 1)
	fc, drivers := newTestFragment(t, p)

	done := make(chan struct{})
	fc.SetOnFinished(func(c *FragmentContext) { close(done) })

	go drivers[0].Run()
	time.Sleep(10 * time.Millisecond)
	cause := qerr.NewQueryCancelled(context.TODO())
	fc.Cancel(cause)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not stop on cancel")
	}
	assert.Equal(t, cause, fc.FinalStatus())
}

func TestNewDriverRequiresMorselQueue(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	fc.SetRuntimeState(newTestProcess(t))
	p := New(0, &morselStubFactory{id: 5}, nil, 1)

	_, err := NewDriver(fc, p, 0)
	require.Error(t, err)

	fc.SetMorselQueues(MorselQueueMap{5: NewMorselQueue(SplitRange(0, 10, 5))})
	d, err := NewDriver(fc, p, 0)
	require.NoError(t, err)
	require.NotNil(t, d)
}

// morselStubFactory produces morsel-driven sources that emit one row per
// morsel row range.
type morselStubFactory struct{ id int32 }

func (f *morselStubFactory) SourceID() int32 { return f.id }

func (f *morselStubFactory) Prepare(proc *process.Process) error { return nil }

func (f *morselStubFactory) Close(proc *process.Process) error { return nil }

func (f *morselStubFactory) NewSource(driverSeq int32) SourceOperator {
	return &morselStubSource{}
}

type morselStubSource struct {
	queue *MorselQueue
}

func (s *morselStubSource) SetMorselQueue(q *MorselQueue) { s.queue = q }

func (s *morselStubSource) Prepare(proc *process.Process) error { return nil }

func (s *morselStubSource) Pull(proc *process.Process) (*chunk.Chunk, bool, error) {
	m, ok := s.queue.Pop()
	if !ok {
		return nil, true, nil
	}
	bat := chunk.New([]string{"begin", "end"})
	bat.AppendRow(m.Begin, m.End)
	return bat, false, nil
}

func (s *morselStubSource) Close(proc *process.Process) error { return nil }
