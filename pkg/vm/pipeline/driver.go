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
	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/logutil"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// Driver is one parallel worker of a pipeline: an instantiated operator
// chain advanced by the driver executor. Its state is private to the
// goroutine stepping it; cross-driver communication goes only through the
// fragment context's atomics and the runtime filter hub.
type Driver struct {
	fc        *FragmentContext
	proc      *process.Process
	pipelineID int32
	seq       int32

	source    SourceOperator
	operators []Operator
}

// NewDriver instantiates one driver from the pipeline. If the pipeline's
// source is morsel-driven it is bound to the fragment's queue for that
// scan; parallel drivers of the same pipeline share the queue and
// partition the scan without overlap.
func NewDriver(fc *FragmentContext, p *Pipeline, seq int32) (*Driver, error) {
	proc := fc.RuntimeState()
	src := p.sourceFactory.NewSource(seq)
	if md, ok := src.(MorselDriven); ok {
		q := fc.MorselQueues()[p.SourceID()]
		if q == nil {
			return nil, qerr.NewInvalidState(proc.Ctx, "no morsel queue for source %d", p.SourceID())
		}
		md.SetMorselQueue(q)
	}
	d := &Driver{
		fc:         fc,
		proc:       proc,
		pipelineID: p.ID(),
		seq:        seq,
		source:     src,
		operators:  make([]Operator, 0, len(p.factories)),
	}
	for _, f := range p.factories {
		d.operators = append(d.operators, f.New(seq))
	}
	return d, nil
}

// Prepare readies the instantiated chain. Called once, before the driver
// is submitted.
func (d *Driver) Prepare() error {
	if err := d.source.Prepare(d.proc); err != nil {
		return err
	}
	for _, op := range d.operators {
		if err := op.Prepare(d.proc); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the driver on the calling goroutine. It is the fallback
// when pool submission fails: the caller cancels the fragment first, so
// the driver terminates at its first cancellation point and the
// countdown still completes.
func (d *Driver) Run() {
	d.run()
}

// run executes the driver to termination. It is the unit handed to the
// driver executor, and reports terminal completion exactly once, whatever
// the exit path.
func (d *Driver) run() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = qerr.ConvertPanicError(d.proc.Ctx, r)
		}
		d.closeOperators()
		d.fc.reportDriverFinished(err)
	}()
	err = d.execute()
}

func (d *Driver) execute() error {
	proc := d.proc
	for {
		// cooperative cancellation point, re-checked after every
		// resumption from a blocking pull
		if d.fc.IsCanceled() {
			return nil
		}
		if proc.Ctx.Err() != nil {
			return qerr.NewQueryCancelled(proc.Ctx)
		}
		bat, finished, err := d.source.Pull(proc)
		if err != nil {
			return err
		}
		if bat != nil && !bat.IsEmpty() {
			if err := d.pushChunk(0, bat); err != nil {
				return err
			}
		}
		if finished {
			return d.finishChain()
		}
	}
}

func (d *Driver) pushChunk(from int, bat *chunk.Chunk) error {
	for i := from; i < len(d.operators); i++ {
		if bat == nil {
			return nil
		}
		out, err := d.operators[i].Push(d.proc, bat)
		if err != nil {
			return err
		}
		bat = out
	}
	return nil
}

// finishChain flushes the operators in order; anything an operator emits
// on Finish still flows through its downstream.
func (d *Driver) finishChain() error {
	for i, op := range d.operators {
		out, err := op.Finish(d.proc)
		if err != nil {
			return err
		}
		if out != nil {
			if err := d.pushChunk(i+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) closeOperators() {
	if err := d.source.Close(d.proc); err != nil {
		logutil.Warn("driver source close failed",
			logutil.PipelineIDField(d.pipelineID),
			logutil.DriverIDField(d.seq),
			logutil.ErrorField(err))
	}
	for _, op := range d.operators {
		if err := op.Close(d.proc); err != nil {
			logutil.Warn("driver operator close failed",
				logutil.PipelineIDField(d.pipelineID),
				logutil.DriverIDField(d.seq),
				logutil.ErrorField(err))
		}
	}
}
