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

// Package compile turns a fragment instance request into a runnable
// fragment: runtime state, pipelines, morsel queues and drivers, all
// registered under the node-wide fragment context manager.
package compile

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/logutil"
	"github.com/quarkdb/quark/pkg/sql/plan"
	"github.com/quarkdb/quark/pkg/vm/execenv"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// ScanRange is the row range a scan node of this fragment instance is
// responsible for. Missing ranges default to the whole relation.
type ScanRange struct {
	Begin int64
	End   int64
}

// FragmentRequest carries everything needed to set up one fragment
// instance on this node.
type FragmentRequest struct {
	QueryID            uuid.UUID
	FragmentInstanceID uuid.UUID
	CoordinatorAddr    string

	Plan *plan.Node

	// ScanRanges maps scan node id to its assigned range.
	ScanRanges map[int32]ScanRange

	// Parallelism is the default degree of parallelism for pipelines
	// whose plan nodes do not request their own.
	Parallelism int32

	// Deliver receives result chunks when the fragment's Result node is
	// a direct sink. nil discards.
	Deliver func(*chunk.Chunk) error

	// PassThroughTarget routes result chunks to a co-located receiver
	// instance through the pass-through buffer instead of Deliver.
	PassThroughTarget uuid.UUID

	// OnStatusReport is called once with the fragment's final status
	// when its last driver finishes. nil skips reporting.
	OnStatusReport func(instanceID uuid.UUID, status error)
}

// FragmentExecutor prepares and launches fragment instances against one
// node's exec env.
type FragmentExecutor struct {
	env *execenv.ExecEnv
}

func NewFragmentExecutor(env *execenv.ExecEnv) *FragmentExecutor {
	return &FragmentExecutor{env: env}
}

// Prepare sets up the fragment instance end to end: registers the
// context, creates the runtime state, builds pipelines and morsel
// queues, prepares every pipeline fail-fast, and instantiates drivers.
// A duplicate request for an already-populated instance returns the
// existing context untouched.
func (e *FragmentExecutor) Prepare(ctx context.Context, req *FragmentRequest) (*pipeline.FragmentContext, error) {
	mgr := e.env.FragmentManager()
	fc := mgr.GetOrRegister(req.FragmentInstanceID)
	if !fc.MarkPopulated() {
		logutil.Info("duplicate fragment setup ignored",
			logutil.QueryIDField(req.QueryID.String()),
			logutil.FragmentInstanceIDField(req.FragmentInstanceID.String()))
		return fc, nil
	}

	fc.SetQueryID(req.QueryID)
	fc.SetCoordinatorAddr(req.CoordinatorAddr)

	cfg := e.env.Config()
	lim := process.Limitation{
		ChunkSize:             cfg.Pipeline.ChunkSize,
		MorselRows:            cfg.Pipeline.MorselRows,
		RuntimeFilterNDVLimit: cfg.Pipeline.RuntimeFilterNDVLimit,
	}
	proc := process.New(ctx, req.QueryID, req.FragmentInstanceID, lim)
	fc.SetRuntimeState(proc)
	fc.SetPlan(plan.Bind(proc, req.Plan))
	fc.SetStreamManager(e.env.StreamManager())
	fc.PreparePassThroughChunkBuffer()

	fail := func(err error) (*pipeline.FragmentContext, error) {
		mgr.Unregister(req.FragmentInstanceID)
		return nil, err
	}

	builder := newPipelineBuilder(e.env, fc, req)
	pipelines, err := builder.build()
	if err != nil {
		return fail(err)
	}
	fc.SetPipelines(pipelines)

	queues, err := e.buildMorselQueues(proc, req)
	if err != nil {
		return fail(err)
	}
	fc.SetMorselQueues(queues)

	if err := fc.PrepareAllPipelines(); err != nil {
		return fail(qerr.NewFragmentPrepare(proc.Ctx, "prepare pipelines: %v", err))
	}

	drivers, err := instantiateDrivers(fc, pipelines)
	if err != nil {
		return fail(err)
	}
	fc.SetDrivers(drivers)

	report := req.OnStatusReport
	fc.SetOnFinished(func(c *pipeline.FragmentContext) {
		status := c.FinalStatus()
		if report != nil {
			report(c.FragmentInstanceID(), status)
		}
		mgr.Unregister(c.FragmentInstanceID())
	})
	return fc, nil
}

// Execute submits every driver to the pool. A submission failure cancels
// the fragment and runs the rejected driver inline; the cancelled driver
// exits at its first cancellation point, so the countdown and the final
// report still happen.
func (e *FragmentExecutor) Execute(fc *pipeline.FragmentContext) {
	pool := e.env.DriverExecutor()
	for _, d := range fc.Drivers() {
		if err := pool.Submit(d); err != nil {
			fc.Cancel(err)
			d.Run()
		}
	}
}

// buildMorselQueues creates one queue per scan node, splitting that
// node's range into morsels all of its drivers pop from competitively.
func (e *FragmentExecutor) buildMorselQueues(proc *process.Process, req *FragmentRequest) (pipeline.MorselQueueMap, error) {
	queues := make(pipeline.MorselQueueMap)
	var visit func(n *plan.Node) error
	visit = func(n *plan.Node) error {
		if n == nil {
			return nil
		}
		if n.Kind == plan.Scan {
			r, ok := req.ScanRanges[n.ID]
			if !ok {
				rel, err := e.env.Engine().Relation(n.Table)
				if err != nil {
					return qerr.NewFragmentPrepare(proc.Ctx, "scan %d: %v", n.ID, err)
				}
				r = ScanRange{Begin: 0, End: rel.Rows()}
			}
			if r.Begin > r.End {
				return qerr.NewScanRange(proc.Ctx, r.Begin, r.End)
			}
			morsels := pipeline.SplitRange(r.Begin, r.End, proc.Lim.MorselRows)
			queues[n.ID] = pipeline.NewMorselQueue(morsels)
		}
		for _, c := range n.Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(req.Plan); err != nil {
		return nil, err
	}
	return queues, nil
}

// instantiateDrivers builds and prepares every driver of every pipeline
// in parallel. The returned slice is ordered pipeline by pipeline,
// driver sequence within.
func instantiateDrivers(fc *pipeline.FragmentContext, pipelines []*pipeline.Pipeline) ([]*pipeline.Driver, error) {
	total := 0
	offsets := make([]int, len(pipelines))
	for i, p := range pipelines {
		offsets[i] = total
		total += int(p.DegreeOfParallelism())
	}
	drivers := make([]*pipeline.Driver, total)

	var g errgroup.Group
	for i, p := range pipelines {
		i, p := i, p
		for seq := int32(0); seq < p.DegreeOfParallelism(); seq++ {
			seq := seq
			g.Go(func() error {
				d, err := pipeline.NewDriver(fc, p, seq)
				if err != nil {
					return err
				}
				if err := d.Prepare(); err != nil {
					return err
				}
				drivers[offsets[i]+int(seq)] = d
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return drivers, nil
}
