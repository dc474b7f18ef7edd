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

package compile

import (
	"github.com/google/uuid"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/sql/colexec"
	"github.com/quarkdb/quark/pkg/sql/plan"
	"github.com/quarkdb/quark/pkg/vm/execenv"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
)

// pipelineBuilder decomposes a plan tree into pipelines bottom-up. A
// pipeline breaks where the plan breaks one: at a build subtree, which
// becomes its own pipeline ending in a filter-publishing sink, and at a
// parallelism change, where a local exchange bridges producer and
// consumer pipelines.
type pipelineBuilder struct {
	env *execenv.ExecEnv
	fc  *pipeline.FragmentContext
	req *FragmentRequest

	pipelines []*pipeline.Pipeline
	nextID    int32
}

func newPipelineBuilder(env *execenv.ExecEnv, fc *pipeline.FragmentContext, req *FragmentRequest) *pipelineBuilder {
	return &pipelineBuilder{env: env, fc: fc, req: req}
}

// openPipeline is a pipeline under construction: a source plus the
// operator chain accumulated so far.
type openPipeline struct {
	src pipeline.SourceOperatorFactory
	ops []pipeline.OperatorFactory
	dop int32
}

func (b *pipelineBuilder) build() ([]*pipeline.Pipeline, error) {
	root := b.req.Plan
	if root == nil || root.Kind != plan.Result || len(root.Children) != 1 {
		return nil, qerr.NewFragmentPrepare(b.fc.RuntimeState().Ctx, "plan root must be a result node with one input")
	}
	open, err := b.visit(root.Children[0])
	if err != nil {
		return nil, err
	}
	open = b.adjustParallelism(open, root.Parallelism)
	open.ops = append(open.ops, b.resultSinkFactory())
	b.seal(open)
	return b.pipelines, nil
}

func (b *pipelineBuilder) visit(n *plan.Node) (openPipeline, error) {
	if n == nil {
		return openPipeline{}, qerr.NewFragmentPrepare(b.fc.RuntimeState().Ctx, "missing plan node")
	}
	switch n.Kind {
	case plan.Scan:
		dop := n.Parallelism
		if dop <= 0 {
			dop = b.req.Parallelism
		}
		if dop <= 0 {
			dop = 1
		}
		return openPipeline{
			src: colexec.NewScanSourceFactory(n.ID, b.env.Engine(), n.Table, n.Attrs),
			dop: dop,
		}, nil

	case plan.Filter:
		open, err := b.visit(n.Children[0])
		if err != nil {
			return openPipeline{}, err
		}
		// a build sibling becomes its own pipeline before the probe
		// side's filter is appended
		if len(n.Children) > 1 {
			if err := b.buildFilterSide(n.Children[1]); err != nil {
				return openPipeline{}, err
			}
		}
		open = b.adjustParallelism(open, n.Parallelism)
		var port *pipeline.RuntimeFilterPort
		if n.ConsumeFilterID != 0 {
			port = b.fc.RuntimeFilterPort()
		}
		open.ops = append(open.ops,
			colexec.NewFilterFactory(n.FilterAttr, n.MinValue, n.MaxValue, n.ConsumeFilterID, port))
		return open, nil

	default:
		return openPipeline{}, qerr.NewFragmentPrepare(b.fc.RuntimeState().Ctx,
			"unexpected %s node in pipeline position", n.Kind)
	}
}

// buildFilterSide seals the build subtree as a pipeline ending in the
// runtime-filter-publishing sink.
func (b *pipelineBuilder) buildFilterSide(n *plan.Node) error {
	if n.Kind != plan.FilterBuild {
		return qerr.NewFragmentPrepare(b.fc.RuntimeState().Ctx,
			"build side root must be a filter-build node, got %s", n.Kind)
	}
	open, err := b.visit(n.Children[0])
	if err != nil {
		return err
	}
	open = b.adjustParallelism(open, n.Parallelism)
	ndvLimit := b.fc.RuntimeState().Lim.RuntimeFilterNDVLimit
	open.ops = append(open.ops,
		colexec.NewFilterBuildFactory(n.PublishFilterID, n.BuildKeyAttr, b.fc.RuntimeFilterHub(), ndvLimit, open.dop))
	b.seal(open)
	return nil
}

// adjustParallelism interpolates a local exchange when the consumer
// requests a different degree of parallelism than the producer runs at.
func (b *pipelineBuilder) adjustParallelism(open openPipeline, want int32) openPipeline {
	if want <= 0 || want == open.dop {
		return open
	}
	ex := colexec.NewLocalExchanger(int(open.dop)*2, open.dop)
	open.ops = append(open.ops, colexec.NewLocalExchangeSinkFactory(ex))
	b.seal(open)
	return openPipeline{
		src: colexec.NewLocalExchangeSourceFactory(ex),
		dop: want,
	}
}

func (b *pipelineBuilder) resultSinkFactory() pipeline.OperatorFactory {
	if b.req.PassThroughTarget != uuid.Nil {
		buf := b.env.StreamManager().GetPassThroughChunkBuffer(b.req.QueryID)
		return colexec.NewPassThroughSinkFactory(buf.Queue(b.req.PassThroughTarget))
	}
	deliver := b.req.Deliver
	if deliver == nil {
		deliver = func(*chunk.Chunk) error { return nil }
	}
	return colexec.NewResultSinkFactory(deliver)
}

func (b *pipelineBuilder) seal(open openPipeline) {
	p := pipeline.New(b.nextID, open.src, open.ops, open.dop)
	b.nextID++
	b.pipelines = append(b.pipelines, p)
}
