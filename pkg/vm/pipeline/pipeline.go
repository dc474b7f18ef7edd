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
	"bytes"
	"fmt"

	"github.com/quarkdb/quark/pkg/vm/process"
)

// Pipeline is an immutable chain of operator factories plus the number of
// drivers to instantiate from it. All per-execution mutable state lives
// in the drivers.
type Pipeline struct {
	id            int32
	sourceFactory SourceOperatorFactory
	factories     []OperatorFactory
	dop           int32
}

func New(id int32, src SourceOperatorFactory, factories []OperatorFactory, dop int32) *Pipeline {
	if dop < 1 {
		dop = 1
	}
	return &Pipeline{
		id:            id,
		sourceFactory: src,
		factories:     factories,
		dop:           dop,
	}
}

func (p *Pipeline) ID() int32 {
	return p.id
}

func (p *Pipeline) DegreeOfParallelism() int32 {
	return p.dop
}

func (p *Pipeline) SourceID() int32 {
	return p.sourceFactory.SourceID()
}

// Prepare runs every factory's prepare hook, first failure wins.
func (p *Pipeline) Prepare(proc *process.Process) error {
	if err := p.sourceFactory.Prepare(proc); err != nil {
		return err
	}
	for _, f := range p.factories {
		if err := f.Prepare(proc); err != nil {
			return err
		}
	}
	return nil
}

// Close runs every factory's close hook. Close errors are not propagated;
// teardown must visit every factory.
func (p *Pipeline) Close(proc *process.Process) {
	if err := p.sourceFactory.Close(proc); err != nil {
		proc.Warn("pipeline source factory close failed: " + err.Error())
	}
	for _, f := range p.factories {
		if err := f.Close(proc); err != nil {
			proc.Warn("pipeline operator factory close failed: " + err.Error())
		}
	}
}

func (p *Pipeline) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "pipeline %d dop=%d source=%d ops=%d", p.id, p.dop, p.SourceID(), len(p.factories))
	return buf.String()
}
