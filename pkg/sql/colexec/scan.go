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

// Package colexec holds the operator kernels the execution core is
// exercised with. The core treats them as external collaborators; they
// only implement the pipeline operator contracts.
package colexec

import (
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/engine"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// ScanSourceFactory builds morsel-driven table scan sources. All drivers
// of the pipeline share one relation handle, resolved at prepare time.
type ScanSourceFactory struct {
	sourceID int32
	eng      engine.Engine
	table    string
	attrs    []string

	rel engine.Relation
}

func NewScanSourceFactory(sourceID int32, eng engine.Engine, table string, attrs []string) *ScanSourceFactory {
	return &ScanSourceFactory{
		sourceID: sourceID,
		eng:      eng,
		table:    table,
		attrs:    attrs,
	}
}

func (f *ScanSourceFactory) SourceID() int32 {
	return f.sourceID
}

func (f *ScanSourceFactory) Prepare(proc *process.Process) error {
	rel, err := f.eng.Relation(f.table)
	if err != nil {
		return err
	}
	f.rel = rel
	return nil
}

func (f *ScanSourceFactory) Close(proc *process.Process) error {
	f.rel = nil
	return nil
}

func (f *ScanSourceFactory) NewSource(driverSeq int32) pipeline.SourceOperator {
	return &scanSource{f: f}
}

// scanSource pulls morsels from the shared queue and reads them chunk by
// chunk. Pulling from the queue rather than a private supply is what
// partitions the scan between parallel drivers without overlap.
type scanSource struct {
	f     *ScanSourceFactory
	queue *pipeline.MorselQueue

	cur    pipeline.Morsel
	pos    int64
	active bool
}

var _ pipeline.MorselDriven = (*scanSource)(nil)

func (s *scanSource) SetMorselQueue(q *pipeline.MorselQueue) {
	s.queue = q
}

func (s *scanSource) Prepare(proc *process.Process) error {
	return nil
}

func (s *scanSource) Pull(proc *process.Process) (*chunk.Chunk, bool, error) {
	if !s.active {
		m, ok := s.queue.Pop()
		if !ok {
			return nil, true, nil
		}
		s.cur, s.pos, s.active = m, m.Begin, true
	}
	bat, next, err := s.f.rel.Read(s.f.attrs, s.pos, s.cur.End, proc.Lim.ChunkSize)
	if err != nil {
		return nil, false, err
	}
	s.pos = next
	if next >= s.cur.End {
		s.active = false
	}
	return bat, false, nil
}

func (s *scanSource) Close(proc *process.Process) error {
	s.active = false
	return nil
}
