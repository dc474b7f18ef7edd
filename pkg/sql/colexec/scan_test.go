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
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/engine/memengine"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
	"github.com/quarkdb/quark/pkg/vm/process"
)

func testProc(t *testing.T) *process.Process {
	proc := process.New(context.Background(), uuid.New(), uuid.New(), process.Limitation{
		ChunkSize:             64,
		MorselRows:            256,
		RuntimeFilterNDVLimit: 1 << 20,
	})
	t.Cleanup(proc.Close)
	return proc
}

func fillRelation(eng *memengine.MemEngine, name string, rows int64) {
	rel := eng.Create(name, []string{"k", "v"})
	bat := chunk.New([]string{"k", "v"})
	for i := int64(0); i < rows; i++ {
		bat.AppendRow(i, i*3)
	}
	rel.Append(bat)
}

func TestScanSourceReadsAllMorsels(t *testing.T) {
	proc := testProc(t)
	eng := memengine.New()
	fillRelation(eng, "t", 1000)

	f := NewScanSourceFactory(1, eng, "t", []string{"k", "v"})
	require.NoError(t, f.Prepare(proc))
	defer f.Close(proc)

	src := f.NewSource(0)
	md, ok := src.(pipeline.MorselDriven)
	require.True(t, ok)
	md.SetMorselQueue(pipeline.NewMorselQueue(pipeline.SplitRange(0, 1000, 100)))
	require.NoError(t, src.Prepare(proc))

	total := 0
	for {
		bat, finished, err := src.Pull(proc)
		require.NoError(t, err)
		if finished {
			break
		}
		require.NotNil(t, bat)
		assert.LessOrEqual(t, bat.NumRows(), proc.Lim.ChunkSize)
		total += bat.NumRows()
	}
	assert.Equal(t, 1000, total)
	require.NoError(t, src.Close(proc))
}

func TestScanSourceEmptyQueue(t *testing.T) {
	proc := testProc(t)
	eng := memengine.New()
	fillRelation(eng, "t", 10)

	f := NewScanSourceFactory(1, eng, "t", []string{"k"})
	require.NoError(t, f.Prepare(proc))

	src := f.NewSource(0)
	src.(pipeline.MorselDriven).SetMorselQueue(pipeline.NewMorselQueue(nil))

	_, finished, err := src.Pull(proc)
	require.NoError(t, err)
	assert.True(t, finished)
}

func TestScanSourceFactoryUnknownTable(t *testing.T) {
	proc := testProc(t)
	f := NewScanSourceFactory(1, memengine.New(), "missing", []string{"k"})
	require.Error(t, f.Prepare(proc))
}
