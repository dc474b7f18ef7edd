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
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/pkg/common/qerr"
)

func TestDriverExecutorRunsDrivers(t *testing.T) {
	defer leaktest.AfterTest(t)()

	exec := NewDriverExecutor(4)
	require.NoError(t, exec.Start())
	defer exec.Stop()

	sink := &collectFactory{}
	p := New(0, &morselStubFactory{id: 1}, []OperatorFactory{sink}, 4)
	fc := NewFragmentContext()
	fc.SetRuntimeState(newTestProcess(t))
	fc.SetPipelines([]*Pipeline{p})
	fc.SetMorselQueues(MorselQueueMap{1: NewMorselQueue(SplitRange(0, 100, 10))})
	require.NoError(t, fc.PrepareAllPipelines())

	var drivers []*Driver
	for seq := int32(0); seq < p.DegreeOfParallelism(); seq++ {
		d, err := NewDriver(fc, p, seq)
		require.NoError(t, err)
		require.NoError(t, d.Prepare())
		drivers = append(drivers, d)
	}
	fc.SetDrivers(drivers)

	done := make(chan struct{})
	fc.SetOnFinished(func(c *FragmentContext) { close(done) })
	for _, d := range drivers {
		require.NoError(t, exec.Submit(d))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drivers did not finish")
	}
	assert.NoError(t, fc.FinalStatus())
	assert.Equal(t, 10, sink.rows)
}

func TestDriverExecutorSubmitBeforeStart(t *testing.T) {
	defer leaktest.AfterTest(t)()

	exec := NewDriverExecutor(2)
	err := exec.Submit(&Driver{})
	require.Error(t, err)
	assert.True(t, qerr.IsQErrCode(err, qerr.ErrDriverPoolClosed))
}

func TestDriverExecutorSubmitAfterStop(t *testing.T) {
	defer leaktest.AfterTest(t)()

	exec := NewDriverExecutor(2)
	require.NoError(t, exec.Start())
	exec.Stop()

	err := exec.Submit(&Driver{})
	require.Error(t, err)
	assert.True(t, qerr.IsQErrCode(err, qerr.ErrDriverPoolClosed))
}
