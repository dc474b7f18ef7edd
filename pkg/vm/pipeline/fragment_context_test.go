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
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/vm/process"
)

func newTestProcess(t *testing.T) *process.Process {
	proc := process.New(context.Background(), uuid.New(), uuid.New(), process.Limitation{
		ChunkSize:             1024,
		MorselRows:            4096,
		RuntimeFilterNDVLimit: 1 << 20,
	})
	t.Cleanup(proc.Close)
	return proc
}

func TestCountDownDriversExactlyOnce(t *testing.T) {
	defer leaktest.AfterTest(t)()

	const n = 64
	fc := NewFragmentContext()
	fc.SetDrivers(make([]*Driver, n))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fc.CountDownDrivers() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSetFinalStatusFirstWins(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	errs := []error{
		qerr.NewInternalError(context.TODO(), "a"),
		qerr.NewInternalError(context.TODO(), "b"),
		qerr.NewInternalError(context.TODO(), "c"),
	}

	var wg sync.WaitGroup
	for _, e := range errs {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			fc.SetFinalStatus(e)
		}()
	}
	wg.Wait()

	got := fc.FinalStatus()
	require.Error(t, got)
	assert.Contains(t, errs, got)
	// settled: later writes are ignored
	fc.SetFinalStatus(qerr.NewInternalError(context.TODO(), "late"))
	assert.Equal(t, got, fc.FinalStatus())
}

func TestCancelThenFinishKeepsStatus(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	cause := qerr.NewInternalError(context.TODO(), "boom")
	fc.Cancel(cause)
	fc.Finish()

	assert.True(t, fc.IsCanceled())
	assert.Equal(t, cause, fc.FinalStatus())
}

func TestFinishThenCancelStaysOk(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	fc.Finish()
	fc.Cancel(qerr.NewInternalError(context.TODO(), "too late"))

	assert.True(t, fc.IsCanceled())
	assert.NoError(t, fc.FinalStatus())
}

func TestCancelReleasesRuntimeState(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	proc := newTestProcess(t)
	fc.SetRuntimeState(proc)

	require.NoError(t, proc.Ctx.Err())
	fc.Cancel(qerr.NewQueryCancelled(proc.Ctx))
	assert.Error(t, proc.Ctx.Err())
}

func TestReportDriverFinishedFiresCallbackOnce(t *testing.T) {
	defer leaktest.AfterTest(t)()

	const n = 32
	fc := NewFragmentContext()
	fc.SetDrivers(make([]*Driver, n))

	var fired atomic.Int32
	fc.SetOnFinished(func(c *FragmentContext) {
		fired.Add(1)
	})

	cause := qerr.NewInternalError(context.TODO(), "driver 7 failed")
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == 7 {
				fc.reportDriverFinished(cause)
				return
			}
			fc.reportDriverFinished(nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, fc.IsCanceled())
	assert.Equal(t, cause, fc.FinalStatus())
}

func TestReportDriverFinishedAllOk(t *testing.T) {
	defer leaktest.AfterTest(t)()

	const n = 8
	fc := NewFragmentContext()
	fc.SetDrivers(make([]*Driver, n))

	done := make(chan struct{})
	fc.SetOnFinished(func(c *FragmentContext) {
		close(done)
	})
	for i := 0; i < n; i++ {
		fc.reportDriverFinished(nil)
	}

	select {
	case <-done:
	default:
		t.Fatal("on-finished callback not fired")
	}
	assert.NoError(t, fc.FinalStatus())
}

func TestMarkPopulatedClaimsOnce(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	var claims atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fc.MarkPopulated() {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claims.Load())
}

func TestManagerGetOrRegister(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	id := uuid.New()

	fc := mgr.GetOrRegister(id)
	require.NotNil(t, fc)
	assert.Equal(t, id, fc.FragmentInstanceID())
	assert.Same(t, fc, mgr.GetOrRegister(id))
	assert.Same(t, fc, mgr.Get(id))
	assert.Nil(t, mgr.Get(uuid.New()))
}

func TestManagerGetOrRegisterConcurrent(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	id := uuid.New()

	const n = 32
	results := make([]*FragmentContext, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = mgr.GetOrRegister(id)
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestManagerRegisterCtxKeepsExisting(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	id := uuid.New()
	first := mgr.GetOrRegister(id)

	dup := NewFragmentContext()
	dup.SetFragmentInstanceID(id)
	mgr.RegisterCtx(id, dup)
	assert.Same(t, first, mgr.Get(id))
}

func TestManagerUnregisterFulfillsFuture(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	id := uuid.New()
	fc := mgr.GetOrRegister(id)
	future := fc.FinishFuture()
	require.False(t, future.IsReady())

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- future.Wait(context.Background())
	}()

	mgr.Unregister(id)
	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("future not released by unregister")
	}
	assert.True(t, future.IsReady())
	assert.Nil(t, mgr.Get(id))

	// idempotent
	mgr.Unregister(id)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fc := NewFragmentContext()
	future := fc.FinishFuture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := future.Wait(ctx)
	require.Error(t, err)
}

func TestManagerCancelBroadcasts(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	var fcs []*FragmentContext
	for i := 0; i < 4; i++ {
		fcs = append(fcs, mgr.GetOrRegister(uuid.New()))
	}

	cause := qerr.NewQueryCancelled(context.TODO())
	mgr.Cancel(cause)
	for _, fc := range fcs {
		assert.True(t, fc.IsCanceled())
		assert.Equal(t, cause, fc.FinalStatus())
	}
}

func TestUnregisterRunsTeardownOrder(t *testing.T) {
	defer leaktest.AfterTest(t)()

	mgr := NewFragmentContextManager()
	id := uuid.New()
	fc := mgr.GetOrRegister(id)

	proc := process.New(context.Background(), uuid.New(), id, process.Limitation{})
	fc.SetRuntimeState(proc)

	var poolFreed bool
	proc.Pool().Add(func() { poolFreed = true })

	// a pending filter must be force-published before the pool is freed
	port := fc.RuntimeFilterPort()
	released := make(chan struct{})
	go func() {
		rf, err := port.Wait(proc, 42)
		assert.NoError(t, err)
		assert.True(t, rf.AlwaysPass)
		close(released)
	}()
	// let the waiter park
	time.Sleep(10 * time.Millisecond)

	mgr.Unregister(id)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("filter waiter not released by teardown")
	}
	assert.True(t, poolFreed)
	assert.Nil(t, fc.RuntimeState())
}
