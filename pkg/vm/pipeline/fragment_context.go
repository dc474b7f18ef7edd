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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/logutil"
	"github.com/quarkdb/quark/pkg/sql/plan"
	"github.com/quarkdb/quark/pkg/vm/exchange"
	"github.com/quarkdb/quark/pkg/vm/process"
)

// statusCell is the unit the first-failure capture publishes. The cell is
// fully written before the CAS makes it visible, so a reader can never
// observe a claimed-but-unwritten status. err == nil records a normal
// finish claiming the slot.
type statusCell struct {
	err *qerr.Error
}

// FragmentContext owns the runtime of one fragment instance of one query:
// its runtime state, plan, pipelines, drivers, morsel supply and runtime
// filter hub. It is the single point of truth for cancellation,
// first-failure capture and all-drivers-done detection.
type FragmentContext struct {
	queryID            uuid.UUID
	fragmentInstanceID uuid.UUID
	coordinatorAddr    string

	// promise used to determine whether the fragment finished; fulfilled
	// by the manager at unregistration, exactly once.
	finishPromise *fragmentPromise

	// never adjust the teardown order of runtimeState, plan, pipelines
	// and drivers: plan lives in runtimeState's object pool, and both
	// pipelines and drivers reference plan and runtimeState non-owning.
	runtimeState *process.Process
	plan         *plan.Node
	pipelines    []*Pipeline
	drivers      []*Driver

	hub *RuntimeFilterHub
	// morselQueues maps a scan operator id to the MorselQueue shared
	// among drivers created from the pipeline containing that scan.
	morselQueues MorselQueueMap

	// numDrivers counts down as drivers report; when it hits zero all
	// drivers have finished and the fragment can be reported upstream
	// and unregistered safely.
	numDrivers  atomic.Int64
	finalStatus atomic.Pointer[statusCell]
	cancelFlag  atomic.Bool

	populated atomic.Bool

	streamMgr           *exchange.StreamManager
	passThroughPrepared atomic.Bool

	finishedOnce sync.Once
	onFinished   func(*FragmentContext)
}

func NewFragmentContext() *FragmentContext {
	return &FragmentContext{
		finishPromise: newFragmentPromise(),
		hub:           NewRuntimeFilterHub(),
		morselQueues:  make(MorselQueueMap),
	}
}

func (c *FragmentContext) QueryID() uuid.UUID { return c.queryID }

func (c *FragmentContext) SetQueryID(id uuid.UUID) { c.queryID = id }

func (c *FragmentContext) FragmentInstanceID() uuid.UUID { return c.fragmentInstanceID }

func (c *FragmentContext) SetFragmentInstanceID(id uuid.UUID) { c.fragmentInstanceID = id }

func (c *FragmentContext) CoordinatorAddr() string { return c.coordinatorAddr }

func (c *FragmentContext) SetCoordinatorAddr(addr string) { c.coordinatorAddr = addr }

// MarkPopulated claims the one-time population of this context. A second
// setup attempt for the same fragment instance observes false and must
// leave the context alone.
func (c *FragmentContext) MarkPopulated() bool {
	return c.populated.CompareAndSwap(false, true)
}

func (c *FragmentContext) RuntimeState() *process.Process { return c.runtimeState }

func (c *FragmentContext) SetRuntimeState(proc *process.Process) { c.runtimeState = proc }

// Plan returns the borrowed plan pointer; it is valid only while the
// runtime state is alive.
func (c *FragmentContext) Plan() *plan.Node { return c.plan }

func (c *FragmentContext) SetPlan(root *plan.Node) { c.plan = root }

func (c *FragmentContext) Pipelines() []*Pipeline { return c.pipelines }

func (c *FragmentContext) SetPipelines(pipelines []*Pipeline) { c.pipelines = pipelines }

func (c *FragmentContext) Drivers() []*Driver { return c.drivers }

// SetDrivers installs the instantiated drivers and arms the context: the
// driver countdown is initialized and any prior status cleared.
func (c *FragmentContext) SetDrivers(drivers []*Driver) {
	c.drivers = drivers
	c.numDrivers.Store(int64(len(drivers)))
	c.finalStatus.Store(nil)
}

// CountDownDrivers reports one driver finished. It returns true for
// exactly one caller over the lifetime of an armed context: the one whose
// decrement observed the last remaining driver. The atomic decrement also
// orders every earlier report before the winning caller's next load.
func (c *FragmentContext) CountDownDrivers() bool {
	return c.numDrivers.Add(-1) == 0
}

// SetFinalStatus captures a terminal status, first writer wins. Racing
// callers are safe; only the first call's status is retained.
func (c *FragmentContext) SetFinalStatus(err error) {
	if c.finalStatus.Load() != nil {
		return
	}
	cell := &statusCell{}
	if err != nil {
		cell.err = qerr.DowncastError(err)
	}
	if c.finalStatus.CompareAndSwap(nil, cell) {
		if cell.err != nil && qerr.IsCancelled(cell.err) {
			logutil.Warn("[driver] canceled",
				logutil.QueryIDField(c.queryID.String()),
				logutil.FragmentInstanceIDField(c.fragmentInstanceID.String()),
				logutil.ErrorField(cell.err))
		}
	}
}

// FinalStatus returns the captured status, or nil if none was set or a
// normal finish claimed the slot.
func (c *FragmentContext) FinalStatus() error {
	cell := c.finalStatus.Load()
	if cell == nil || cell.err == nil {
		return nil
	}
	return cell.err
}

// Cancel requests cooperative termination: the flag is published before
// the status so a driver that observes the status also observes the flag,
// and the process context is cancelled to free any blocked pull.
func (c *FragmentContext) Cancel(err error) {
	c.cancelFlag.Store(true)
	c.SetFinalStatus(err)
	if c.runtimeState != nil {
		c.runtimeState.Cancel()
	}
}

// Finish is normal completion; it shares the cancel path with a nil
// status, so after Finish the cancel flag reads true and the final status
// stays whatever was captured first.
func (c *FragmentContext) Finish() {
	c.Cancel(nil)
}

// IsCanceled is the advisory flag drivers poll between steps; a driver
// mid-step is never forcibly interrupted.
func (c *FragmentContext) IsCanceled() bool {
	return c.cancelFlag.Load()
}

func (c *FragmentContext) MorselQueues() MorselQueueMap { return c.morselQueues }

func (c *FragmentContext) SetMorselQueues(m MorselQueueMap) { c.morselQueues = m }

func (c *FragmentContext) RuntimeFilterHub() *RuntimeFilterHub { return c.hub }

func (c *FragmentContext) RuntimeFilterPort() *RuntimeFilterPort {
	return NewRuntimeFilterPort(c.hub)
}

// FinishFuture resolves when the manager unregisters this context. It is
// the only blocking rendez-vous point of the fragment lifecycle.
func (c *FragmentContext) FinishFuture() FragmentFuture {
	return FragmentFuture{done: c.finishPromise.done}
}

// PrepareAllPipelines runs each pipeline's prepare hook against the
// runtime state, failing fast: a fragment with any unpreparable pipeline
// never starts executing.
func (c *FragmentContext) PrepareAllPipelines() error {
	for _, p := range c.pipelines {
		if err := p.Prepare(c.runtimeState); err != nil {
			return err
		}
	}
	return nil
}

func (c *FragmentContext) closeAllPipelines() {
	for _, p := range c.pipelines {
		p.Close(c.runtimeState)
	}
}

// SetOnFinished installs the callback fired once, by the driver whose
// CountDownDrivers observed the last finish. Must be set before drivers
// are submitted.
func (c *FragmentContext) SetOnFinished(fn func(*FragmentContext)) {
	c.onFinished = fn
}

// reportDriverFinished is the terminal report every driver makes exactly
// once. A failed driver captures its status and trips the cancel flag so
// siblings stop cooperatively; the last reporter finalizes the fragment.
func (c *FragmentContext) reportDriverFinished(err error) {
	if err != nil {
		c.Cancel(err)
	}
	if c.CountDownDrivers() {
		c.Finish()
		c.finishedOnce.Do(func() {
			if c.onFinished != nil {
				c.onFinished(c)
			}
		})
	}
}

func (c *FragmentContext) SetStreamManager(m *exchange.StreamManager) { c.streamMgr = m }

// PreparePassThroughChunkBuffer takes this instance's reference on the
// query-wide pass-through buffer. Idempotent per context.
func (c *FragmentContext) PreparePassThroughChunkBuffer() {
	if c.streamMgr == nil {
		return
	}
	if c.passThroughPrepared.CompareAndSwap(false, true) {
		c.streamMgr.PreparePassThroughChunkBuffer(c.queryID)
	}
}

// DestroyPassThroughChunkBuffer drops the reference; released on every
// teardown path, success or failure.
func (c *FragmentContext) DestroyPassThroughChunkBuffer() {
	if c.streamMgr == nil {
		return
	}
	if c.passThroughPrepared.CompareAndSwap(true, false) {
		c.streamMgr.DestroyPassThroughChunkBuffer(c.queryID)
	}
}

// destroy tears the context down in the one safe order: unblock filter
// waiters, release drivers, close pipelines, drop the borrowed plan
// pointer, release the buffer reference, and only then close the runtime
// state that owns the plan's storage.
func (c *FragmentContext) destroy() {
	if c.runtimeState != nil {
		c.hub.CloseAllInFilters(c.runtimeState)
	}
	c.drivers = nil
	if c.runtimeState != nil {
		c.closeAllPipelines()
	}
	c.pipelines = nil
	c.plan = nil
	c.DestroyPassThroughChunkBuffer()
	if c.runtimeState != nil {
		c.runtimeState.Close()
		c.runtimeState = nil
	}
}

// FragmentContextManager is the process-wide registry mapping fragment
// instance ids to their contexts. One coarse mutex guards the map; it is
// held only for O(1) operations, never while driver code runs.
type FragmentContextManager struct {
	mu       sync.Mutex
	contexts map[uuid.UUID]*FragmentContext
}

func NewFragmentContextManager() *FragmentContextManager {
	return &FragmentContextManager{contexts: make(map[uuid.UUID]*FragmentContext)}
}

// GetOrRegister returns the context for the instance id, creating an
// empty one on first reference. A late-arriving control message finds a
// placeholder here before the fragment's setup has arrived.
func (m *FragmentContextManager) GetOrRegister(instanceID uuid.UUID) *FragmentContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx, ok := m.contexts[instanceID]; ok {
		return ctx
	}
	ctx := NewFragmentContext()
	ctx.SetFragmentInstanceID(instanceID)
	m.contexts[instanceID] = ctx
	return ctx
}

// RegisterCtx inserts a fully-constructed context; no-op if an entry
// already exists, guarding against duplicate setup requests racing the
// original.
func (m *FragmentContextManager) RegisterCtx(instanceID uuid.UUID, ctx *FragmentContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[instanceID]; ok {
		return
	}
	m.contexts[instanceID] = ctx
}

// Get looks up without creating; nil if absent.
func (m *FragmentContextManager) Get(instanceID uuid.UUID) *FragmentContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[instanceID]
}

// Unregister removes the context, fulfilling its finish promise first so
// any thread blocked on the future is released, then destroys it outside
// the registry lock. Idempotent: unknown ids are a no-op.
func (m *FragmentContextManager) Unregister(instanceID uuid.UUID) {
	m.mu.Lock()
	ctx, ok := m.contexts[instanceID]
	if ok {
		ctx.finishPromise.fulfill()
		delete(m.contexts, instanceID)
	}
	m.mu.Unlock()
	if ok {
		ctx.destroy()
	}
}

// Cancel broadcasts cancellation to every live fragment instance, e.g.
// on node shutdown or query-level abort. It does not wait for drivers
// to stop.
func (m *FragmentContextManager) Cancel(err error) {
	m.mu.Lock()
	snapshot := make([]*FragmentContext, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		snapshot = append(snapshot, ctx)
	}
	m.mu.Unlock()
	for _, ctx := range snapshot {
		ctx.Cancel(err)
	}
}
