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

	"github.com/panjf2000/ants/v2"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/logutil"
)

// DriverExecutor runs drivers on a shared bounded goroutine pool. The
// core never spawns unpooled goroutines; everything a fragment executes
// goes through here.
type DriverExecutor struct {
	size int
	pool *ants.Pool
}

func NewDriverExecutor(size int) *DriverExecutor {
	if size < 1 {
		size = 1
	}
	return &DriverExecutor{size: size}
}

// Start brings up the pool. A start failure is a hard initialization
// failure: no fragment can run on this node until it succeeds.
func (e *DriverExecutor) Start() error {
	pool, err := ants.NewPool(e.size, ants.WithPanicHandler(func(v interface{}) {
		// drivers recover their own panics; this is the backstop for
		// bugs in the executor plumbing itself
		logutil.Errorf("driver executor worker panic: %v", v)
	}))
	if err != nil {
		return qerr.NewInternalError(context.Background(), "start driver executor: %v", err)
	}
	e.pool = pool
	return nil
}

// Stop releases the pool. Submitted drivers already running are not
// interrupted; cancellation is the fragment manager's job.
func (e *DriverExecutor) Stop() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// Submit hands one driver to the pool.
func (e *DriverExecutor) Submit(d *Driver) error {
	if e.pool == nil {
		return qerr.NewDriverPoolClosed(context.Background())
	}
	if err := e.pool.Submit(d.run); err != nil {
		return qerr.NewDriverPoolClosed(context.Background())
	}
	return nil
}
