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

// Package execenv wires the per-node execution singletons together: the
// driver pool, the pass-through stream manager and the fragment context
// registry share one lifecycle.
package execenv

import (
	"context"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/config"
	"github.com/quarkdb/quark/pkg/logutil"
	"github.com/quarkdb/quark/pkg/vm/engine"
	"github.com/quarkdb/quark/pkg/vm/exchange"
	"github.com/quarkdb/quark/pkg/vm/pipeline"
)

type ExecEnv struct {
	cfg *config.Config
	eng engine.Engine

	driverExec  *pipeline.DriverExecutor
	streamMgr   *exchange.StreamManager
	fragmentMgr *pipeline.FragmentContextManager
}

func New(cfg *config.Config, eng engine.Engine) *ExecEnv {
	return &ExecEnv{
		cfg:         cfg,
		eng:         eng,
		driverExec:  pipeline.NewDriverExecutor(cfg.Pipeline.DriverPoolSize),
		streamMgr:   exchange.NewStreamManager(),
		fragmentMgr: pipeline.NewFragmentContextManager(),
	}
}

// Start brings up the driver pool. Fragments can be prepared before
// Start but not executed.
func (e *ExecEnv) Start() error {
	if err := e.driverExec.Start(); err != nil {
		return err
	}
	logutil.Infof("exec env started, driver pool size %d", e.cfg.Pipeline.DriverPoolSize)
	return nil
}

// Stop broadcasts cancellation to every live fragment instance, then
// releases the driver pool. Running drivers observe the flag at their
// next cancellation point; Stop does not wait for them.
func (e *ExecEnv) Stop() {
	e.fragmentMgr.Cancel(qerr.NewQueryCancelled(context.Background()))
	e.driverExec.Stop()
	logutil.Info("exec env stopped")
}

func (e *ExecEnv) Config() *config.Config { return e.cfg }

func (e *ExecEnv) Engine() engine.Engine { return e.eng }

func (e *ExecEnv) DriverExecutor() *pipeline.DriverExecutor { return e.driverExec }

func (e *ExecEnv) StreamManager() *exchange.StreamManager { return e.streamMgr }

func (e *ExecEnv) FragmentManager() *pipeline.FragmentContextManager { return e.fragmentMgr }
