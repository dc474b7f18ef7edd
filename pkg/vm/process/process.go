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

package process

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarkdb/quark/pkg/logutil"
)

// New builds the runtime state for one fragment instance. The returned
// process owns its object pool; Close must be called once, after every
// borrower of the pool is gone.
func New(ctx context.Context, queryID, instanceID uuid.UUID, lim Limitation) *Process {
	ctx, cancel := context.WithCancel(ctx)
	proc := &Process{
		Ctx:                ctx,
		Cancel:             cancel,
		QueryID:            queryID,
		FragmentInstanceID: instanceID,
		Lim:                lim,
		pool:               &ObjectPool{},
	}
	proc.logger = logutil.GetGlobalLogger().With(
		logutil.QueryIDField(queryID.String()),
		logutil.FragmentInstanceIDField(instanceID.String()),
	)
	return proc
}

func (proc *Process) Pool() *ObjectPool {
	return proc.pool
}

// Close cancels the process context and frees the object pool. Anything
// borrowed from the pool, the plan above all, is invalid afterwards.
func (proc *Process) Close() {
	proc.Cancel()
	proc.pool.Free()
}

func (proc *Process) Logger() *zap.Logger {
	return proc.logger
}

func (proc *Process) Info(msg string, fields ...zap.Field) {
	proc.logger.Info(msg, fields...)
}

func (proc *Process) Warn(msg string, fields ...zap.Field) {
	proc.logger.Warn(msg, fields...)
}

func (proc *Process) Error(msg string, fields ...zap.Field) {
	proc.logger.Error(msg, fields...)
}

func (proc *Process) Debug(msg string, fields ...zap.Field) {
	proc.logger.Debug(msg, fields...)
}
