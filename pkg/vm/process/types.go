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
)

// Limitation are the per-fragment execution limits and sizing knobs, taken
// from the node configuration when the fragment arrives.
type Limitation struct {
	// ChunkSize is the max rows per chunk produced by sources.
	ChunkSize int
	// MorselRows is the rows covered by one morsel.
	MorselRows int
	// RuntimeFilterNDVLimit caps the distinct count above which a runtime
	// filter degrades to always-pass.
	RuntimeFilterNDVLimit uint64
}

// SessionInfo is the part of the session the execution engine can see.
type SessionInfo struct {
	User     string
	TimeZone string
}

// Process is the runtime state of one fragment instance: everything an
// operator may reach during execution. It is shared read-mostly by all
// drivers of the fragment; the object pool is the one mutable part and is
// only touched during setup and teardown.
type Process struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	QueryID            uuid.UUID
	FragmentInstanceID uuid.UUID

	SessionInfo SessionInfo
	Lim         Limitation

	logger *zap.Logger

	// pool owns objects whose lifetime is tied to this process, most
	// importantly the plan nodes. Freed last during fragment teardown.
	pool *ObjectPool
}

// ObjectPool owns heap objects tied to the process lifetime. Anything that
// must not outlive the runtime state registers a release hook here.
type ObjectPool struct {
	releases []func()
}

func (p *ObjectPool) Add(release func()) {
	p.releases = append(p.releases, release)
}

// Free runs release hooks in reverse registration order.
func (p *ObjectPool) Free() {
	for i := len(p.releases) - 1; i >= 0; i-- {
		p.releases[i]()
	}
	p.releases = nil
}
