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

// Package memengine is an in-memory storage engine used by tests and the
// demo binary.
package memengine

import (
	"context"
	"sync"

	"github.com/quarkdb/quark/pkg/common/qerr"
	"github.com/quarkdb/quark/pkg/container/chunk"
	"github.com/quarkdb/quark/pkg/vm/engine"
)

type MemEngine struct {
	mu        sync.RWMutex
	relations map[string]*Relation
}

func New() *MemEngine {
	return &MemEngine{relations: make(map[string]*Relation)}
}

func (e *MemEngine) Create(name string, attrs []string) *Relation {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Relation{id: name, data: chunk.New(attrs)}
	e.relations[name] = r
	return r
}

func (e *MemEngine) Relation(name string) (engine.Relation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.relations[name]
	if !ok {
		return nil, qerr.NewInternalError(context.Background(), "relation %s does not exist", name)
	}
	return r, nil
}

type Relation struct {
	mu   sync.RWMutex
	id   string
	data *chunk.Chunk
}

func (r *Relation) ID() string {
	return r.id
}

func (r *Relation) Rows() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(r.data.NumRows())
}

func (r *Relation) Attrs() []string {
	return r.data.Attrs
}

// Append adds rows; only used while loading test data, never concurrently
// with scans.
func (r *Relation) Append(bat *chunk.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Append(bat)
}

func (r *Relation) Read(attrs []string, begin, end int64, chunkSize int) (*chunk.Chunk, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := int64(r.data.NumRows())
	if begin < 0 || begin > end || end > rows {
		return nil, begin, qerr.NewScanRange(context.Background(), begin, end)
	}
	next := end
	if chunkSize > 0 && begin+int64(chunkSize) < end {
		next = begin + int64(chunkSize)
	}
	bat := chunk.NewWithCapacity(attrs, int(next-begin))
	for i, attr := range attrs {
		idx := r.data.ColumnIndex(attr)
		if idx < 0 {
			return nil, begin, qerr.NewInternalError(context.Background(), "relation %s has no column %s", r.id, attr)
		}
		bat.Vecs[i] = append(bat.Vecs[i], r.data.Vecs[idx][begin:next]...)
	}
	return bat, next, nil
}
