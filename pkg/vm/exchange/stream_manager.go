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

// Package exchange provides the in-process data hand-off between
// cooperating fragment instances of one query running on the same node.
// No bytes cross the network here; chunks move by pointer.
package exchange

import (
	"sync"

	"github.com/google/uuid"

	"github.com/quarkdb/quark/pkg/container/chunk"
)

// StreamManager is the node-wide registry of pass-through chunk buffers,
// one per query. Buffers are refcounted: every fragment instance of the
// query prepares the buffer once and destroys it once, in any order.
type StreamManager struct {
	mu      sync.Mutex
	buffers map[uuid.UUID]*refCountedBuffer
}

type refCountedBuffer struct {
	refs int
	buf  *PassThroughChunkBuffer
}

func NewStreamManager() *StreamManager {
	return &StreamManager{buffers: make(map[uuid.UUID]*refCountedBuffer)}
}

// PreparePassThroughChunkBuffer takes a reference on the query's buffer,
// creating it on the first call.
func (m *StreamManager) PreparePassThroughChunkBuffer(queryID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.buffers[queryID]
	if !ok {
		rc = &refCountedBuffer{buf: newPassThroughChunkBuffer()}
		m.buffers[queryID] = rc
	}
	rc.refs++
}

// DestroyPassThroughChunkBuffer drops one reference; the buffer and any
// chunks still parked in it are released with the last reference. Calling
// it for an unknown query is a no-op.
func (m *StreamManager) DestroyPassThroughChunkBuffer(queryID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.buffers[queryID]
	if !ok {
		return
	}
	rc.refs--
	if rc.refs <= 0 {
		delete(m.buffers, queryID)
	}
}

// GetPassThroughChunkBuffer returns the query's buffer, or nil if no
// fragment instance has prepared it.
func (m *StreamManager) GetPassThroughChunkBuffer(queryID uuid.UUID) *PassThroughChunkBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.buffers[queryID]
	if !ok {
		return nil
	}
	return rc.buf
}

// PassThroughChunkBuffer parks chunks a sender fragment instance hands to
// a receiver instance of the same query on this node.
type PassThroughChunkBuffer struct {
	mu     sync.Mutex
	queues map[uuid.UUID]*ChunkQueue
}

func newPassThroughChunkBuffer() *PassThroughChunkBuffer {
	return &PassThroughChunkBuffer{queues: make(map[uuid.UUID]*ChunkQueue)}
}

// Queue returns the receiver instance's queue, creating it if needed.
func (b *PassThroughChunkBuffer) Queue(receiverInstanceID uuid.UUID) *ChunkQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[receiverInstanceID]
	if !ok {
		q = &ChunkQueue{}
		b.queues[receiverInstanceID] = q
	}
	return q
}

// ChunkQueue is a grab-all mailbox: senders append, the receiver drains.
type ChunkQueue struct {
	mu     sync.Mutex
	chunks []*chunk.Chunk
}

func (q *ChunkQueue) Put(c *chunk.Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = append(q.chunks, c)
}

// PullAll returns everything parked so far and empties the queue.
func (q *ChunkQueue) PullAll() []*chunk.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	return out
}
