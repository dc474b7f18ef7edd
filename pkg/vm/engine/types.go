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

// Package engine is the boundary to the storage engine, which is an
// external collaborator of the execution core. Scan operators only ever
// see these interfaces.
package engine

import (
	"github.com/quarkdb/quark/pkg/container/chunk"
)

// Relation is one scannable table.
type Relation interface {
	ID() string
	Rows() int64
	Attrs() []string

	// Read returns the rows of [begin, end) projected to attrs, at most
	// chunkSize rows at a time; the returned next is the first row not
	// yet read, next == end when the range is drained.
	Read(attrs []string, begin, end int64, chunkSize int) (bat *chunk.Chunk, next int64, err error)
}

// Engine resolves relations by name.
type Engine interface {
	Relation(name string) (Relation, error)
}
