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

// Package chunk holds the row batch passed between pipeline operators.
// The engine core treats chunks as opaque cargo; this carrier keeps a
// single fixed-width column type, which is all the bundled kernels need.
package chunk

// Chunk is a batch of rows, stored column-wise.
type Chunk struct {
	Attrs []string
	Vecs  [][]int64
}

func New(attrs []string) *Chunk {
	c := &Chunk{
		Attrs: attrs,
		Vecs:  make([][]int64, len(attrs)),
	}
	return c
}

func NewWithCapacity(attrs []string, capacity int) *Chunk {
	c := &Chunk{
		Attrs: attrs,
		Vecs:  make([][]int64, len(attrs)),
	}
	for i := range c.Vecs {
		c.Vecs[i] = make([]int64, 0, capacity)
	}
	return c
}

func (c *Chunk) NumRows() int {
	if len(c.Vecs) == 0 {
		return 0
	}
	return len(c.Vecs[0])
}

func (c *Chunk) NumCols() int {
	return len(c.Vecs)
}

// AppendRow appends one row; vals must match the chunk schema.
func (c *Chunk) AppendRow(vals ...int64) {
	for i := range c.Vecs {
		c.Vecs[i] = append(c.Vecs[i], vals[i])
	}
}

// Append appends all rows of other, which must share the schema.
func (c *Chunk) Append(other *Chunk) {
	for i := range c.Vecs {
		c.Vecs[i] = append(c.Vecs[i], other.Vecs[i]...)
	}
}

// ColumnIndex returns the position of attr, or -1.
func (c *Chunk) ColumnIndex(attr string) int {
	for i, a := range c.Attrs {
		if a == attr {
			return i
		}
	}
	return -1
}

// Shrink keeps only the rows in sel, in order. sel must be sorted and
// within range.
func (c *Chunk) Shrink(sel []int) {
	for i, vec := range c.Vecs {
		for j, s := range sel {
			vec[j] = vec[s]
		}
		c.Vecs[i] = vec[:len(sel)]
	}
}

// IsEmpty reports whether the chunk has no rows.
func (c *Chunk) IsEmpty() bool {
	return c.NumRows() == 0
}
