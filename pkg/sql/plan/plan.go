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

// Package plan holds the physical plan subtree delivered with a fragment
// instance. The planner that produces it lives on the coordinating node;
// here the tree is read-only input to pipeline construction.
package plan

import (
	"github.com/quarkdb/quark/pkg/vm/process"
)

type NodeKind int32

const (
	// Scan reads a relation morsel by morsel.
	Scan NodeKind = iota
	// Filter applies a static range predicate and any runtime filter
	// published for it.
	Filter
	// FilterBuild is the build side of a join reduced to what this core
	// needs: it consumes its child and publishes a runtime filter.
	FilterBuild
	// Result pipes fragment output to the caller.
	Result
)

func (k NodeKind) String() string {
	switch k {
	case Scan:
		return "scan"
	case Filter:
		return "filter"
	case FilterBuild:
		return "filter-build"
	case Result:
		return "result"
	}
	return "unknown"
}

// Node is one operator of the fragment's physical plan. Fields are a union
// over kinds, the usual shape of plan trees that travel between nodes.
type Node struct {
	ID       int32
	Kind     NodeKind
	Children []*Node

	// Parallelism is the degree of parallelism requested for the pipeline
	// this node ends up in. 0 means inherit.
	Parallelism int32

	// Scan
	Table string
	Attrs []string

	// Filter: keep rows with MinValue <= col < MaxValue.
	FilterAttr string
	MinValue   int64
	MaxValue   int64
	// ConsumeFilterID is the runtime filter to wait for, or 0.
	ConsumeFilterID int32

	// FilterBuild
	PublishFilterID int32
	BuildKeyAttr    string
}

// Bind registers the plan tree into the process object pool, making the
// runtime state the owner of every node. Callers keep only borrowed
// pointers afterwards.
func Bind(proc *process.Process, root *Node) *Node {
	proc.Pool().Add(func() {
		release(root)
	})
	return root
}

func release(n *Node) {
	if n == nil {
		return
	}
	for _, c := range n.Children {
		release(c)
	}
	n.Children = nil
}
