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
	"sync"

	"github.com/quarkdb/quark/pkg/common/qerr"
)

// fragmentPromise is a one-shot, multi-waiter completion signal: set
// exactly once, readable any number of times afterward.
type fragmentPromise struct {
	once sync.Once
	done chan struct{}
}

func newFragmentPromise() *fragmentPromise {
	return &fragmentPromise{done: make(chan struct{})}
}

func (p *fragmentPromise) fulfill() {
	p.once.Do(func() {
		close(p.done)
	})
}

// FragmentFuture resolves when the fragment instance is unregistered.
type FragmentFuture struct {
	done <-chan struct{}
}

// Done is closed once the future resolves.
func (f FragmentFuture) Done() <-chan struct{} {
	return f.done
}

// IsReady reports without blocking.
func (f FragmentFuture) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx expires.
func (f FragmentFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return qerr.NewQueryTimedOut(ctx, "wait fragment finish")
	}
}
