// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudwego/abgen/internal/pipeline"
)

// Run is one live pipeline run: its shared state plus the handles the
// owner needs to cancel it or wait for it.
type Run struct {
	State  *pipeline.State
	cancel context.CancelFunc
	done   chan struct{}
}

// Done closes after the run reached a terminal status and its result was
// persisted.
func (r *Run) Done() <-chan struct{} { return r.done }

// Registry tracks live runs only. A finished run is removed here and
// answered from the result store afterwards, which is what lets status
// queries survive a process restart.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

func (g *Registry) add(id string, r *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[id] = r
}

func (g *Registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runs, id)
}

func (g *Registry) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

// LiveState resolves a run id to its pipeline state while the run is
// live. Satisfies the progress package's live lookup.
func (g *Registry) LiveState(id string) (*pipeline.State, bool) {
	r, ok := g.Get(id)
	if !ok {
		return nil, false
	}
	return r.State, true
}

// IDs lists the live run ids in stable order.
func (g *Registry) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.runs))
	for id := range g.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runs)
}
