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

// Package runner accepts generation requests and drives each one through
// the project pipeline on a bounded worker pool. Live runs are visible
// through the registry; terminal results go to the store exactly once.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/pipeline/steps"
	"github.com/cloudwego/abgen/internal/store"
)

// Options wires a Runner. Store and Writer may be nil in tools that only
// need the in-memory run, but the server always sets both.
type Options struct {
	Deps        steps.Deps
	Store       *store.ResultStore
	Writer      *store.Writer
	Pool        *Pool
	Plan        []pipeline.StepPlan
	StepTimeout time.Duration
}

// Runner owns the worker pool and the live-run registry.
type Runner struct {
	deps        steps.Deps
	store       *store.ResultStore
	writer      *store.Writer
	pool        *Pool
	registry    *Registry
	plan        []pipeline.StepPlan
	stepTimeout time.Duration
}

func New(opts Options) *Runner {
	pool := opts.Pool
	if pool == nil {
		pool = NewPool(DefaultPoolSize)
	}
	plan := opts.Plan
	if len(plan) == 0 {
		plan = pipeline.DefaultPlan()
	}
	return &Runner{
		deps:        opts.Deps,
		store:       opts.Store,
		writer:      opts.Writer,
		pool:        pool,
		registry:    NewRegistry(),
		plan:        plan,
		stepTimeout: opts.StepTimeout,
	}
}

// Registry exposes the live-run lookup for progress projections.
func (r *Runner) Registry() *Registry { return r.registry }

// StartRequest is one generation request.
type StartRequest struct {
	Prompt      string
	ProjectName string
	Language    string
	Loop        loop.Config
}

// StartRun registers a new run and queues it on the pool. It returns the
// run id immediately; callers follow the run through the progress API.
func (r *Runner) StartRun(req StartRequest) (string, error) {
	run, err := r.start(req)
	if err != nil {
		return "", err
	}
	return run.State.RunID(), nil
}

// RunOnce drives one run and waits for its terminal result, for one-shot
// CLI use. Cancelling ctx cancels the run cooperatively.
func (r *Runner) RunOnce(ctx context.Context, req StartRequest) (*store.ProjectResult, error) {
	run, err := r.start(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
	case <-ctx.Done():
		run.cancel()
		<-run.Done()
	}
	return store.ResultFromRun(run.State.Snapshot(), run.State.Artifacts()), nil
}

func (r *Runner) start(req StartRequest) (*Run, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt must not be empty")
	}
	name := req.ProjectName
	if name == "" {
		name = fmt.Sprintf("project_%s", time.Now().Format("20060102_150405"))
	}
	id := uuid.NewString()
	st := pipeline.NewState(id, name, req.Prompt, req.Language, r.plan)

	deps := r.deps
	deps.LoopConfig = mergeLoopConfig(deps.LoopConfig, req.Loop)
	pl := &pipeline.Pipeline{Steps: steps.Standard(deps), StepTimeout: r.stepTimeout}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{State: st, cancel: cancel, done: make(chan struct{})}
	r.registry.add(id, run)

	err := r.pool.Submit(func() {
		defer close(run.done)
		defer cancel()
		if rerr := pl.Run(ctx, st); rerr != nil {
			log.Error("run %s ended early: %v", id, rerr)
		}
		r.persist(st)
		r.registry.remove(id)
	})
	if err != nil {
		cancel()
		r.registry.remove(id)
		return nil, err
	}
	log.Info("run %s accepted for project %s", id, name)
	return run, nil
}

// mergeLoopConfig overlays the request's non-zero loop settings on the
// runner's defaults, so a caller tuning one knob keeps the rest.
func mergeLoopConfig(base, req loop.Config) loop.Config {
	if req.ConvergenceThreshold != 0 {
		base.ConvergenceThreshold = req.ConvergenceThreshold
	}
	if req.MaxIterations != 0 {
		base.MaxIterations = req.MaxIterations
	}
	if req.ContinueExpr != "" {
		base.ContinueExpr = req.ContinueExpr
	}
	return base
}

// Cancel requests cooperative cancellation of a live run. The pipeline
// observes it at the next step boundary. Reports whether a live run was
// found.
func (r *Runner) Cancel(id string) bool {
	run, ok := r.registry.Get(id)
	if !ok {
		return false
	}
	run.cancel()
	log.Info("run %s cancellation requested", id)
	return true
}

// Shutdown stops accepting runs and drains the pool.
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.pool.Shutdown(ctx)
}

// persist records the terminal result: the store first, then the project
// files for runs that actually produced something.
func (r *Runner) persist(st *pipeline.State) {
	snap := st.Snapshot()
	res := store.ResultFromRun(snap, st.Artifacts())
	if r.store != nil {
		if err := r.store.Put(res); err != nil {
			log.Error("persist result %s: %v", res.ID, err)
		}
	}
	if r.writer != nil && snap.Status == pipeline.RunCompleted && res.HasPartialResults() {
		if _, err := r.writer.Write(res); err != nil {
			log.Error("write project files for %s: %v", res.ID, err)
		}
	}
}
