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

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/llm"
)

// Step is one stage of the project pipeline. Run is the primary path and
// may call out to models; Fallback must be local and deterministic.
// Placeholder synthesizes the minimal artifact used when even the
// fallback of a critical step fails, so downstream steps always find
// something to consume.
type Step interface {
	Name() string
	Critical() bool
	Run(ctx context.Context, st *State) error
	Fallback(ctx context.Context, st *State) error
	Placeholder(st *State)
}

// DefaultStepTimeout bounds each primary step attempt.
const DefaultStepTimeout = 90 * time.Second

// Pipeline runs the project steps in order. A failing step degrades its
// own artifact through the fallback chain instead of failing the run;
// only cancellation or an internal defect ends a run early.
type Pipeline struct {
	Steps       []Step
	StepTimeout time.Duration
}

// Run executes all steps and always leaves the state in a terminal
// status. The returned error reports cancellation or an internal defect;
// step-level failures are absorbed into warnings and failed_steps.
func (p *Pipeline) Run(ctx context.Context, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pipeline internal error: %v", r)
			log.Error("pipeline run %s panicked: %v", st.RunID(), r)
			st.Fail(err.Error())
		}
	}()

	st.Start()
	for _, step := range p.Steps {
		if cerr := ctx.Err(); cerr != nil {
			st.Fail("run cancelled")
			return cerr
		}
		st.BeginStep(step.Name())
		if cerr := p.runStep(ctx, step, st); cerr != nil {
			st.Fail("run cancelled during step " + step.Name())
			return cerr
		}
	}
	st.Complete()
	return nil
}

// runStep drives one step through the primary, fallback and placeholder
// chain. It only returns an error when the surrounding run is cancelled.
func (p *Pipeline) runStep(ctx context.Context, step Step, st *State) error {
	name := step.Name()
	timeout := p.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	if th, ok := step.(interface{ Timeout() time.Duration }); ok && th.Timeout() > 0 {
		timeout = th.Timeout()
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	err := step.Run(stepCtx, st)
	cancel()
	if err == nil {
		st.AddCompleted(name)
		st.Record(StepRecord{StepName: name, Attempt: 1, Status: StepOK, Time: time.Now()})
		st.EndStep(name, true, "")
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		st.EndStep(name, false, "cancelled")
		return cerr
	}

	// Classification changes how loudly we log, not what happens next.
	if llm.IsLimit(err) {
		log.Warn("step %s hit the completion turn limit: %v", name, err)
	} else {
		log.Error("step %s failed: %v", name, err)
	}
	st.Record(StepRecord{StepName: name, Attempt: 1, Status: StepFailed, Error: err.Error(), Time: time.Now()})

	log.Info("attempting fallback for step %s", name)
	fbErr := step.Fallback(ctx, st)
	if fbErr == nil {
		st.AddCompleted(name + "_fallback")
		st.AddWarning(fmt.Sprintf("%s: completed using fallback due to: %v", name, err))
		st.Record(StepRecord{StepName: name, Attempt: 2, Status: StepFallback, Time: time.Now()})
		st.EndStep(name, true, "completed using fallback")
		return nil
	}
	log.Error("fallback for step %s also failed: %v", name, fbErr)
	st.Record(StepRecord{StepName: name, Attempt: 2, Status: StepFailed, Error: fbErr.Error(), Time: time.Now()})

	if step.Critical() {
		cerr := &CriticalStepError{Step: name, Primary: err, Fallback: fbErr}
		log.Error("%v, synthesizing minimal result", cerr)
		step.Placeholder(st)
		st.AddCompleted(name + "_fallback")
		st.AddWarning(fmt.Sprintf("%s: using minimal fallback due to complete failure", name))
		st.Record(StepRecord{StepName: name, Attempt: 3, Status: StepPlaceholder, Time: time.Now()})
		st.EndStep(name, true, "minimal placeholder")
		return nil
	}

	st.AddFailed(name)
	st.AddWarning(fmt.Sprintf("%s: skipped due to failure: %v", name, err))
	st.EndStep(name, false, "skipped")
	return nil
}

// CriticalStepError records a critical step whose fallback failed too.
// It never crosses the pipeline boundary; the run proceeds on a
// placeholder artifact.
type CriticalStepError struct {
	Step     string
	Primary  error
	Fallback error
}

func (e *CriticalStepError) Error() string {
	return fmt.Sprintf("critical step %s exhausted: primary: %v, fallback: %v", e.Step, e.Primary, e.Fallback)
}
