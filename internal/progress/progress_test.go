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

package progress

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/store"
)

type fakeLive struct {
	mu   sync.Mutex
	runs map[string]*pipeline.State
}

func newFakeLive() *fakeLive {
	return &fakeLive{runs: make(map[string]*pipeline.State)}
}

func (f *fakeLive) add(st *pipeline.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[st.RunID()] = st
}

func (f *fakeLive) LiveState(id string) (*pipeline.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.runs[id]
	return st, ok
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]*store.ProjectResult
	err     error
}

func newFakeResults() *fakeResults {
	return &fakeResults{results: make(map[string]*store.ProjectResult)}
}

func (f *fakeResults) put(res *store.ProjectResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[res.ID] = res
}

func (f *fakeResults) Get(id string) (*store.ProjectResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	res, ok := f.results[id]
	return res, ok, nil
}

func newTestProjection() (*Projection, *fakeLive, *fakeResults) {
	live := newFakeLive()
	results := newFakeResults()
	return NewProjection(live, results), live, results
}

func approx(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 0.001 {
		t.Errorf("%s = %.4f, want %.4f", what, got, want)
	}
}

func TestProjection_NotFound(t *testing.T) {
	proj, _, _ := newTestProjection()

	rep := proj.Status("nope")
	if rep.Status != StatusNotFound {
		t.Fatalf("status = %q, want %q", rep.Status, StatusNotFound)
	}
	if rep.IsRunning || rep.IsCompleted || rep.HasFailures {
		t.Errorf("not_found report carries run flags: %+v", rep)
	}
	if rep.Percentage != 0 {
		t.Errorf("percentage = %v, want 0", rep.Percentage)
	}
}

func TestProjection_LiveRun(t *testing.T) {
	proj, live, _ := newTestProjection()

	st := pipeline.NewState("run-1", "calculator", "build a calculator", "python", pipeline.DefaultPlan())
	st.Start()
	st.BeginStep(pipeline.StepRequirements)
	st.UpdateStepProgress(50, "halfway")
	live.add(st)

	rep := proj.Status("run-1")
	if rep.Status != StatusRunning || !rep.IsRunning {
		t.Fatalf("expected running report, got %+v", rep)
	}
	if rep.TotalSteps != 7 {
		t.Errorf("total steps = %d, want 7", rep.TotalSteps)
	}
	if rep.CompletedSteps != 0 || rep.FailedSteps != 0 {
		t.Errorf("step counts = %d/%d, want 0/0", rep.CompletedSteps, rep.FailedSteps)
	}
	approx(t, rep.Percentage, 100.0/7*0.5, "percentage")
	if rep.CurrentStep == nil || rep.CurrentStep.Key != pipeline.StepRequirements {
		t.Errorf("current step = %+v, want %s", rep.CurrentStep, pipeline.StepRequirements)
	}
	if rep.Elapsed < 0 || rep.Remaining < 0 {
		t.Errorf("negative time estimate: elapsed %v remaining %v", rep.Elapsed, rep.Remaining)
	}
}

func TestProjection_WeightedLoopInterpolation(t *testing.T) {
	proj, live, _ := newTestProjection()

	st := pipeline.NewState("run-1", "calculator", "prompt", "python", pipeline.DefaultPlan())
	st.Start()
	st.BeginStep(pipeline.StepRequirements)
	st.EndStep(pipeline.StepRequirements, true, "")
	st.BeginStep(pipeline.StepCodeGeneration)
	st.EndStep(pipeline.StepCodeGeneration, true, "")
	st.BeginStep(pipeline.StepCodeReview)

	tr := loop.NewTracker(loop.Config{ConvergenceThreshold: 0.9, MaxIterations: 4})
	tr.StartLoop()
	tr.CompleteGeneration(0.6)
	tr.CompleteReview(0.2)
	tr.CompleteGeneration(0.7)
	tr.UpdateReviewProgress(50, "")
	st.SetTracker(tr)
	live.add(st)

	rep := proj.Status("run-1")
	if rep.Loop == nil || rep.Loop.Current == nil {
		t.Fatalf("expected loop detail in report, got %+v", rep.Loop)
	}
	if rep.Loop.Current.Number != 2 {
		t.Fatalf("current iteration = %d, want 2", rep.Loop.Current.Number)
	}
	// Two finished steps plus the review step interpolated to iteration
	// 2 of 4 with generation done and review half done.
	weight := 100.0 / 7
	want := 2*weight + weight*(0.25+0.25*0.75)
	approx(t, rep.Percentage, want, "percentage")
}

func TestProjection_CompletedRunPercentages(t *testing.T) {
	keys := []string{
		pipeline.StepRequirements, pipeline.StepCodeGeneration, pipeline.StepCodeReview,
		pipeline.StepDocumentation, pipeline.StepTestGeneration, pipeline.StepDeployment,
		pipeline.StepUIGeneration,
	}

	t.Run("clean", func(t *testing.T) {
		proj, live, _ := newTestProjection()
		st := pipeline.NewState("run-1", "p", "x", "python", pipeline.DefaultPlan())
		st.Start()
		for _, k := range keys {
			st.AddCompleted(k)
		}
		st.Complete()
		live.add(st)

		rep := proj.Status("run-1")
		if rep.Status != StatusCompleted || !rep.IsCompleted || rep.HasFailures {
			t.Fatalf("unexpected report %+v", rep)
		}
		approx(t, rep.Percentage, 100, "percentage")
		if rep.Remaining != 0 {
			t.Errorf("remaining = %v, want 0 for terminal run", rep.Remaining)
		}
	})

	t.Run("warnings only", func(t *testing.T) {
		proj, live, _ := newTestProjection()
		st := pipeline.NewState("run-1", "p", "x", "python", pipeline.DefaultPlan())
		st.Start()
		for _, k := range keys {
			st.AddCompleted(k)
		}
		st.AddWarning("code_generation: completed using fallback due to: timeout")
		st.Complete()
		live.add(st)

		rep := proj.Status("run-1")
		approx(t, rep.Percentage, 95, "percentage")
		if rep.HasFailures {
			t.Error("warnings alone must not set has_failures")
		}
	})

	t.Run("partial", func(t *testing.T) {
		proj, live, _ := newTestProjection()
		st := pipeline.NewState("run-1", "p", "x", "python", pipeline.DefaultPlan())
		st.Start()
		for _, k := range keys[:3] {
			st.AddCompleted(k)
		}
		st.AddFailed(pipeline.StepDocumentation)
		st.AddWarning("documentation: skipped due to failure: boom")
		st.Complete()
		live.add(st)

		rep := proj.Status("run-1")
		if rep.Status != StatusCompleted || !rep.HasFailures {
			t.Fatalf("unexpected report %+v", rep)
		}
		approx(t, rep.Percentage, 3.0/7*100, "percentage")
	})
}

func TestProjection_StoredResult(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		proj, _, results := newTestProjection()
		results.put(&store.ProjectResult{
			ID:             "run-1",
			ProjectName:    "calculator",
			Status:         "completed",
			CompletedSteps: []string{"a", "b", "c", "d", "e", "f", "g"},
			Warnings:       []string{"one warning"},
			Percentage:     95,
			Duration:       12.5,
		})

		rep := proj.Status("run-1")
		if rep.Status != StatusCompleted || !rep.IsCompleted || rep.IsRunning {
			t.Fatalf("unexpected report %+v", rep)
		}
		if rep.Percentage != 95 {
			t.Errorf("percentage = %v, want 95", rep.Percentage)
		}
		if rep.CompletedSteps != 7 || rep.TotalSteps != store.TotalPipelineSteps {
			t.Errorf("step counts = %d/%d", rep.CompletedSteps, rep.TotalSteps)
		}
		if rep.Elapsed != 12.5 {
			t.Errorf("elapsed = %v, want 12.5", rep.Elapsed)
		}
	})

	t.Run("failed", func(t *testing.T) {
		proj, _, results := newTestProjection()
		results.put(&store.ProjectResult{
			ID:      "run-2",
			Status:  "failed",
			Failure: "cancelled",
		})

		rep := proj.Status("run-2")
		if rep.Status != StatusFailed || !rep.HasFailures || rep.IsCompleted {
			t.Fatalf("unexpected report %+v", rep)
		}
		if rep.Failure != "cancelled" {
			t.Errorf("failure = %q", rep.Failure)
		}
	})
}

func TestProjection_LiveWinsOverStored(t *testing.T) {
	proj, live, results := newTestProjection()

	st := pipeline.NewState("run-1", "p", "x", "python", pipeline.DefaultPlan())
	st.Start()
	live.add(st)
	results.put(&store.ProjectResult{ID: "run-1", Status: "completed", Percentage: 100})

	rep := proj.Status("run-1")
	if !rep.IsRunning {
		t.Fatalf("live run must win over a stored result, got %+v", rep)
	}
}

func TestProjection_StoreErrorReportsNotFound(t *testing.T) {
	proj, _, results := newTestProjection()
	results.err = errors.New("disk gone")

	rep := proj.Status("run-1")
	if rep.Status != StatusNotFound {
		t.Fatalf("status = %q, want %q", rep.Status, StatusNotFound)
	}
}

func TestProjection_Logs(t *testing.T) {
	proj, live, _ := newTestProjection()

	st := pipeline.NewState("run-1", "p", "x", "python", pipeline.DefaultPlan())
	st.Log("info", "system", "one")
	st.Log("info", "system", "two")
	st.Log("info", "system", "three")
	st.Log("info", "system", "four")
	live.add(st)

	logs := proj.Logs("run-1", 2)
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[0].Message != "three" || logs[1].Message != "four" {
		t.Errorf("unexpected tail: %q %q", logs[0].Message, logs[1].Message)
	}

	if all := proj.Logs("run-1", 0); len(all) != 4 {
		t.Errorf("unlimited len = %d, want 4", len(all))
	}
	if unknown := proj.Logs("nope", 5); len(unknown) != 0 {
		t.Errorf("unknown id logs = %v, want none", unknown)
	}
}

func TestRemainingSeconds(t *testing.T) {
	if got := remainingSeconds(25, 60, StatusRunning); math.Abs(got-180) > 0.001 {
		t.Errorf("remaining(25%%, 60s) = %v, want 180", got)
	}
	if got := remainingSeconds(0, 60, StatusRunning); got != 0 {
		t.Errorf("remaining at zero progress = %v, want 0", got)
	}
	if got := remainingSeconds(50, 60, StatusCompleted); got != 0 {
		t.Errorf("remaining for terminal = %v, want 0", got)
	}
}

func TestWeightedPercentEmptyPlan(t *testing.T) {
	if got := weightedPercent(pipeline.Snapshot{}); got != 0 {
		t.Errorf("weightedPercent(empty) = %v, want 0", got)
	}
}
