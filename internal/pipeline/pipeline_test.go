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
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// stubStep is a configurable step for runner tests.
type stubStep struct {
	name        string
	critical    bool
	runErr      error
	fallbackErr error
	payload     string
}

func (s *stubStep) Name() string   { return s.name }
func (s *stubStep) Critical() bool { return s.critical }

func (s *stubStep) Run(ctx context.Context, st *State) error {
	if s.runErr != nil {
		return s.runErr
	}
	st.SetArtifact(NewArtifact(s.name, s.payload))
	return nil
}

func (s *stubStep) Fallback(ctx context.Context, st *State) error {
	if s.fallbackErr != nil {
		return s.fallbackErr
	}
	st.SetArtifact(NewArtifact(s.name, s.payload+" (fallback)"))
	return nil
}

func (s *stubStep) Placeholder(st *State) {
	st.SetArtifact(NewArtifact(s.name, "minimal placeholder"))
}

func testPlan(keys ...string) []StepPlan {
	plan := make([]StepPlan, 0, len(keys))
	for _, k := range keys {
		plan = append(plan, StepPlan{Key: k, Title: k})
	}
	return plan
}

func TestPipeline_Run_AllPrimary(t *testing.T) {
	st := NewState("run-1", "proj", "build a thing", "python", testPlan("alpha", "beta"))
	pl := &Pipeline{Steps: []Step{
		&stubStep{name: "alpha", payload: "a"},
		&stubStep{name: "beta", payload: "b"},
	}}

	if err := pl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := st.Snapshot()
	if snap.Status != RunCompleted {
		t.Fatalf("status: got %s", snap.Status)
	}
	if len(snap.CompletedSteps) != 2 || snap.CompletedSteps[0] != "alpha" {
		t.Errorf("completed steps: got %v", snap.CompletedSteps)
	}
	if len(snap.FailedSteps) != 0 || len(snap.Warnings) != 0 {
		t.Errorf("expected clean run, got failed=%v warnings=%v", snap.FailedSteps, snap.Warnings)
	}
	if len(snap.History) != 2 || snap.History[0].Status != StepOK {
		t.Errorf("history: got %+v", snap.History)
	}
	if !snap.OverallSuccess() {
		t.Error("expected overall success")
	}
}

func TestPipeline_FallbackOnLimitError(t *testing.T) {
	limitErr := errors.New("agent hit Maximum number of consecutive auto-replies")
	st := NewState("run-1", "proj", "p", "python", testPlan("gen"))
	pl := &Pipeline{Steps: []Step{
		&stubStep{name: "gen", runErr: limitErr, payload: "code"},
	}}

	if err := pl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := st.Snapshot()
	if len(snap.CompletedSteps) != 1 || snap.CompletedSteps[0] != "gen_fallback" {
		t.Fatalf("completed steps: got %v", snap.CompletedSteps)
	}
	if len(snap.FailedSteps) != 0 {
		t.Errorf("fallback success must not be a failure, got %v", snap.FailedSteps)
	}
	mentions := 0
	for _, w := range snap.Warnings {
		if strings.Contains(w, "gen") {
			mentions++
		}
	}
	if mentions != 1 {
		t.Errorf("expected exactly one warning mentioning the step, got %v", snap.Warnings)
	}
	want := "gen: completed using fallback due to: " + limitErr.Error()
	if snap.Warnings[0] != want {
		t.Errorf("warning format:\n got %q\nwant %q", snap.Warnings[0], want)
	}
	if got, _ := st.Artifact("gen"); got.Text != "code (fallback)" {
		t.Errorf("artifact: got %q", got.Text)
	}
}

func TestPipeline_CriticalStepPlaceholder(t *testing.T) {
	st := NewState("run-1", "proj", "p", "python", testPlan("core"))
	pl := &Pipeline{Steps: []Step{
		&stubStep{
			name:        "core",
			critical:    true,
			runErr:      errors.New("primary down"),
			fallbackErr: errors.New("fallback down"),
		},
	}}

	if err := pl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := st.Snapshot()
	a, ok := st.Artifact("core")
	if !ok || a.Text == "" {
		t.Fatal("critical step must leave a non-empty placeholder artifact")
	}
	found := false
	for _, c := range snap.CompletedSteps {
		if c == "core_fallback" {
			found = true
		}
	}
	if !found {
		t.Errorf("placeholder must be recorded as fallback-completed, got %v", snap.CompletedSteps)
	}
	if snap.Status != RunCompleted {
		t.Errorf("run must proceed past an exhausted critical step, got %s", snap.Status)
	}
}

func TestPipeline_NonCriticalStepSkipped(t *testing.T) {
	st := NewState("run-1", "proj", "p", "python", testPlan("extra"))
	pl := &Pipeline{Steps: []Step{
		&stubStep{
			name:        "extra",
			runErr:      errors.New("primary down"),
			fallbackErr: errors.New("fallback down"),
		},
	}}

	if err := pl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := st.Snapshot()
	if len(snap.FailedSteps) != 1 || snap.FailedSteps[0] != "extra" {
		t.Fatalf("failed steps: got %v", snap.FailedSteps)
	}
	if _, ok := st.Artifact("extra"); ok {
		t.Error("skipped step must leave no artifact")
	}
	if snap.Status != RunCompleted {
		t.Errorf("non-critical failure must not fail the run, got %s", snap.Status)
	}
	if snap.OverallSuccess() {
		t.Error("run with failed steps is not an overall success")
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := NewState("run-1", "proj", "p", "python", testPlan("alpha"))
	pl := &Pipeline{Steps: []Step{&stubStep{name: "alpha", payload: "a"}}}

	if err := pl.Run(ctx, st); err == nil {
		t.Fatal("expected cancellation error")
	}
	if st.Status() != RunFailed {
		t.Errorf("cancelled run must fail, got %s", st.Status())
	}
}

func TestState_StepProgressMonotone(t *testing.T) {
	st := NewState("run-1", "proj", "p", "python", testPlan("alpha"))
	st.Start()
	st.BeginStep("alpha")
	st.UpdateStepProgress(50, "half")
	st.UpdateStepProgress(30, "stale update")

	snap := st.Snapshot()
	if snap.CurrentStep == nil {
		t.Fatal("expected a current step")
	}
	if snap.CurrentStep.Progress != 50 {
		t.Errorf("progress must not decrease: got %v", snap.CurrentStep.Progress)
	}
	if snap.CurrentStep.Status != StepStateActive {
		t.Errorf("status: got %s", snap.CurrentStep.Status)
	}
}

func TestState_FailMarksActiveStep(t *testing.T) {
	st := NewState("run-1", "proj", "p", "python", testPlan("alpha"))
	st.Start()
	st.BeginStep("alpha")
	st.Fail("boom")

	snap := st.Snapshot()
	if snap.Status != RunFailed || snap.Failure != "boom" {
		t.Fatalf("status: got %s failure %q", snap.Status, snap.Failure)
	}
	if snap.Steps[0].Status != StepStateError {
		t.Errorf("active step must be marked error, got %s", snap.Steps[0].Status)
	}

	// Terminal states stick.
	st.Complete()
	if st.Status() != RunFailed {
		t.Error("Complete must not override a failed run")
	}
}
