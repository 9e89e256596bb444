/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/cloudwego/abgen/internal/pipeline/steps"
	"github.com/cloudwego/abgen/internal/progress"
	"github.com/cloudwego/abgen/internal/runner"
	"github.com/cloudwego/abgen/internal/store"
	"github.com/cloudwego/abgen/llm"
)

type stubCompleter struct {
	text  string
	block chan struct{}
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.CompleteRequest) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, nil
}

func cannedDeps(analyst steps.Completer) steps.Deps {
	if analyst == nil {
		analyst = &stubCompleter{text: "The app should print a greeting."}
	}
	return steps.Deps{
		Analyst:  analyst,
		Coder:    &stubCompleter{text: "```python\nprint('hello')\n```"},
		Reviewer: &stubCompleter{text: "QUALITY_SCORE: 0.95\nFEEDBACK:\nSTATUS: APPROVED"},
		Writer:   &stubCompleter{text: "# Hello\n\nPrints a greeting."},
		Tester:   &stubCompleter{text: "```python\ndef test_hello():\n    assert True\n```"},
		Engineer: &stubCompleter{text: "# Deployment\n\npython main.py"},
		Designer: &stubCompleter{text: "```python\nimport streamlit as st\nst.write('hello')\n```"},
	}
}

func newGenerationTools(t *testing.T, deps steps.Deps) (*GenerationTools, *store.ResultStore) {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rs := store.NewResultStore(db)

	r := runner.New(runner.Options{Deps: deps, Store: rs})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})

	gen := NewGenerationTools(GenerationToolsOptions{
		Runner:  r,
		View:    progress.NewProjection(r.Registry(), rs),
		Results: rs,
	})
	return gen, rs
}

func waitResult(t *testing.T, rs *store.ResultStore, id string) *store.ProjectResult {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		res, ok, err := rs.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if ok {
			return res
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run %s never persisted a result", id)
	return nil
}

func TestGenerationToolsRegistersAll(t *testing.T) {
	gen, _ := newGenerationTools(t, cannedDeps(nil))

	want := []string{
		ToolStartGeneration,
		ToolGetGenerationStatus,
		ToolGetGenerationResult,
		ToolListGenerations,
		ToolCancelGeneration,
	}
	if got := len(gen.GetTools()); got != len(want) {
		t.Fatalf("GetTools returned %d tools, want %d", got, len(want))
	}
	for _, name := range want {
		tl := gen.GetTool(name)
		if tl == nil {
			t.Fatalf("GetTool(%q) = nil", name)
		}
		info, err := tl.Info(context.Background())
		if err != nil {
			t.Fatalf("Info(%q): %v", name, err)
		}
		if info.Name != name {
			t.Errorf("tool info name = %q, want %q", info.Name, name)
		}
		if info.Desc == "" {
			t.Errorf("tool %q carries no description", name)
		}
	}
}

func TestGenerationToolsRoundTrip(t *testing.T) {
	gen, rs := newGenerationTools(t, cannedDeps(nil))
	ctx := context.Background()

	started, err := gen.StartGeneration(ctx, StartGenerationReq{
		Prompt:      "print a greeting",
		ProjectName: "greeter",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.ProjectID == "" || started.Status != "started" {
		t.Fatalf("unexpected start response %+v", started)
	}

	waitResult(t, rs, started.ProjectID)

	rep, err := gen.GetGenerationStatus(ctx, GetGenerationStatusReq{ProjectID: started.ProjectID})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.Status != progress.StatusCompleted {
		t.Errorf("report status = %q, want %q", rep.Status, progress.StatusCompleted)
	}
	if rep.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", rep.Percentage)
	}

	res, err := gen.GetGenerationResult(ctx, GetGenerationResultReq{ProjectID: started.ProjectID})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.ProjectName != "greeter" {
		t.Errorf("project name = %q, want greeter", res.ProjectName)
	}
	if res.Files["main.py"] != "print('hello')\n" {
		t.Errorf("main.py = %q", res.Files["main.py"])
	}

	list, err := gen.ListGenerations(ctx, ListGenerationsReq{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Projects) != 1 || list.Projects[0].ID != started.ProjectID {
		t.Errorf("unexpected listing %+v", list.Projects)
	}
}

func TestGenerationToolsUnknownIDs(t *testing.T) {
	gen, _ := newGenerationTools(t, cannedDeps(nil))
	ctx := context.Background()

	if _, err := gen.GetGenerationStatus(ctx, GetGenerationStatusReq{ProjectID: "nope"}); err == nil {
		t.Error("status of unknown run should fail")
	}
	if _, err := gen.GetGenerationResult(ctx, GetGenerationResultReq{ProjectID: "nope"}); err == nil {
		t.Error("result of unknown run should fail")
	}
	if _, err := gen.CancelGeneration(ctx, CancelGenerationReq{ProjectID: "nope"}); err == nil {
		t.Error("cancel of unknown run should fail")
	}
}

func TestGenerationToolsResultWhileRunning(t *testing.T) {
	block := make(chan struct{})
	gen, rs := newGenerationTools(t, cannedDeps(&stubCompleter{block: block}))
	ctx := context.Background()

	started, err := gen.StartGeneration(ctx, StartGenerationReq{Prompt: "slow build"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = gen.GetGenerationResult(ctx, GetGenerationResultReq{ProjectID: started.ProjectID})
	if err == nil || !strings.Contains(err.Error(), "in progress") {
		t.Errorf("expected an in-progress error, got %v", err)
	}

	cancelled, err := gen.CancelGeneration(ctx, CancelGenerationReq{ProjectID: started.ProjectID})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled.Cancelled {
		t.Error("cancel response should confirm")
	}
	close(block)
	waitResult(t, rs, started.ProjectID)
}

func TestGenerationToolsInvokableRun(t *testing.T) {
	gen, rs := newGenerationTools(t, cannedDeps(nil))
	ctx := context.Background()

	st, ok := gen.GetTool(ToolStartGeneration).(einotool.InvokableTool)
	if !ok {
		t.Fatal("start_generation is not invokable")
	}
	out, err := st.InvokableRun(ctx, `{"prompt": "print a greeting", "project_name": "cli"}`)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var resp StartGenerationResp
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if resp.ProjectID == "" {
		t.Fatalf("no project id in %q", out)
	}
	waitResult(t, rs, resp.ProjectID)

	ls, ok := gen.GetTool(ToolListGenerations).(einotool.InvokableTool)
	if !ok {
		t.Fatal("list_generations is not invokable")
	}
	out, err = ls.InvokableRun(ctx, `{}`)
	if err != nil {
		t.Fatalf("invoke list: %v", err)
	}
	var list ListGenerationsResp
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(list.Projects) != 1 {
		t.Errorf("listed %d projects, want 1", len(list.Projects))
	}
}

func TestGetJSONSchema(t *testing.T) {
	raw := GetJSONSchema(StartGenerationReq{})
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %v", schema)
	}
	for _, field := range []string{"prompt", "project_name", "language", "threshold", "max_iterations"} {
		if _, ok := props[field]; !ok {
			t.Errorf("schema missing field %q", field)
		}
	}
	if _, ok := schema["$ref"]; ok {
		t.Error("schema must be expanded, not a reference")
	}
}
