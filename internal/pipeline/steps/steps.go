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

// Package steps implements the seven standard project pipeline steps.
// Every step carries a deterministic fallback so the pipeline can degrade
// instead of dying when a model call fails.
package steps

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/llm"
)

// Completer is the completion capability the steps call out to.
type Completer interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (string, error)
}

// Deps carries the per-role completers for the standard pipeline. Roles
// may share one completer; the split exists so each role can run its own
// system prompt.
type Deps struct {
	Analyst   Completer
	Coder     Completer
	Generator Completer // loop improvement calls, usually the coder
	Reviewer  Completer
	Writer    Completer
	Tester    Completer
	Engineer  Completer
	Designer  Completer

	Validator  loop.CodeValidator
	LoopConfig loop.Config
}

// Standard assembles the seven-step pipeline in canonical order.
func Standard(d Deps) []pipeline.Step {
	if d.Generator == nil {
		d.Generator = d.Coder
	}
	return []pipeline.Step{
		&RequirementsStep{Analyst: d.Analyst},
		&CodeStep{Coder: d.Coder},
		&ReviewStep{Generator: d.Generator, Reviewer: d.Reviewer, Validator: d.Validator, Config: d.LoopConfig},
		&DocsStep{Writer: d.Writer},
		&TestsStep{Generator: d.Tester},
		&DeployStep{Engineer: d.Engineer},
		&UIStep{Designer: d.Designer},
	}
}

//go:embed templates/fallback_code.py.tmpl
var fallbackCodeSrc string

//go:embed templates/fallback_tests.py
var fallbackTestsSrc string

//go:embed templates/fallback_readme.md.tmpl
var fallbackReadmeSrc string

//go:embed templates/fallback_deployment.md
var fallbackDeploymentSrc string

//go:embed templates/fallback_ui.py.tmpl
var fallbackUISrc string

var (
	fallbackCodeTmpl   = template.Must(template.New("fallback_code").Parse(fallbackCodeSrc))
	fallbackReadmeTmpl = template.Must(template.New("fallback_readme").Parse(fallbackReadmeSrc))
	fallbackUITmpl     = template.Must(template.New("fallback_ui").Parse(fallbackUISrc))
)

func renderTemplate(t *template.Template, data any) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		panic(err)
	}
	return b.String()
}

// fence wraps code in a markdown code fence for prompts.
func fence(lang, code string) string {
	return fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(code, "\n"))
}

// clip bounds prompt-embedded text, marking the cut with an ellipsis.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
