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

// Package agent assembles the per-role completers the project pipeline
// runs on. Every role shares one chat model but carries its own system
// prompt, so the same endpoint behaves as analyst, coder, reviewer and
// so on.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/pipeline/steps"
	"github.com/cloudwego/abgen/llm"
	"github.com/cloudwego/abgen/llm/check"
	"github.com/cloudwego/abgen/llm/prompt"
	"github.com/cloudwego/abgen/llm/tool"
)

// RolesOptions tunes the completers built by BuildDeps.
type RolesOptions struct {
	// Language is the default target language; "go" appends the Go
	// appendix to the coder's system prompt. Per-run languages still work,
	// the appendix only strengthens the default.
	Language string
	MaxTurns int           // agent turn cap per role, default: 8
	Retries  int           // retry budget per completion
	Timeout  time.Duration // per-attempt deadline
	// Thinking offers the sequential thinking toolset to the coder.
	// Needs npx on PATH, so it is opt-in.
	Thinking bool
	// CoderTools are extra tools offered to the coder role.
	CoderTools []tool.Tool
	// Prompts overrides role system prompts by role name; roles not in
	// the map keep the built-in prompt.
	Prompts map[string]string
}

// Role names, also the keys of RolesOptions.Prompts.
const (
	RoleAnalyst  = "requirement_analyst"
	RoleCoder    = "python_coder"
	RoleReviewer = "code_reviewer"
	RoleWriter   = "documentation_writer"
	RoleTester   = "test_generator"
	RoleEngineer = "deployment_engineer"
	RoleDesigner = "ui_designer"
)

// Roles lists every pipeline role name.
func Roles() []string {
	return []string{
		RoleAnalyst,
		RoleCoder,
		RoleReviewer,
		RoleWriter,
		RoleTester,
		RoleEngineer,
		RoleDesigner,
	}
}

// BuildDeps constructs the pipeline's role completers from one chat
// model. The returned deps carry a tree-sitter validator for the review
// loop's syntax gate.
func BuildDeps(ctx context.Context, model llm.ChatModel, opts RolesOptions) (steps.Deps, error) {
	coderTools := append([]tool.Tool(nil), opts.CoderTools...)
	if opts.Thinking {
		ts, err := tool.GetSequentialThinkingTools(ctx)
		if err != nil {
			return steps.Deps{}, err
		}
		coderTools = append(coderTools, ts...)
		log.Info("sequential thinking tools enabled for the coder role")
	}

	sys := func(role, builtin string) string {
		if p, ok := opts.Prompts[role]; ok && strings.TrimSpace(p) != "" {
			return p
		}
		return builtin
	}

	mk := func(role, builtin string, tools []tool.Tool) *llm.Completer {
		return llm.NewCompleter(role, model, llm.CompleterOptions{
			SysPrompt: prompt.NewTextPrompt(sys(role, builtin)),
			Tools:     tools,
			MaxTurns:  opts.MaxTurns,
			Retries:   opts.Retries,
			Timeout:   opts.Timeout,
		})
	}

	coderPrompt := prompt.PromptGenerator
	if isGoTarget(opts.Language) {
		coderPrompt += "\n\n" + prompt.GoTargetAppendix
	}
	coder := mk(RoleCoder, coderPrompt, coderTools)

	return steps.Deps{
		Analyst:   mk(RoleAnalyst, prompt.PromptRequirements, nil),
		Coder:     coder,
		Generator: coder,
		Reviewer:  mk(RoleReviewer, prompt.PromptReviewer, nil),
		Writer:    mk(RoleWriter, prompt.PromptDocumenter, nil),
		Tester:    mk(RoleTester, prompt.PromptTester, nil),
		Engineer:  mk(RoleEngineer, prompt.PromptDeployer, nil),
		Designer:  mk(RoleDesigner, prompt.PromptDesigner, nil),
		Validator: check.NewSyntax(),
	}, nil
}

func isGoTarget(language string) bool {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "go", "golang":
		return true
	}
	return false
}
