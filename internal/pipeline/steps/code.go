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

package steps

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/utils"
	"github.com/cloudwego/abgen/llm"
)

const codePromptTmpl = `Based on the following structured requirements, please generate complete, production-ready %s code:

Requirements:
%s

Please provide:
1. Complete modules with proper structure
2. All necessary imports and dependencies
3. Comprehensive docstrings and type annotations
4. Error handling and logging
5. Configuration management
6. Main entry point

Structure your response with clear code blocks and explanations.`

// CodeStep generates the main program from the requirements artifact.
type CodeStep struct {
	Coder Completer
}

// Name implements pipeline.Step.
func (s *CodeStep) Name() string { return pipeline.StepCodeGeneration }

// Critical implements pipeline.Step. The review loop and every document
// step need code to work on.
func (s *CodeStep) Critical() bool { return true }

// Run implements pipeline.Step.
func (s *CodeStep) Run(ctx context.Context, st *pipeline.State) error {
	st.UpdateStepProgress(10, "Preparing requirements")
	requirements := st.ArtifactText(pipeline.ArtifactRequirements)
	if requirements == "" {
		return errors.New("no requirements artifact")
	}

	st.UpdateStepProgress(25, "Generating code")
	out, err := s.Coder.Complete(ctx, llm.CompleteRequest{
		Prompt:   fmt.Sprintf(codePromptTmpl, st.Language(), requirements),
		MaxTurns: 2,
	})
	if err != nil {
		return err
	}

	st.UpdateStepProgress(70, "Extracting code blocks")
	code, _ := utils.FirstCodeBlock(out, st.Language())
	if code == "" {
		return errors.New("generation produced no code")
	}

	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactCode, code))
	st.UpdateStepProgress(100, "Code generation completed")
	return nil
}

// Fallback implements pipeline.Step with a minimal runnable program
// derived from the requirements.
func (s *CodeStep) Fallback(ctx context.Context, st *pipeline.State) error {
	req := ParseRequirements(st.ArtifactText(pipeline.ArtifactRequirements))
	code := renderTemplate(fallbackCodeTmpl, map[string]string{
		"MainFunctionality": clip(req.MainFunctionality(), 120),
	})
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactCode, code))
	return nil
}

// Placeholder implements pipeline.Step.
func (s *CodeStep) Placeholder(st *pipeline.State) {
	code := renderTemplate(fallbackCodeTmpl, map[string]string{
		"MainFunctionality": clip(st.Prompt(), 120),
	})
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactCode, code))
}
