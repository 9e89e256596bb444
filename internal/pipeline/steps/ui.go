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
	"strings"

	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/utils"
	"github.com/cloudwego/abgen/llm"
)

// minUICodeLen rejects UI responses that are clearly not a program.
const minUICodeLen = 50

// UIStep generates a Streamlit front end for the application. The UI is
// always Python regardless of the backend language.
type UIStep struct {
	Designer Completer
}

// Name implements pipeline.Step.
func (s *UIStep) Name() string { return pipeline.StepUIGeneration }

// Critical implements pipeline.Step.
func (s *UIStep) Critical() bool { return false }

// Run implements pipeline.Step. The first attempt uses the full prompt;
// one retry uses a simplified prompt with a tighter turn budget.
func (s *UIStep) Run(ctx context.Context, st *pipeline.State) error {
	code := st.ArtifactText(pipeline.ArtifactCode)
	if code == "" {
		return errors.New("no code artifact for UI generation")
	}
	requirements := st.ArtifactText(pipeline.ArtifactRequirements)

	st.UpdateStepProgress(10, "Preparing UI requirements")
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		maxTurns := 2
		if attempt > 0 {
			log.Warn("retrying UI generation with a simplified prompt: %v", lastErr)
			maxTurns = 1
		}
		st.UpdateStepProgress(25+float64(attempt)*10, "Generating UI")

		out, err := s.Designer.Complete(ctx, llm.CompleteRequest{
			Prompt:   s.uiPrompt(requirements, code, attempt),
			MaxTurns: maxTurns,
		})
		if err != nil {
			lastErr = err
			continue
		}

		st.UpdateStepProgress(85, "Extracting and validating UI code")
		ui, _ := utils.FirstCodeBlock(out, "python")
		if len(strings.TrimSpace(ui)) < minUICodeLen {
			lastErr = errors.New("generated UI code is too short")
			continue
		}

		st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactUI, ui))
		st.UpdateStepProgress(100, "UI generation completed")
		return nil
	}
	return lastErr
}

func (s *UIStep) uiPrompt(requirements, code string, attempt int) string {
	var b strings.Builder
	if attempt == 0 {
		b.WriteString("Please create a Streamlit web interface for the following application:\n\n")
		fmt.Fprintf(&b, "Requirements:\n%s\n\n", requirements)
		fmt.Fprintf(&b, "Backend Code:\n%s\n\n", fence("python", clip(code, 2000)))
		b.WriteString(`Please provide:
1. Complete Streamlit application with proper imports
2. Interactive forms and inputs for user interaction
3. Data visualization components (charts, tables, etc.)
4. Real-time updates and progress indicators
5. Error handling and user feedback messages
6. Responsive design with proper layout
7. Navigation and user-friendly interface

Structure your response with clear code blocks and explanations.
Make it user-friendly, professional, and fully functional.`)
		return b.String()
	}
	b.WriteString("Create a simple Streamlit interface for this application:\n\n")
	fmt.Fprintf(&b, "Requirements: %s\n\n", clip(requirements, 500))
	fmt.Fprintf(&b, "Code:\n%s\n\n", fence("python", clip(code, 1000)))
	b.WriteString(`Provide a basic but functional Streamlit app with:
1. Main interface with title and description
2. Input forms for user interaction
3. Display area for results
4. Basic error handling

Keep it simple and functional.`)
	return b.String()
}

// Fallback implements pipeline.Step with a template Streamlit app that
// still exposes the generated code.
func (s *UIStep) Fallback(ctx context.Context, st *pipeline.State) error {
	req := ParseRequirements(st.ArtifactText(pipeline.ArtifactRequirements))
	description := "A Python application with web interface"
	if len(req.Functional) > 0 {
		description = req.Functional[0]
	}
	ui := renderTemplate(fallbackUITmpl, map[string]string{
		"AppName":     "Generated Application",
		"Description": description,
		"CodePreview": clip(st.ArtifactText(pipeline.ArtifactCode), 500),
	})
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactUI, ui))
	return nil
}

// Placeholder implements pipeline.Step.
func (s *UIStep) Placeholder(st *pipeline.State) {
	_ = s.Fallback(context.Background(), st)
}
