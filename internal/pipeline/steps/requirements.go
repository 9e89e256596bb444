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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/utils"
	"github.com/cloudwego/abgen/llm"
)

// Requirements is the structured analysis artifact every later step
// consumes.
type Requirements struct {
	Functional      []string `json:"functional_requirements"`
	NonFunctional   []string `json:"non_functional_requirements"`
	Constraints     []string `json:"constraints"`
	Assumptions     []string `json:"assumptions"`
	Questions       []string `json:"questions"`
	Recommendations []string `json:"recommendations"`
}

// MainFunctionality is the headline requirement, used by fallback
// templates.
func (r *Requirements) MainFunctionality() string {
	if len(r.Functional) > 0 {
		return r.Functional[0]
	}
	return "Basic functionality"
}

var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// ParseRequirements extracts a Requirements structure from a model
// response. It prefers an embedded JSON object and degrades to treating
// the whole response as one functional requirement.
func ParseRequirements(text string) *Requirements {
	if strings.TrimSpace(text) == "" {
		return &Requirements{}
	}
	var r Requirements
	if m := jsonObjectRE.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), &r); err == nil {
			return &r
		}
	}
	return &Requirements{Functional: []string{text}}
}

const requirementsPromptTmpl = `Please analyze the following user request and convert it into structured software requirements:

User Request: %s

Please provide a comprehensive analysis including:
1. Functional requirements (specific features and capabilities)
2. Non-functional requirements (performance, security, usability)
3. Technical constraints and assumptions
4. Any clarifying questions or recommendations

Format your response as a JSON structure with the following keys:
- functional_requirements: []
- non_functional_requirements: []
- constraints: []
- assumptions: []
- questions: []
- recommendations: []`

// RequirementsStep turns the user prompt into structured requirements.
type RequirementsStep struct {
	Analyst Completer
}

// Name implements pipeline.Step.
func (s *RequirementsStep) Name() string { return pipeline.StepRequirements }

// Critical implements pipeline.Step. Every later step consumes this
// artifact, so the run must always end up with one.
func (s *RequirementsStep) Critical() bool { return true }

// Run implements pipeline.Step.
func (s *RequirementsStep) Run(ctx context.Context, st *pipeline.State) error {
	st.UpdateStepProgress(10, "Parsing user input")
	prompt := fmt.Sprintf(requirementsPromptTmpl, st.Prompt())

	st.UpdateStepProgress(30, "Analyzing requirements")
	out, err := s.Analyst.Complete(ctx, llm.CompleteRequest{Prompt: prompt, MaxTurns: 3})
	if err != nil {
		return err
	}

	st.UpdateStepProgress(70, "Structuring analysis output")
	req := ParseRequirements(out)
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactRequirements, utils.MarshalJSONIndentNoError(req)))
	st.UpdateStepProgress(100, "Requirements analysis completed")
	return nil
}

// Fallback implements pipeline.Step with a template derived from the raw
// prompt.
func (s *RequirementsStep) Fallback(ctx context.Context, st *pipeline.State) error {
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactRequirements,
		utils.MarshalJSONIndentNoError(FallbackRequirements(st.Prompt(), st.Language()))))
	return nil
}

// Placeholder implements pipeline.Step.
func (s *RequirementsStep) Placeholder(st *pipeline.State) {
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactRequirements,
		utils.MarshalJSONIndentNoError(FallbackRequirements(st.Prompt(), st.Language()))))
}

// FallbackRequirements builds a serviceable requirements structure
// straight from the user prompt.
func FallbackRequirements(userInput, language string) *Requirements {
	return &Requirements{
		Functional: []string{
			"Implement functionality based on: " + clip(userInput, 200),
			"Provide basic user interface",
			"Handle user input and provide output",
			"Include error handling",
		},
		NonFunctional: []string{
			"Should be reliable and user-friendly",
			"Should handle errors gracefully",
			"Should provide clear feedback to users",
		},
		Constraints: []string{
			language + "-based implementation",
			"Use standard libraries where possible",
		},
		Assumptions: []string{
			"User has basic Python environment",
			"Standard web browser available for UI",
		},
		Questions: []string{},
		Recommendations: []string{
			"Consider adding logging for debugging",
			"Implement comprehensive error handling",
		},
	}
}
