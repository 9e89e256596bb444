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

	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/llm"
)

// DocsStep writes the project README and usage documentation.
type DocsStep struct {
	Writer Completer
}

// Name implements pipeline.Step.
func (s *DocsStep) Name() string { return pipeline.StepDocumentation }

// Critical implements pipeline.Step.
func (s *DocsStep) Critical() bool { return false }

// Run implements pipeline.Step.
func (s *DocsStep) Run(ctx context.Context, st *pipeline.State) error {
	code := st.ArtifactText(pipeline.ArtifactCode)
	if code == "" {
		return errors.New("no code artifact to document")
	}

	var b strings.Builder
	b.WriteString("Please create comprehensive documentation for the following code:\n\n")
	fmt.Fprintf(&b, "Requirements:\n%s\n\n", st.ArtifactText(pipeline.ArtifactRequirements))
	fmt.Fprintf(&b, "Code:\n%s\n\n", fence(st.Language(), code))
	b.WriteString(`Please provide:
1. README.md with installation and usage instructions
2. API documentation with examples
3. Architecture overview
4. Configuration guide
5. Troubleshooting section

Format as markdown documents.`)

	st.UpdateStepProgress(25, "Writing documentation")
	out, err := s.Writer.Complete(ctx, llm.CompleteRequest{Prompt: b.String(), MaxTurns: 2})
	if err != nil {
		return err
	}

	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactDocumentation, out))
	st.UpdateStepProgress(100, "Documentation completed")
	return nil
}

// Fallback implements pipeline.Step with a README template.
func (s *DocsStep) Fallback(ctx context.Context, st *pipeline.State) error {
	req := ParseRequirements(st.ArtifactText(pipeline.ArtifactRequirements))
	readme := renderTemplate(fallbackReadmeTmpl, map[string]string{
		"AppName":           "Generated Application",
		"MainFunctionality": req.MainFunctionality(),
	})
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactDocumentation, readme))
	return nil
}

// Placeholder implements pipeline.Step.
func (s *DocsStep) Placeholder(st *pipeline.State) {
	_ = s.Fallback(context.Background(), st)
}
