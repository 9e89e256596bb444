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

// DeployStep produces deployment configuration for the application.
type DeployStep struct {
	Engineer Completer
}

// Name implements pipeline.Step.
func (s *DeployStep) Name() string { return pipeline.StepDeployment }

// Critical implements pipeline.Step.
func (s *DeployStep) Critical() bool { return false }

// Run implements pipeline.Step.
func (s *DeployStep) Run(ctx context.Context, st *pipeline.State) error {
	code := st.ArtifactText(pipeline.ArtifactCode)
	if code == "" {
		return errors.New("no code artifact to deploy")
	}

	var b strings.Builder
	b.WriteString("Please create deployment configurations for the following application:\n\n")
	fmt.Fprintf(&b, "Requirements:\n%s\n\n", st.ArtifactText(pipeline.ArtifactRequirements))
	fmt.Fprintf(&b, "Application Code:\n%s\n\n", fence(st.Language(), clip(code, 4000)))
	b.WriteString(`Please provide:
1. Dockerfile for containerization
2. docker-compose.yml for multi-service setup
3. CI pipeline configuration
4. Environment configuration files
5. Deployment scripts
6. Health check configurations

Make it production-ready and scalable.`)

	st.UpdateStepProgress(25, "Generating deployment configuration")
	out, err := s.Engineer.Complete(ctx, llm.CompleteRequest{Prompt: b.String(), MaxTurns: 2})
	if err != nil {
		return err
	}

	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactDeployment, out))
	st.UpdateStepProgress(100, "Deployment configuration completed")
	return nil
}

// Fallback implements pipeline.Step with a stock Docker setup.
func (s *DeployStep) Fallback(ctx context.Context, st *pipeline.State) error {
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactDeployment, fallbackDeploymentSrc))
	return nil
}

// Placeholder implements pipeline.Step.
func (s *DeployStep) Placeholder(st *pipeline.State) {
	st.SetArtifact(pipeline.NewArtifact(pipeline.ArtifactDeployment, fallbackDeploymentSrc))
}
