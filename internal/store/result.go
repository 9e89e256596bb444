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

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
)

// TotalPipelineSteps is the size of the standard pipeline, used for the
// partial completion percentage.
const TotalPipelineSteps = 7

// ProjectResult is the terminal record of one pipeline run. It is written
// to the store exactly once, when the run reaches a terminal status, and
// is the authority on finished runs after a restart.
type ProjectResult struct {
	ID             string            `json:"project_id"`
	ProjectName    string            `json:"project_name"`
	Prompt         string            `json:"user_input"`
	Language       string            `json:"language"`
	Status         string            `json:"status"` // completed | failed
	Failure        string            `json:"failure,omitempty"`
	CompletedSteps []string          `json:"completed_steps"`
	FailedSteps    []string          `json:"failed_steps"`
	Warnings       []string          `json:"warnings"`
	Files          map[string]string `json:"files"`
	Requirements   string            `json:"requirements,omitempty"`
	Review         string            `json:"review,omitempty"`
	Percentage     float64           `json:"progress_percentage"`
	Iterations     int               `json:"review_iterations"`
	Quality        float64           `json:"final_quality"`
	CreatedAt      time.Time         `json:"created_at"`
	FinishedAt     time.Time         `json:"finished_at,omitempty"`
	Duration       float64           `json:"execution_seconds"`
}

// OverallSuccess reports whether every step produced its artifact.
func (r *ProjectResult) OverallSuccess() bool {
	return len(r.FailedSteps) == 0
}

// HasPartialResults reports whether at least one step completed.
func (r *ProjectResult) HasPartialResults() bool {
	return len(r.CompletedSteps) > 0
}

// ResultSummary is the lightweight history view of a stored result.
type ResultSummary struct {
	ID          string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Prompt      string    `json:"user_input"`
	Status      string    `json:"status"`
	Success     bool      `json:"success"`
	Percentage  float64   `json:"progress_percentage"`
	CreatedAt   time.Time `json:"created_at"`
	Duration    float64   `json:"execution_seconds"`
}

func (r *ProjectResult) Summary() ResultSummary {
	return ResultSummary{
		ID:          r.ID,
		ProjectName: r.ProjectName,
		Prompt:      r.Prompt,
		Status:      r.Status,
		Success:     r.OverallSuccess(),
		Percentage:  r.Percentage,
		CreatedAt:   r.CreatedAt,
		Duration:    r.Duration,
	}
}

// ResultFromRun assembles the terminal ProjectResult for a finished run.
func ResultFromRun(snap pipeline.Snapshot, artifacts map[string]pipeline.Artifact) *ProjectResult {
	res := &ProjectResult{
		ID:             snap.RunID,
		ProjectName:    snap.ProjectName,
		Prompt:         snap.Prompt,
		Language:       snap.Language,
		Status:         string(snap.Status),
		Failure:        snap.Failure,
		CompletedSteps: snap.CompletedSteps,
		FailedSteps:    snap.FailedSteps,
		Warnings:       snap.Warnings,
		Files:          ProjectFiles(snap.ProjectName, snap.Language, artifacts),
		Percentage:     CompletionPercentage(snap),
		CreatedAt:      snap.CreatedAt,
		FinishedAt:     snap.EndedAt,
	}
	if !snap.StartedAt.IsZero() && !snap.EndedAt.IsZero() {
		res.Duration = snap.EndedAt.Sub(snap.StartedAt).Seconds()
	}
	if a, ok := artifacts[pipeline.ArtifactRequirements]; ok {
		res.Requirements = a.Text
	}
	if a, ok := artifacts[pipeline.ArtifactReview]; ok {
		res.Review = a.Text
		var report struct {
			Summary loop.Summary `json:"loop_summary"`
		}
		if err := json.Unmarshal([]byte(a.Text), &report); err == nil {
			res.Iterations = report.Summary.TotalIterations
			res.Quality = report.Summary.FinalQuality
		}
	}
	return res
}

// CompletionPercentage maps a terminal run onto the reported percentage:
// a clean run is 100, warnings without failures cost 5 points, and runs
// with failed steps get proportional credit capped at 90.
func CompletionPercentage(snap pipeline.Snapshot) float64 {
	switch {
	case len(snap.FailedSteps) == 0 && len(snap.Warnings) == 0:
		return 100
	case len(snap.FailedSteps) == 0:
		return 95
	default:
		total := len(snap.Steps)
		if total == 0 {
			total = TotalPipelineSteps
		}
		p := float64(len(snap.CompletedSteps)) / float64(total) * 100
		if p > 90 {
			p = 90
		}
		return p
	}
}

// ProjectFiles lays the run's artifacts out as the files of a generated
// project. Absent artifacts leave no file. Go-target projects also get a
// synthesized go.mod and a formatting pass over the main source.
func ProjectFiles(projectName, language string, artifacts map[string]pipeline.Artifact) map[string]string {
	files := make(map[string]string)
	put := func(kind, name string) {
		if a, ok := artifacts[kind]; ok && strings.TrimSpace(a.Text) != "" {
			files[name] = a.Text
		}
	}
	put(pipeline.ArtifactCode, codeFileName(language))
	put(pipeline.ArtifactDocumentation, "README.md")
	put(pipeline.ArtifactTests, testFileName(language))
	put(pipeline.ArtifactDeployment, "deployment.md")
	// The UI is a Streamlit app regardless of the project language.
	put(pipeline.ArtifactUI, "streamlit_app.py")

	if isGoTarget(language) {
		if mod, err := GoModFile(ModulePathFor(projectName)); err == nil {
			files["go.mod"] = mod
		}
		name := codeFileName(language)
		if src, ok := files[name]; ok {
			if formatted, err := FormatGoSource(name, src); err == nil {
				files[name] = formatted
			}
		}
	}
	return files
}

func isGoTarget(language string) bool {
	l := strings.ToLower(language)
	return l == "go" || l == "golang"
}

func codeFileName(language string) string {
	if isGoTarget(language) {
		return "main.go"
	}
	return "main.py"
}

func testFileName(language string) string {
	if isGoTarget(language) {
		return "main_test.go"
	}
	return "test_main.py"
}
