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
	"sync"
	"time"

	"github.com/cloudwego/abgen/internal/loop"
)

// RunStatus is the lifecycle state of one pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Per-step status strings for the polled steps list.
const (
	StepStatePending   = "pending"
	StepStateActive    = "active"
	StepStateCompleted = "completed"
	StepStateError     = "error"
)

// StepStatus is the outcome of one step attempt in the history log.
type StepStatus string

const (
	StepOK          StepStatus = "ok"
	StepFailed      StepStatus = "failed"
	StepFallback    StepStatus = "fallback"
	StepPlaceholder StepStatus = "placeholder"
)

// StepRecord is an immutable log entry for one step attempt.
type StepRecord struct {
	StepName string     `json:"step_name"`
	Attempt  int        `json:"attempt"`
	Status   StepStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
	Time     time.Time  `json:"time"`
}

// StepInfo is the externally visible progress of one planned step.
type StepInfo struct {
	ID          int       `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AgentName   string    `json:"agent_name"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress_percentage"`
	Message     string    `json:"message,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
}

// StepPlan describes one planned step for progress display.
type StepPlan struct {
	Key         string
	Title       string
	Description string
	Agent       string
}

// DefaultPlan is the standard seven-step project pipeline.
func DefaultPlan() []StepPlan {
	return []StepPlan{
		{Key: StepRequirements, Title: "Requirements Analysis", Description: "Analyzing requirements from user input", Agent: "Requirement Analyst"},
		{Key: StepCodeGeneration, Title: "Code Generation", Description: "Generating code from requirements", Agent: "Coder"},
		{Key: StepCodeReview, Title: "Code Review", Description: "Reviewing code for quality and security", Agent: "Code Reviewer"},
		{Key: StepDocumentation, Title: "Documentation", Description: "Creating project documentation", Agent: "Documentation Writer"},
		{Key: StepTestGeneration, Title: "Test Generation", Description: "Generating test cases", Agent: "Test Generator"},
		{Key: StepDeployment, Title: "Deployment Config", Description: "Creating deployment configurations", Agent: "Deployment Engineer"},
		{Key: StepUIGeneration, Title: "UI Generation", Description: "Creating the user interface", Agent: "UI Designer"},
	}
}

// Step keys, also used as prefixes in completed/failed step lists.
const (
	StepRequirements   = "requirements_analysis"
	StepCodeGeneration = "code_generation"
	StepCodeReview     = "code_review"
	StepDocumentation  = "documentation"
	StepTestGeneration = "test_generation"
	StepDeployment     = "deployment_config"
	StepUIGeneration   = "ui_generation"
)

const maxStateLogs = 100

// State is the single source of truth for one run. The pipeline goroutine
// mutates it while pollers read snapshots, so all mutable access is
// guarded.
type State struct {
	mu sync.RWMutex

	runID       string
	projectName string
	prompt      string
	language    string
	createdAt   time.Time

	status    RunStatus
	failure   string
	startedAt time.Time
	endedAt   time.Time

	steps   []StepInfo
	current int

	artifacts map[string]Artifact
	completed []string
	failed    []string
	warnings  []string
	history   []StepRecord
	logs      []loop.LogEntry

	tracker *loop.Tracker
}

func NewState(runID, projectName, prompt, language string, plan []StepPlan) *State {
	if language == "" {
		language = "python"
	}
	steps := make([]StepInfo, 0, len(plan))
	for i, p := range plan {
		steps = append(steps, StepInfo{
			ID:          i,
			Key:         p.Key,
			Name:        p.Title,
			Description: p.Description,
			AgentName:   p.Agent,
			Status:      StepStatePending,
		})
	}
	return &State{
		runID:       runID,
		projectName: projectName,
		prompt:      prompt,
		language:    language,
		createdAt:   time.Now(),
		status:      RunPending,
		steps:       steps,
		current:     -1,
		artifacts:   make(map[string]Artifact),
	}
}

func (s *State) RunID() string       { return s.runID }
func (s *State) ProjectName() string { return s.projectName }
func (s *State) Prompt() string      { return s.prompt }
func (s *State) Language() string    { return s.language }

func (s *State) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = RunRunning
	s.startedAt = time.Now()
	s.logLocked("info", "system", "Pipeline started for project "+s.projectName)
}

// Complete marks the run finished. Partial results still count as
// completion; only cancellation or an internal defect fails a run.
func (s *State) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == RunFailed {
		return
	}
	s.status = RunCompleted
	s.endedAt = time.Now()
	s.logLocked("info", "system", "Pipeline completed")
}

func (s *State) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == RunCompleted || s.status == RunFailed {
		return
	}
	s.status = RunFailed
	s.failure = reason
	s.endedAt = time.Now()
	if s.current >= 0 && s.current < len(s.steps) && s.steps[s.current].Status == StepStateActive {
		s.steps[s.current].Status = StepStateError
		s.steps[s.current].EndTime = time.Now()
	}
	s.logLocked("error", "system", "Pipeline failed: "+reason)
}

// BeginStep activates the planned step with the given key.
func (s *State) BeginStep(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.steps {
		if s.steps[i].Key != key {
			continue
		}
		s.current = i
		s.steps[i].Status = StepStateActive
		s.steps[i].StartTime = time.Now()
		s.logLocked("info", key, "Starting "+s.steps[i].Name)
		return
	}
	s.logLocked("warning", "system", "unknown step "+key)
}

// UpdateStepProgress raises the active step's progress. Progress never
// decreases within a step.
func (s *State) UpdateStepProgress(progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 || s.current >= len(s.steps) {
		return
	}
	step := &s.steps[s.current]
	if progress > 100 {
		progress = 100
	}
	if progress > step.Progress {
		step.Progress = progress
	}
	if message != "" {
		step.Message = message
		s.logLocked("info", step.Key, message)
	}
}

// EndStep finishes the planned step with the given key.
func (s *State) EndStep(key string, ok bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.steps {
		if s.steps[i].Key != key {
			continue
		}
		if ok {
			s.steps[i].Status = StepStateCompleted
			s.steps[i].Progress = 100
		} else {
			s.steps[i].Status = StepStateError
		}
		s.steps[i].EndTime = time.Now()
		if message != "" {
			s.steps[i].Message = message
		}
		level := "success"
		if !ok {
			level = "error"
		}
		s.logLocked(level, key, "Finished "+s.steps[i].Name)
		return
	}
}

func (s *State) SetArtifact(a Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.Kind] = a
}

func (s *State) Artifact(kind string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[kind]
	return a, ok
}

// ArtifactText returns the artifact's text, or "" when the step that
// produces it failed. Downstream steps must tolerate the absence.
func (s *State) ArtifactText(kind string) string {
	a, _ := s.Artifact(kind)
	return a.Text
}

func (s *State) Artifacts() map[string]Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Artifact, len(s.artifacts))
	for k, v := range s.artifacts {
		out[k] = v
	}
	return out
}

func (s *State) AddCompleted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, name)
}

func (s *State) AddFailed(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, name)
}

func (s *State) AddWarning(w string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	s.logLocked("warning", "system", w)
}

func (s *State) Record(r StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
}

func (s *State) Log(level, source, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLocked(level, source, message)
}

func (s *State) logLocked(level, source, message string) {
	s.logs = append(s.logs, loop.LogEntry{
		Time:    time.Now(),
		Level:   level,
		Source:  source,
		Message: message,
	})
	if len(s.logs) > maxStateLogs {
		s.logs = s.logs[len(s.logs)-maxStateLogs:]
	}
}

// SetTracker publishes the review loop's tracker so pollers can see loop
// detail while the review step runs.
func (s *State) SetTracker(t *loop.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = t
}

func (s *State) Tracker() *loop.Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

// Snapshot is a whole-value view of a run for pollers and persistence.
type Snapshot struct {
	RunID          string          `json:"run_id"`
	ProjectName    string          `json:"project_name"`
	Prompt         string          `json:"prompt"`
	Language       string          `json:"language"`
	Status         RunStatus       `json:"status"`
	Failure        string          `json:"failure,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	EndedAt        time.Time       `json:"ended_at,omitempty"`
	Steps          []StepInfo      `json:"steps"`
	CurrentStep    *StepInfo       `json:"current_step,omitempty"`
	CompletedSteps []string        `json:"completed_steps"`
	FailedSteps    []string        `json:"failed_steps"`
	Warnings       []string        `json:"warnings"`
	History        []StepRecord    `json:"history,omitempty"`
	Logs           []loop.LogEntry `json:"logs,omitempty"`
	Loop           *loop.Status    `json:"loop,omitempty"`
}

// OverallSuccess reports whether every step produced its artifact, by
// primary or fallback path.
func (s *Snapshot) OverallSuccess() bool {
	return len(s.FailedSteps) == 0
}

// HasPartialResults reports whether at least one step completed.
func (s *Snapshot) HasPartialResults() bool {
	return len(s.CompletedSteps) > 0
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		RunID:          s.runID,
		ProjectName:    s.projectName,
		Prompt:         s.prompt,
		Language:       s.language,
		Status:         s.status,
		Failure:        s.failure,
		CreatedAt:      s.createdAt,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		Steps:          append([]StepInfo(nil), s.steps...),
		CompletedSteps: append([]string(nil), s.completed...),
		FailedSteps:    append([]string(nil), s.failed...),
		Warnings:       append([]string(nil), s.warnings...),
		History:        append([]StepRecord(nil), s.history...),
		Logs:           append([]loop.LogEntry(nil), s.logs...),
	}
	if s.current >= 0 && s.current < len(s.steps) {
		cur := s.steps[s.current]
		snap.CurrentStep = &cur
	}
	if s.tracker != nil {
		st := s.tracker.Status()
		snap.Loop = &st
	}
	return snap
}
