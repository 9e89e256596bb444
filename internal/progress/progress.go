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

// Package progress builds read-only progress views over running and
// finished pipeline runs. Lookups try the live run registry first and
// fall back to the durable result store, so a finished run still answers
// after a process restart.
package progress

import (
	"time"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/store"
)

// Recognized report statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// LiveSource resolves a run id to its live pipeline state while the run
// is still registered.
type LiveSource interface {
	LiveState(runID string) (*pipeline.State, bool)
}

// ResultSource resolves a run id to a stored terminal result.
type ResultSource interface {
	Get(id string) (*store.ProjectResult, bool, error)
}

// Report is the polled progress view of one run.
type Report struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name,omitempty"`
	Status      string `json:"status"`

	TotalSteps     int     `json:"total_steps"`
	CompletedSteps int     `json:"completed_steps"`
	FailedSteps    int     `json:"failed_steps"`
	Percentage     float64 `json:"progress_percentage"`
	Elapsed        float64 `json:"elapsed_time"`
	Remaining      float64 `json:"estimated_remaining_time"`

	IsRunning   bool `json:"is_running"`
	IsCompleted bool `json:"is_completed"`
	HasFailures bool `json:"has_failures"`
	Stalled     bool `json:"stalled,omitempty"`

	CurrentStep *pipeline.StepInfo  `json:"current_step_info,omitempty"`
	Steps       []pipeline.StepInfo `json:"steps,omitempty"`
	Loop        *loop.Status        `json:"loop,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
	Failure     string              `json:"failure,omitempty"`
	Logs        []loop.LogEntry     `json:"logs,omitempty"`
}

// Projection answers progress queries from whatever evidence exists: the
// live registry first, the result store second. Every lookup is a single
// cheap call; it never waits for a run to show up.
type Projection struct {
	live    LiveSource
	results ResultSource
}

func NewProjection(live LiveSource, results ResultSource) *Projection {
	return &Projection{live: live, results: results}
}

// Status reports the current view of one run. A finished run answers
// from the store even when the registry lost it to a restart; an id
// known to neither side reports not_found.
func (p *Projection) Status(id string) Report {
	if p.live != nil {
		if st, ok := p.live.LiveState(id); ok {
			return FromSnapshot(st.Snapshot())
		}
	}
	if p.results != nil {
		res, ok, err := p.results.Get(id)
		if err != nil {
			log.Error("progress lookup for %s: %v", id, err)
		} else if ok {
			return fromResult(res)
		}
	}
	return Report{ProjectID: id, Status: StatusNotFound}
}

// Logs returns the tail of a live run's log, oldest first. Finished runs
// retain no log lines; only their terminal result survives.
func (p *Projection) Logs(id string, limit int) []loop.LogEntry {
	if p.live == nil {
		return nil
	}
	st, ok := p.live.LiveState(id)
	if !ok {
		return nil
	}
	logs := st.Snapshot().Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs
}

// FromSnapshot projects one pipeline snapshot into a Report.
func FromSnapshot(snap pipeline.Snapshot) Report {
	rep := Report{
		ProjectID:      snap.RunID,
		ProjectName:    snap.ProjectName,
		TotalSteps:     len(snap.Steps),
		CompletedSteps: len(snap.CompletedSteps),
		FailedSteps:    len(snap.FailedSteps),
		CurrentStep:    snap.CurrentStep,
		Steps:          snap.Steps,
		Loop:           snap.Loop,
		Warnings:       snap.Warnings,
		Failure:        snap.Failure,
		Logs:           snap.Logs,
	}
	switch snap.Status {
	case pipeline.RunCompleted:
		rep.Status = StatusCompleted
		rep.IsCompleted = true
		rep.HasFailures = len(snap.FailedSteps) > 0
		rep.Percentage = store.CompletionPercentage(snap)
	case pipeline.RunFailed:
		rep.Status = StatusFailed
		rep.HasFailures = true
		rep.Percentage = weightedPercent(snap)
	default:
		rep.Status = StatusRunning
		rep.IsRunning = true
		rep.Percentage = weightedPercent(snap)
	}
	rep.Elapsed = elapsedSeconds(snap)
	rep.Remaining = remainingSeconds(rep.Percentage, rep.Elapsed, rep.Status)
	return rep
}

// fromResult synthesizes a terminal report from a stored result, the
// restart-recovery path.
func fromResult(res *store.ProjectResult) Report {
	rep := Report{
		ProjectID:      res.ID,
		ProjectName:    res.ProjectName,
		TotalSteps:     store.TotalPipelineSteps,
		CompletedSteps: len(res.CompletedSteps),
		FailedSteps:    len(res.FailedSteps),
		Percentage:     res.Percentage,
		Elapsed:        res.Duration,
		Warnings:       res.Warnings,
		Failure:        res.Failure,
	}
	if res.Status == string(pipeline.RunFailed) {
		rep.Status = StatusFailed
		rep.HasFailures = true
	} else {
		rep.Status = StatusCompleted
		rep.IsCompleted = true
		rep.HasFailures = len(res.FailedSteps) > 0
	}
	return rep
}

// weightedPercent gives each planned step an equal share of 100. A
// completed step contributes its full share, the active step a fraction
// of it: its own progress, except the review step, which interpolates
// from the loop's iteration state instead.
func weightedPercent(snap pipeline.Snapshot) float64 {
	total := len(snap.Steps)
	if total == 0 {
		return 0
	}
	weight := 100 / float64(total)
	var pct float64
	for _, st := range snap.Steps {
		switch st.Status {
		case pipeline.StepStateCompleted:
			pct += weight
		case pipeline.StepStateActive:
			frac := st.Progress / 100
			if st.Key == pipeline.StepCodeReview && snap.Loop != nil {
				frac = loopFraction(snap.Loop)
			}
			pct += weight * frac
		}
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// loopFraction is how far through the review loop the run is: finished
// iterations count fully against max_iterations, the active one by the
// mean of its two phase progresses.
func loopFraction(ls *loop.Status) float64 {
	if ls.IsCompleted {
		return 1
	}
	if ls.MaxIterations <= 0 || ls.Current == nil {
		return 0
	}
	span := 1 / float64(ls.MaxIterations)
	f := float64(ls.Current.Number-1) * span
	f += span * (ls.Current.GenerationProgress + ls.Current.ReviewProgress) / 200
	if f > 1 {
		f = 1
	}
	return f
}

func elapsedSeconds(snap pipeline.Snapshot) float64 {
	if snap.StartedAt.IsZero() {
		return 0
	}
	end := snap.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(snap.StartedAt).Seconds()
}

// remainingSeconds extrapolates linearly from elapsed time and completed
// fraction. Zero for terminal runs and for runs with no progress yet.
func remainingSeconds(pct, elapsed float64, status string) float64 {
	if status != StatusRunning || pct <= 0 {
		return 0
	}
	f := pct / 100
	if f >= 1 {
		return 0
	}
	return elapsed * (1 - f) / f
}
