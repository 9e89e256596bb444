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

// Package loop tracks and drives the iterative generation-review cycle
// that refines generated code until it converges on a quality threshold.
package loop

import (
	"fmt"
	"sync"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/cloudwego/abgen/internal/log"
)

// State is the tracker-level phase of the whole loop.
type State string

const (
	StateIdle       State = "idle"
	StateGeneration State = "generation"
	StateReview     State = "review"
	StateConverging State = "converging"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// PhaseStatus is the status of one phase inside an iteration.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Iteration is one generation+review cycle. The tracker owns it; readers
// only ever see copies.
type Iteration struct {
	Number             int         `json:"number"`
	StartTime          time.Time   `json:"start_time"`
	EndTime            time.Time   `json:"end_time,omitempty"`
	GenerationProgress float64     `json:"generation_progress"`
	ReviewProgress     float64     `json:"review_progress"`
	GenerationStatus   PhaseStatus `json:"generation_status"`
	ReviewStatus       PhaseStatus `json:"review_status"`
	Feedback           []string    `json:"feedback,omitempty"`
	QualityScore       float64     `json:"quality_score"`
	ConvergenceScore   float64     `json:"convergence_score"`
}

func (it *Iteration) Duration() time.Duration {
	if !it.EndTime.IsZero() {
		return it.EndTime.Sub(it.StartTime)
	}
	return time.Since(it.StartTime)
}

func (it *Iteration) IsComplete() bool {
	return it.GenerationStatus == PhaseCompleted && it.ReviewStatus == PhaseCompleted
}

type Config struct {
	ConvergenceThreshold float64 `json:"convergence_threshold"` // default: 0.9
	MaxIterations        int     `json:"max_iterations"`        // default: 5
	// ContinueExpr optionally replaces the built-in continue rule with an
	// expression over score, threshold, iterations and max_iterations.
	ContinueExpr string `json:"continue_expr,omitempty"`
}

type LogEntry struct {
	Time    time.Time `json:"timestamp"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

const maxTrackerLogs = 100

// Tracker is the state machine for one generation-review loop. All
// mutation goes through the coordinator goroutine; readers take snapshots.
type Tracker struct {
	mu         sync.RWMutex
	cfg        Config
	policy     *govaluate.EvaluableExpression
	state      State
	iterations []*Iteration
	current    *Iteration
	startTime  time.Time
	endTime    time.Time
	failure    string
	logs       []LogEntry
}

func NewTracker(cfg Config) *Tracker {
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = 0.9
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	t := &Tracker{
		cfg:       cfg,
		state:     StateIdle,
		startTime: time.Now(),
	}
	if cfg.ContinueExpr != "" {
		expr, err := govaluate.NewEvaluableExpression(cfg.ContinueExpr)
		if err != nil {
			log.Warn("invalid continue expression %q, using built-in rule: %v", cfg.ContinueExpr, err)
		} else {
			t.policy = expr
		}
	}
	return t
}

func (t *Tracker) Config() Config {
	return t.cfg
}

// StartLoop moves the tracker from idle into the first iteration.
func (t *Tracker) StartLoop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		t.logLocked("warning", "system", fmt.Sprintf("start_loop ignored in state %s", t.state))
		return
	}
	t.state = StateGeneration
	t.startTime = time.Now()
	t.logLocked("info", "system", "Starting generation-review loop")
	t.startIterationLocked()
	t.startGenerationLocked()
}

func (t *Tracker) startIterationLocked() {
	it := &Iteration{
		Number:           len(t.iterations) + 1,
		StartTime:        time.Now(),
		GenerationStatus: PhasePending,
		ReviewStatus:     PhasePending,
	}
	t.iterations = append(t.iterations, it)
	t.current = it
	t.logLocked("info", "system", fmt.Sprintf("Starting iteration #%d", it.Number))
}

func (t *Tracker) startGenerationLocked() {
	t.state = StateGeneration
	t.current.GenerationStatus = PhaseRunning
	t.logLocked("info", "generation", "Starting code generation")
}

// UpdateGenerationProgress raises generation progress for the current
// iteration. Progress never decreases; updates in the wrong phase are
// logged and dropped since they can race with a phase transition.
func (t *Tracker) UpdateGenerationProgress(percent float64, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTerminalLocked() || t.current == nil {
		return
	}
	if t.state != StateGeneration {
		t.logLocked("debug", "generation", fmt.Sprintf("generation progress update ignored in state %s", t.state))
		return
	}
	p := clampPercent(percent)
	if p > t.current.GenerationProgress {
		t.current.GenerationProgress = p
	}
	if status != "" {
		t.logLocked("info", "generation", "Generation: "+status)
	}
}

// CompleteGeneration finishes the generation phase with its quality score
// and immediately starts the review phase of the same iteration.
func (t *Tracker) CompleteGeneration(qualityScore float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTerminalLocked() || t.current == nil {
		return
	}
	t.current.GenerationStatus = PhaseCompleted
	t.current.GenerationProgress = 100
	t.current.QualityScore = clampScore(qualityScore)
	t.logLocked("success", "generation", "Code generation completed")
	t.startReviewLocked()
}

func (t *Tracker) startReviewLocked() {
	t.state = StateReview
	t.current.ReviewStatus = PhaseRunning
	t.logLocked("info", "review", "Starting code review")
}

// UpdateReviewProgress raises review progress for the current iteration.
func (t *Tracker) UpdateReviewProgress(percent float64, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTerminalLocked() || t.current == nil {
		return
	}
	if t.state != StateReview {
		t.logLocked("debug", "review", fmt.Sprintf("review progress update ignored in state %s", t.state))
		return
	}
	p := clampPercent(percent)
	if p > t.current.ReviewProgress {
		t.current.ReviewProgress = p
	}
	if status != "" {
		t.logLocked("info", "review", "Review: "+status)
	}
}

// AddFeedback appends a review feedback item to the current iteration.
// Valid during review and converging only; ignored (logged) otherwise.
func (t *Tracker) AddFeedback(feedback string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || (t.state != StateReview && t.state != StateConverging) {
		t.logLocked("debug", "review", fmt.Sprintf("feedback ignored in state %s", t.state))
		return
	}
	t.current.Feedback = append(t.current.Feedback, feedback)
	t.logLocked("info", "review", "Feedback: "+feedback)
}

// CompleteReview finishes the review phase with its convergence score and
// decides what happens next: convergence or cap ends the loop, anything
// else starts the next iteration. Calls on a terminal tracker are no-ops.
func (t *Tracker) CompleteReview(convergenceScore float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTerminalLocked() || t.current == nil {
		return
	}
	cur := t.current
	cur.ReviewStatus = PhaseCompleted
	cur.ReviewProgress = 100
	cur.ConvergenceScore = clampScore(convergenceScore)
	cur.EndTime = time.Now()
	t.state = StateConverging
	t.logLocked("success", "review", fmt.Sprintf("Review completed. Convergence score: %.2f", cur.ConvergenceScore))

	if t.shouldContinueLocked() {
		t.logLocked("info", "system", "Starting next iteration based on feedback")
		t.startIterationLocked()
		t.startGenerationLocked()
		return
	}
	if cur.ConvergenceScore < t.cfg.ConvergenceThreshold {
		t.logLocked("warning", "system", "Maximum iterations reached")
	}
	t.completeLocked()
}

func (t *Tracker) completeLocked() {
	t.state = StateCompleted
	t.endTime = time.Now()
	t.logLocked("success", "system", "Generation-review loop completed successfully")
}

// Fail moves the tracker to the terminal failed state from any state.
func (t *Tracker) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTerminalLocked() {
		return
	}
	t.state = StateFailed
	t.failure = reason
	t.endTime = time.Now()
	if t.current != nil {
		if t.current.GenerationStatus == PhaseRunning {
			t.current.GenerationStatus = PhaseFailed
		}
		if t.current.ReviewStatus == PhaseRunning {
			t.current.ReviewStatus = PhaseFailed
		}
	}
	t.logLocked("error", "system", "Loop failed: "+reason)
}

// ShouldContinue reports whether another iteration should run. It never
// mutates the tracker.
func (t *Tracker) ShouldContinue() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.shouldContinueLocked()
}

func (t *Tracker) shouldContinueLocked() bool {
	if t.current == nil {
		return true
	}
	if t.isTerminalLocked() {
		return false
	}
	// An iteration whose review has not completed has no convergence
	// score yet; it must be allowed to run even when it is the last one
	// the cap admits.
	if t.current.ReviewStatus != PhaseCompleted {
		return true
	}
	if t.policy != nil {
		res, err := t.policy.Evaluate(map[string]interface{}{
			"score":          t.current.ConvergenceScore,
			"threshold":      t.cfg.ConvergenceThreshold,
			"iterations":     float64(t.current.Number),
			"max_iterations": float64(t.cfg.MaxIterations),
		})
		if err != nil {
			log.Warn("continue policy evaluation failed, using built-in rule: %v", err)
		} else if b, ok := res.(bool); ok {
			// The iteration cap stays hard regardless of the policy.
			return b && t.current.Number < t.cfg.MaxIterations
		}
	}
	return t.current.ConvergenceScore < t.cfg.ConvergenceThreshold &&
		t.current.Number < t.cfg.MaxIterations
}

// ConvergenceProgress is the loop's outward progress percentage, based on
// the latest convergence score relative to the threshold.
func (t *Tracker) ConvergenceProgress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.iterations) == 0 {
		return 0
	}
	last := t.iterations[len(t.iterations)-1]
	p := last.ConvergenceScore / t.cfg.ConvergenceThreshold * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// LastFeedback returns a copy of the most recent completed iteration's
// feedback, the context for the next generation call.
func (t *Tracker) LastFeedback() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.iterations) - 1; i >= 0; i-- {
		if len(t.iterations[i].Feedback) > 0 {
			out := make([]string, len(t.iterations[i].Feedback))
			copy(out, t.iterations[i].Feedback)
			return out
		}
	}
	return nil
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) FailureReason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failure
}

// IterationStatus is the externally visible view of the active iteration.
type IterationStatus struct {
	Number             int         `json:"number"`
	GenerationProgress float64     `json:"generation_progress"`
	ReviewProgress     float64     `json:"review_progress"`
	GenerationStatus   PhaseStatus `json:"generation_status"`
	ReviewStatus       PhaseStatus `json:"review_status"`
	QualityScore       float64     `json:"quality_score"`
	ConvergenceScore   float64     `json:"convergence_score"`
	FeedbackCount      int         `json:"feedback_count"`
	LatestFeedback     []string    `json:"latest_feedback,omitempty"`
	Duration           float64     `json:"duration_seconds"`
}

// Status is a whole-value snapshot for pollers.
type Status struct {
	State                State            `json:"state"`
	TotalIterations      int              `json:"total_iterations"`
	MaxIterations        int              `json:"max_iterations"`
	ConvergenceThreshold float64          `json:"convergence_threshold"`
	ConvergenceProgress  float64          `json:"convergence_progress"`
	IsRunning            bool             `json:"is_running"`
	IsCompleted          bool             `json:"is_completed"`
	HasFailed            bool             `json:"has_failed"`
	FailureReason        string           `json:"failure_reason,omitempty"`
	TotalDuration        float64          `json:"total_duration_seconds"`
	Current              *IterationStatus `json:"current_iteration,omitempty"`
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Status{
		State:                t.state,
		TotalIterations:      len(t.iterations),
		MaxIterations:        t.cfg.MaxIterations,
		ConvergenceThreshold: t.cfg.ConvergenceThreshold,
		IsRunning:            t.state == StateGeneration || t.state == StateReview,
		IsCompleted:          t.state == StateCompleted,
		HasFailed:            t.state == StateFailed,
		FailureReason:        t.failure,
		TotalDuration:        t.totalDurationLocked().Seconds(),
	}
	if len(t.iterations) > 0 {
		last := t.iterations[len(t.iterations)-1]
		p := last.ConvergenceScore / t.cfg.ConvergenceThreshold * 100
		if p > 100 {
			p = 100
		}
		s.ConvergenceProgress = p
	}
	if cur := t.current; cur != nil {
		latest := cur.Feedback
		if len(latest) > 3 {
			latest = latest[len(latest)-3:]
		}
		fb := make([]string, len(latest))
		copy(fb, latest)
		s.Current = &IterationStatus{
			Number:             cur.Number,
			GenerationProgress: cur.GenerationProgress,
			ReviewProgress:     cur.ReviewProgress,
			GenerationStatus:   cur.GenerationStatus,
			ReviewStatus:       cur.ReviewStatus,
			QualityScore:       cur.QualityScore,
			ConvergenceScore:   cur.ConvergenceScore,
			FeedbackCount:      len(cur.Feedback),
			LatestFeedback:     fb,
			Duration:           cur.Duration().Seconds(),
		}
	}
	return s
}

// Iterations returns copies of every iteration record.
func (t *Tracker) Iterations() []Iteration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Iteration, 0, len(t.iterations))
	for _, it := range t.iterations {
		cp := *it
		cp.Feedback = append([]string(nil), it.Feedback...)
		out = append(out, cp)
	}
	return out
}

// Summary condenses the loop outcome for the terminal project result.
type Summary struct {
	TotalIterations  int     `json:"total_iterations"`
	ImprovementsMade int     `json:"improvements_made"`
	FinalQuality     float64 `json:"final_quality"`
	FinalConvergence float64 `json:"final_convergence"`
	Converged        bool    `json:"converged"`
}

func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Summary{TotalIterations: len(t.iterations)}
	for _, it := range t.iterations {
		if len(it.Feedback) > 0 {
			s.ImprovementsMade++
		}
	}
	if n := len(t.iterations); n > 0 {
		last := t.iterations[n-1]
		s.FinalQuality = last.QualityScore
		s.FinalConvergence = last.ConvergenceScore
		s.Converged = last.ConvergenceScore >= t.cfg.ConvergenceThreshold
	}
	return s
}

// Logs returns up to count recent log entries, oldest first.
func (t *Tracker) Logs(count int) []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if count <= 0 || count > len(t.logs) {
		count = len(t.logs)
	}
	out := make([]LogEntry, count)
	copy(out, t.logs[len(t.logs)-count:])
	return out
}

func (t *Tracker) totalDurationLocked() time.Duration {
	if !t.endTime.IsZero() {
		return t.endTime.Sub(t.startTime)
	}
	return time.Since(t.startTime)
}

func (t *Tracker) isTerminalLocked() bool {
	return t.state == StateCompleted || t.state == StateFailed
}

func (t *Tracker) logLocked(level, source, message string) {
	t.logs = append(t.logs, LogEntry{
		Time:    time.Now(),
		Level:   level,
		Source:  source,
		Message: message,
	})
	if len(t.logs) > maxTrackerLogs {
		t.logs = t.logs[len(t.logs)-maxTrackerLogs:]
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
