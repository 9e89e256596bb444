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

package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/utils"
	"github.com/cloudwego/abgen/llm"
)

// Completer is the completion capability the loop drives. *llm.Completer
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (string, error)
}

// CodeValidator pre-screens generated code before it is sent to review.
type CodeValidator interface {
	Validate(ctx context.Context, language, source string) (ok bool, notes []string)
}

const (
	// initialQuality is the assumed quality of the first iteration's code,
	// which arrives pre-generated and is reused rather than regenerated.
	initialQuality = 0.6
	// qualityStep raises the assumed generation quality per iteration.
	qualityStep = 0.1
	// syntaxScoreCap bounds the convergence score of code that does not
	// even parse, whatever the reviewer says about it.
	syntaxScoreCap = 0.5

	defaultLoopTurns  = 2
	maxSyntaxFeedback = 3
)

type CoordinatorOptions struct {
	Generator Completer
	Reviewer  Completer
	Validator CodeValidator // optional syntax gate before each review
	Language  string        // fence language of the generated code, default: python
	MaxTurns  int           // turn budget per completion call, default: 2
	Timeout   time.Duration // per completion call; zero uses the completer default
	// Progress, when set, receives the loop's outward progress after each
	// iteration.
	Progress func(percent float64, message string)
}

// Coordinator drives generation-review iterations against a Tracker until
// the tracker decides the loop is done.
type Coordinator struct {
	tracker *Tracker
	opts    CoordinatorOptions
}

func NewCoordinator(cfg Config, opts CoordinatorOptions) *Coordinator {
	if opts.Generator == nil || opts.Reviewer == nil {
		panic("loop: coordinator needs both a generator and a reviewer")
	}
	if opts.Language == "" {
		opts.Language = "python"
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultLoopTurns
	}
	return &Coordinator{
		tracker: NewTracker(cfg),
		opts:    opts,
	}
}

// Tracker exposes the coordinator's state machine for pollers.
func (c *Coordinator) Tracker() *Tracker {
	return c.tracker
}

// Outcome is the final result of a finished loop.
type Outcome struct {
	FinalCode    string     `json:"final_code"`
	OriginalCode string     `json:"original_code"`
	Summary      Summary    `json:"loop_summary"`
	Feedback     []string   `json:"review_feedback,omitempty"`
	Logs         []LogEntry `json:"recent_logs,omitempty"`
	Duration     time.Duration
}

// Run iterates generation and review over initialCode until the tracker
// reaches a terminal state.
//
// Iteration 1 reuses initialCode instead of regenerating it; later
// iterations ask the generator to improve the code using the previous
// review's feedback. Completion failures inside the loop are absorbed as
// low-score phase results so the loop always ends through the tracker's
// own rules. The only hard error is an empty initial artifact, which is
// unrecoverable, and cancellation of ctx.
func (c *Coordinator) Run(ctx context.Context, requirements, initialCode string) (*Outcome, error) {
	if strings.TrimSpace(initialCode) == "" {
		err := &UnrecoverableError{Reason: "no initial code to review"}
		c.tracker.Fail(err.Error())
		return nil, err
	}

	started := time.Now()
	currentCode := initialCode
	c.tracker.StartLoop()

	for c.tracker.ShouldContinue() {
		if err := ctx.Err(); err != nil {
			c.tracker.Fail("loop cancelled: " + err.Error())
			return nil, err
		}
		n := 1
		if st := c.tracker.Status(); st.Current != nil {
			n = st.Current.Number
		}

		currentCode = c.runGeneration(ctx, n, requirements, currentCode)
		if err := ctx.Err(); err != nil {
			c.tracker.Fail("loop cancelled: " + err.Error())
			return nil, err
		}
		c.runReview(ctx, n, requirements, currentCode)
		c.report(fmt.Sprintf("Iteration #%d finished", n))
	}

	st := c.tracker.Status()
	if st.HasFailed {
		return nil, errors.Errorf("generation-review loop failed: %s", st.FailureReason)
	}
	return &Outcome{
		FinalCode:    currentCode,
		OriginalCode: initialCode,
		Summary:      c.tracker.Summary(),
		Feedback:     c.tracker.LastFeedback(),
		Logs:         c.tracker.Logs(10),
		Duration:     time.Since(started),
	}, nil
}

// runGeneration produces the code for iteration n and completes the
// tracker's generation phase. It returns the code the review phase should
// look at, which is the previous code when generation fails.
func (c *Coordinator) runGeneration(ctx context.Context, n int, requirements, code string) string {
	if n == 1 {
		c.tracker.UpdateGenerationProgress(10, "Using initial generated code")
		c.tracker.UpdateGenerationProgress(50, "Processing initial code structure")
		c.tracker.UpdateGenerationProgress(100, "Initial code ready for review")
		c.tracker.CompleteGeneration(initialQuality)
		return code
	}

	c.tracker.UpdateGenerationProgress(10, "Analyzing feedback from previous review")
	feedback := c.tracker.LastFeedback()
	c.tracker.UpdateGenerationProgress(30, "Generating improved code based on feedback")

	out, err := c.opts.Generator.Complete(ctx, llm.CompleteRequest{
		Prompt:   c.improvementPrompt(requirements, code, feedback),
		MaxTurns: c.opts.MaxTurns,
		Timeout:  c.opts.Timeout,
	})
	if err != nil {
		log.Error("code generation failed on iteration #%d: %v", n, err)
		c.tracker.CompleteGeneration(0)
		c.tracker.AddFeedback(fmt.Sprintf("code generation failed (%s error), reviewing the previous version again", llm.Classify(err)))
		return code
	}

	c.tracker.UpdateGenerationProgress(70, "Processing improved code")
	improved, _ := utils.FirstCodeBlock(out, c.opts.Language)
	if strings.TrimSpace(improved) == "" {
		log.Warn("generation returned no code on iteration #%d", n)
		c.tracker.CompleteGeneration(0)
		c.tracker.AddFeedback("code generation returned no code, reviewing the previous version again")
		return code
	}

	c.tracker.UpdateGenerationProgress(100, "Code generation completed")
	c.tracker.CompleteGeneration(rampQuality(n))
	return improved
}

// runReview reviews code and completes the tracker's review phase. All
// failure modes end in CompleteReview with a low score rather than an
// error, so the loop keeps moving.
func (c *Coordinator) runReview(ctx context.Context, n int, requirements, code string) {
	c.tracker.UpdateReviewProgress(10, "Starting comprehensive code review")

	syntaxOK := true
	var syntaxNotes []string
	if c.opts.Validator != nil {
		syntaxOK, syntaxNotes = c.opts.Validator.Validate(ctx, c.opts.Language, code)
		c.tracker.UpdateReviewProgress(25, "Syntax check completed")
	}

	out, err := c.opts.Reviewer.Complete(ctx, llm.CompleteRequest{
		Prompt:   c.reviewPrompt(requirements, code, n),
		MaxTurns: c.opts.MaxTurns,
		Timeout:  c.opts.Timeout,
	})
	if err != nil {
		log.Error("code review failed on iteration #%d: %v", n, err)
		c.tracker.AddFeedback(fmt.Sprintf("code review failed (%s error), retrying on the next iteration", llm.Classify(err)))
		c.tracker.CompleteReview(0)
		return
	}

	c.tracker.UpdateReviewProgress(80, "Processing review feedback")
	parsed := ParseReviewResponse(out)
	score := parsed.Score
	if !parsed.OK {
		log.Warn("review response on iteration #%d did not follow the contract", n)
		score = 0
		c.tracker.AddFeedback("review response was malformed, requesting a fresh review")
	}
	for _, item := range parsed.Feedback {
		c.tracker.AddFeedback(item)
	}
	for i, note := range syntaxNotes {
		if i >= maxSyntaxFeedback {
			break
		}
		c.tracker.AddFeedback("syntax: " + note)
	}
	if !syntaxOK && score > syntaxScoreCap {
		score = syntaxScoreCap
	}
	if parsed.OK && parsed.Approved && score < c.tracker.Config().ConvergenceThreshold {
		log.Info("reviewer approved but scored %.2f below the threshold, the score wins", score)
	}

	c.tracker.UpdateReviewProgress(100, "Review completed")
	c.tracker.CompleteReview(score)
}

func (c *Coordinator) improvementPrompt(requirements, code string, feedback []string) string {
	var b strings.Builder
	b.WriteString("Based on the following code review feedback, please improve the code:\n\n")
	b.WriteString("Review Feedback:\n")
	if len(feedback) == 0 {
		b.WriteString("- General quality improvements\n")
	}
	for _, item := range feedback {
		b.WriteString("- " + item + "\n")
	}
	fmt.Fprintf(&b, "\nCurrent Code:\n```%s\n%s\n```\n\n", c.opts.Language, strings.TrimRight(code, "\n"))
	fmt.Fprintf(&b, "Original Requirements: %s\n\n", requirements)
	b.WriteString("Please provide an improved version of the code that addresses the feedback. Reply with one fenced code block containing the complete program.")
	return b.String()
}

func (c *Coordinator) reviewPrompt(requirements, code string, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please perform a comprehensive review of the following %s code (iteration #%d):\n\n", c.opts.Language, iteration)
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", c.opts.Language, strings.TrimRight(code, "\n"))
	fmt.Fprintf(&b, "Requirements: %s\n\n", requirements)
	b.WriteString(`Analyze the code for:
1. Code quality and best practices
2. Potential bugs or issues
3. Security vulnerabilities
4. Performance considerations
5. Maintainability and readability
6. Compliance with the requirements

Format your response exactly as:
QUALITY_SCORE: [0.0-1.0]
FEEDBACK:
- [specific improvement suggestion]
STATUS: [APPROVED or NEEDS_IMPROVEMENT]`)
	return b.String()
}

func (c *Coordinator) report(message string) {
	if c.opts.Progress == nil {
		return
	}
	c.opts.Progress(c.tracker.ConvergenceProgress(), message)
}

func rampQuality(n int) float64 {
	q := initialQuality + qualityStep*float64(n)
	if q > 1 {
		return 1
	}
	return q
}
