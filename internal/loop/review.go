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
	"regexp"
	"strconv"
	"strings"
)

// Review statuses a reviewer may report. READY is accepted as a legacy
// spelling of APPROVED.
const (
	StatusApproved         = "APPROVED"
	StatusNeedsImprovement = "NEEDS_IMPROVEMENT"
)

// DefaultQualityScore is assumed when a review carries feedback but no
// parseable QUALITY_SCORE line.
const DefaultQualityScore = 0.7

// maxFeedbackItems caps how many feedback entries one review contributes.
const maxFeedbackItems = 5

var (
	qualityScoreRE = regexp.MustCompile(`QUALITY_SCORE:\s*([0-9.]+)`)
	statusRE       = regexp.MustCompile(`STATUS:\s*(APPROVED|READY|NEEDS_IMPROVEMENT)`)
	feedbackRE     = regexp.MustCompile(`(?s)FEEDBACK:\s*(.*?)(?:STATUS:|$)`)
	keywordRE      = regexp.MustCompile(`(?i)\b(improve|fix|add|consider|should)\b`)
)

// ParsedReview is the structured form of a reviewer response. OK reports
// whether the response followed the contract at all; when it is false the
// caller must treat the review as malformed and only Raw is meaningful.
type ParsedReview struct {
	OK       bool
	Score    float64
	Feedback []string
	Approved bool
	Raw      string
}

// ParseReviewResponse extracts the quality score, feedback items and
// approval status from a reviewer response.
//
// The expected shape is three labelled sections:
//
//	QUALITY_SCORE: 0.85
//	FEEDBACK:
//	- item
//	STATUS: APPROVED
//
// Responses are parsed leniently: a missing score defaults to
// DefaultQualityScore, feedback items may be newline or comma separated
// with optional bullet markers, and a missing FEEDBACK section falls back
// to scanning for suggestion-like lines. A response with none of the
// labelled sections is reported as malformed.
func ParseReviewResponse(text string) ParsedReview {
	p := ParsedReview{Raw: text}

	hasScore := false
	score := DefaultQualityScore
	if m := qualityScoreRE.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			score = clampScore(v)
			hasScore = true
		}
	}

	hasStatus := false
	approved := false
	if m := statusRE.FindStringSubmatch(text); m != nil {
		hasStatus = true
		approved = m[1] == StatusApproved || m[1] == "READY"
	}

	hasFeedback := false
	var feedback []string
	if m := feedbackRE.FindStringSubmatch(text); m != nil {
		hasFeedback = true
		feedback = splitFeedback(m[1])
	} else {
		feedback = scanSuggestions(text)
	}

	if !hasScore && !hasStatus && !hasFeedback {
		return p
	}
	p.OK = true
	p.Score = score
	p.Feedback = feedback
	p.Approved = approved
	return p
}

// splitFeedback breaks a FEEDBACK section into individual items. Items are
// separated by newlines or commas; bullet markers and numbering are
// stripped and fragments too short to act on are dropped.
func splitFeedback(section string) []string {
	var items []string
	for _, line := range strings.Split(section, "\n") {
		for _, part := range strings.Split(line, ",") {
			item := strings.TrimSpace(part)
			item = strings.TrimLeft(item, "-*0123456789. ")
			if len(item) <= 10 {
				continue
			}
			items = append(items, item)
			if len(items) >= maxFeedbackItems {
				return items
			}
		}
	}
	return items
}

// scanSuggestions is the fallback for reviews without a FEEDBACK section:
// any line that reads like a suggestion is kept as feedback.
func scanSuggestions(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !keywordRE.MatchString(line) {
			continue
		}
		items = append(items, strings.TrimLeft(line, "-* "))
		if len(items) >= maxFeedbackItems {
			break
		}
	}
	return items
}
