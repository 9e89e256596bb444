/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed model call. Classification happens once
// here; callers switch on the kind instead of matching message substrings.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTimeout
	KindTransport
	KindLimitExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindLimitExceeded:
		return "limit_exceeded"
	default:
		return "other"
	}
}

// Retryable reports whether another attempt can succeed. Limit errors are
// final: the backend refuses further turns until the conversation changes.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindTransport
}

// CallError is a model call failure tagged with its kind.
type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Message markers emitted by agent backends when they refuse further
// turns. Kept in one place so only the classifier knows about them.
var limitMarkers = []string{
	"max_consecutive_auto_reply",
	"maximum number of consecutive auto-replies",
	"terminating run",
	"auto-reply limit",
	"consecutive replies",
	"exceeds max steps",
}

var timeoutMarkers = []string{
	"context deadline exceeded",
	"operation timed out",
	"timeout",
}

var transportMarkers = []string{
	"connection reset",
	"connection refused",
	"read tcp",
	"write tcp",
	"broken pipe",
	"no such host",
}

// Classify maps err to its ErrorKind. Limit markers win over timeout
// markers: a run terminated for too many replies often mentions both.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	s := strings.ToLower(err.Error())
	for _, m := range limitMarkers {
		if strings.Contains(s, m) {
			return KindLimitExceeded
		}
	}
	for _, m := range timeoutMarkers {
		if strings.Contains(s, m) {
			return KindTimeout
		}
	}
	for _, m := range transportMarkers {
		if strings.Contains(s, m) {
			return KindTransport
		}
	}
	return KindOther
}

// WrapCallError tags err with its classified kind. Already-tagged errors
// pass through unchanged.
func WrapCallError(err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Kind: Classify(err), Err: err}
}

// IsLimit reports whether err is a backend turn-limit failure.
func IsLimit(err error) bool {
	return Classify(err) == KindLimitExceeded
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return Classify(err) == KindTimeout
}

// IsTransport reports whether err is a network failure.
func IsTransport(err error) bool {
	return Classify(err) == KindTransport
}
