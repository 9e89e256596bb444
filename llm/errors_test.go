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
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindOther},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"timeout text", fmt.Errorf("request timeout after 90s"), KindTimeout},
		{"operation timed out", fmt.Errorf("dial: operation timed out"), KindTimeout},
		{"connection reset", fmt.Errorf("read: connection reset by peer"), KindTransport},
		{"connection refused", fmt.Errorf("dial tcp 127.0.0.1:80: connection refused"), KindTransport},
		{"read tcp", fmt.Errorf("read tcp 10.0.0.1:443: i/o issue"), KindTransport},
		{"auto reply limit", fmt.Errorf("max_consecutive_auto_reply reached"), KindLimitExceeded},
		{"terminating run", fmt.Errorf("TERMINATING RUN: too many replies"), KindLimitExceeded},
		{"consecutive replies", fmt.Errorf("Maximum number of consecutive auto-replies reached"), KindLimitExceeded},
		{"max steps", fmt.Errorf("agent exceeds max steps: 8"), KindLimitExceeded},
		{"plain", fmt.Errorf("invalid api key"), KindOther},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassify_LimitWinsOverTimeout(t *testing.T) {
	// A terminated run often mentions a timeout as well; the limit marker
	// decides the kind.
	err := fmt.Errorf("TERMINATING RUN: reply timeout while waiting")
	if got := Classify(err); got != KindLimitExceeded {
		t.Errorf("Classify = %v, want KindLimitExceeded", got)
	}
}

func TestWrapCallError(t *testing.T) {
	base := fmt.Errorf("read: connection reset by peer")
	wrapped := WrapCallError(base)
	var ce *CallError
	if !errors.As(wrapped, &ce) {
		t.Fatal("expected *CallError")
	}
	if ce.Kind != KindTransport {
		t.Errorf("Kind = %v, want KindTransport", ce.Kind)
	}
	// Idempotent: wrapping again keeps the same tag.
	if again := WrapCallError(wrapped); again != wrapped {
		t.Error("re-wrap should pass through")
	}
	// Classification survives another annotation layer.
	annotated := errors.Wrap(wrapped, "call generation agent")
	if got := Classify(annotated); got != KindTransport {
		t.Errorf("Classify(annotated) = %v, want KindTransport", got)
	}
	if WrapCallError(nil) != nil {
		t.Error("WrapCallError(nil) should be nil")
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	if !KindTimeout.Retryable() || !KindTransport.Retryable() {
		t.Error("timeout and transport must be retryable")
	}
	if KindLimitExceeded.Retryable() || KindOther.Retryable() {
		t.Error("limit and other must not be retryable")
	}
}

func TestPredicates(t *testing.T) {
	if !IsLimit(fmt.Errorf("auto-reply limit reached")) {
		t.Error("IsLimit")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("IsTimeout")
	}
	if !IsTransport(fmt.Errorf("write tcp 1.2.3.4:443: broken pipe")) {
		t.Error("IsTransport")
	}
}
