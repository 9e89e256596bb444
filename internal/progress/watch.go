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

package progress

import (
	"context"
	"time"
)

const (
	// DefaultWatchInterval is the polling cadence used when the caller
	// does not pick one.
	DefaultWatchInterval = 1500 * time.Millisecond

	// fakeStep nudges the reported percentage forward between real
	// updates so pollers see movement during long model calls. Nudged
	// values never pass fakeCeiling; only a terminal report says 100.
	fakeStep    = 0.5
	fakeCeiling = 95

	// maxStallPolls bounds how many consecutive polls Watch tolerates an
	// unknown id or a frozen percentage before flagging it.
	maxStallPolls = 30
)

// Watch polls one run and emits a report per poll until the run reaches
// a terminal status, the id stays unknown past the retry budget, or ctx
// is cancelled. The channel closes when watching stops.
func (p *Projection) Watch(ctx context.Context, id string, interval time.Duration) <-chan Report {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ch := make(chan Report, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			notFound int
			stalled  int
			base     float64
			shown    float64
		)
		for {
			rep := p.Status(id)
			switch {
			case rep.Status == StatusNotFound:
				notFound++
				if notFound > maxStallPolls {
					rep.Failure = "could not determine run status"
					emit(ctx, ch, rep)
					return
				}
			case rep.Status != StatusRunning:
				emit(ctx, ch, rep)
				return
			default:
				notFound = 0
				if rep.Percentage > base {
					base = rep.Percentage
					stalled = 0
				} else {
					stalled++
					fake := base + float64(stalled)*fakeStep
					if fake > fakeCeiling {
						fake = fakeCeiling
					}
					if fake > rep.Percentage {
						rep.Percentage = fake
					}
				}
				if rep.Percentage < shown {
					rep.Percentage = shown
				}
				shown = rep.Percentage
				rep.Stalled = stalled >= maxStallPolls
			}
			if !emit(ctx, ch, rep) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

func emit(ctx context.Context, ch chan<- Report, rep Report) bool {
	select {
	case ch <- rep:
		return true
	case <-ctx.Done():
		return false
	}
}
