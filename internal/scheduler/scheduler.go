/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler runs one invocation of a scheduled job. Handlers are expected to
// bound their own network calls; the scheduler does not impose a deadline.
type Handler func(ctx context.Context) Outcome

// Scheduler runs keyed recurring jobs. A job runs until its handler returns
// Done or Fatal, its retry budget runs out, it is cancelled, or the scheduler
// stops. Retry delays back off exponentially per job, capped at eight times
// the base interval, and restart from the base when the retry reason changes.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped bool
}

type job struct {
	cancel chan struct{}
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
		stop: make(chan struct{}),
	}
}

// Schedule registers a recurring job under jobKey. The first run happens one
// interval after registration. maxAttempts <= 0 means unlimited. Returns
// false when the key is already scheduled or the scheduler has stopped.
func (s *Scheduler) Schedule(jobKey string, interval time.Duration, maxAttempts int, handler Handler) bool {
	if interval <= 0 {
		zap.L().Warn("Rejecting job with non-positive interval", zap.String("job", jobKey))
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if _, exists := s.jobs[jobKey]; exists {
		s.mu.Unlock()
		zap.L().Debug("Job already scheduled", zap.String("job", jobKey))
		return false
	}
	j := &job{cancel: make(chan struct{})}
	s.jobs[jobKey] = j
	s.wg.Add(1)
	s.mu.Unlock()

	zap.L().Debug("Job scheduled",
		zap.String("job", jobKey),
		zap.Duration("interval", interval),
		zap.Int("max_attempts", maxAttempts))

	go s.run(jobKey, interval, maxAttempts, handler, j)
	return true
}

// Cancel removes a scheduled job. Unknown keys are a no-op.
func (s *Scheduler) Cancel(jobKey string) {
	s.mu.Lock()
	j, ok := s.jobs[jobKey]
	if ok {
		delete(s.jobs, jobKey)
	}
	s.mu.Unlock()

	if ok {
		close(j.cancel)
		zap.L().Debug("Job cancelled", zap.String("job", jobKey))
	}
}

// ActiveJobs returns the number of registered jobs.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop prevents new registrations and waits for running jobs to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	zap.L().Info("Scheduler stopped")
}

func (s *Scheduler) run(jobKey string, interval time.Duration, maxAttempts int, handler Handler, j *job) {
	defer s.wg.Done()
	defer s.remove(jobKey, j)

	delayMax := 8 * interval
	delay := interval
	lastReason := ""
	attempts := 0

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-j.cancel:
			return
		case <-timer.C:
		}

		outcome := handler(context.Background())
		attempts++

		switch outcome.Kind {
		case KindDone:
			zap.L().Debug("Job done",
				zap.String("job", jobKey),
				zap.Int("attempts", attempts))
			return

		case KindFatal:
			zap.L().Error("Job failed permanently",
				zap.String("job", jobKey),
				zap.Int("attempts", attempts),
				zap.Error(outcome.Err))
			return

		default:
			if maxAttempts > 0 && attempts >= maxAttempts {
				zap.L().Warn("Job exhausted retry budget",
					zap.String("job", jobKey),
					zap.String("reason", outcome.Reason),
					zap.Int("attempts", attempts))
				return
			}

			if outcome.Reason != lastReason {
				delay = interval
				lastReason = outcome.Reason
			} else {
				delay *= 2
				if delay > delayMax {
					delay = delayMax
				}
			}

			zap.L().Debug("Job rescheduled",
				zap.String("job", jobKey),
				zap.String("reason", outcome.Reason),
				zap.Duration("delay", delay),
				zap.Int("attempts", attempts))
			timer.Reset(delay)
		}
	}
}

// remove deregisters the job unless the key was already re-scheduled.
func (s *Scheduler) remove(jobKey string, j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[jobKey]; ok && current == j {
		delete(s.jobs, jobKey)
	}
}
