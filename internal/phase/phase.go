/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package phase holds the shared phase-lattice helpers of §4.3: annotation
// reads, pause/duration elapsed checks, and the tie-break rules common to
// every strategy handler. Each strategy handler (internal/strategy) composes
// these into its own ComputeNextStatus.
package phase

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
)

// Decision is the output of a strategy handler's ComputeNextStatus: the next
// phase-relevant status fields and a transition tag identifying what moved,
// for event emission and occurrence logging. TransitionTag is "" when the
// reconcile produced no event-worthy transition: a no-op tick, or an
// internal move such as Canary's Progressing to Paused.
type Decision struct {
	NextPhase     kultav1alpha1.RolloutPhase
	TransitionTag string
	Reason        string
	// EventType is the §4.7 event type to emit, or "" to emit nothing.
	EventType string
	// OccurrenceType is the §4.10 occurrence type tag, or "" to skip
	// writing an occurrence record.
	OccurrenceType string

	// FollowupEventType/FollowupOccurrenceType are emitted immediately after
	// EventType/OccurrenceType, for a transition that is simultaneously two
	// named events in spec.md's table (Blue-Green's cutover is both "service
	// upgraded" and "any non-terminal to Completed"). Empty when the
	// transition is only ever one event.
	FollowupEventType      string
	FollowupOccurrenceType string
}

// Changed reports whether this decision represents an actual phase advance
// (as opposed to a no-op tick that left the phase unchanged).
func (d Decision) Changed(prior kultav1alpha1.RolloutPhase) bool {
	return d.TransitionTag != "" && d.NextPhase != prior
}

// PromoteRequested reports whether the user asked to force-advance past a
// pause or cut a Blue-Green preview over.
func PromoteRequested(r *kultav1alpha1.Rollout) bool {
	return r.Annotations[kultav1alpha1.AnnotationPromote] == "true"
}

// ConcludeExperimentRequested reports whether the user asked to conclude an
// A/B experiment early using current data.
func ConcludeExperimentRequested(r *kultav1alpha1.Rollout) bool {
	return r.Annotations[kultav1alpha1.AnnotationConcludeExperiment] == "true"
}

// AbortRequested reports whether the user asked to force the rollout to Failed.
func AbortRequested(r *kultav1alpha1.Rollout) bool {
	return r.Annotations[kultav1alpha1.AnnotationAbort] == "true"
}

// PauseElapsed reports whether a pause started at start has elapsed as of
// now, given a Go duration string. An empty duration pauses indefinitely
// (never elapses on its own; only PromoteRequested can advance it).
func PauseElapsed(start *metav1.Time, duration string, now time.Time) (bool, error) {
	if duration == "" {
		return false, nil
	}
	if start == nil {
		return false, nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return false, err
	}
	return !now.Before(start.Time.Add(d)), nil
}

// DurationElapsed reports whether start + duration has passed as of now. An
// empty duration string never elapses.
func DurationElapsed(start *metav1.Time, duration string, now time.Time) (bool, error) {
	return PauseElapsed(start, duration, now)
}

// ResolvePauseTie implements §4.3's first tie-break: "when a pause is
// exactly elapsed and a manual-promote annotation is present, the annotation
// wins and is recorded." Both inputs being true is the tie; the function
// always advances if either is true, but callers use this to pick the
// recorded reason.
func ResolvePauseTie(elapsed, promoteRequested bool) (advance bool, reason string) {
	switch {
	case promoteRequested:
		return true, "manual promote requested"
	case elapsed:
		return true, "pause duration elapsed"
	default:
		return false, ""
	}
}

// ResolveABTie implements §4.3's second tie-break: "when both A/B duration
// cap and significance fire in the same tick, significance wins."
func ResolveABTie(significant, durationCapReached bool) (conclude bool, reason string) {
	switch {
	case significant:
		return true, "statistically significant result"
	case durationCapReached:
		return true, "maxDuration elapsed without significance"
	default:
		return false, ""
	}
}
