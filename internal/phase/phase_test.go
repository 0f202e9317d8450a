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

package phase

import (
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
)

func TestPauseElapsed(t *testing.T) {
	start := metav1.NewTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		name     string
		start    *metav1.Time
		duration string
		now      time.Time
		want     bool
		wantErr  bool
	}{
		{"indefinite never elapses", &start, "", start.Time.Add(time.Hour), false, false},
		{"before elapsed", &start, "5m", start.Time.Add(4 * time.Minute), false, false},
		{"exactly elapsed", &start, "5m", start.Time.Add(5 * time.Minute), true, false},
		{"after elapsed", &start, "5m", start.Time.Add(6 * time.Minute), true, false},
		{"nil start never elapses", nil, "5m", start.Time.Add(time.Hour), false, false},
		{"malformed duration errors", &start, "not-a-duration", start.Time, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PauseElapsed(tc.start, tc.duration, tc.now)
			if tc.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolvePauseTie(t *testing.T) {
	cases := []struct {
		elapsed, promote bool
		wantAdvance      bool
		wantReason       string
	}{
		{false, false, false, ""},
		{true, false, true, "pause duration elapsed"},
		{false, true, true, "manual promote requested"},
		{true, true, true, "manual promote requested"}, // §4.3 tie-break: promote wins.
	}
	for _, tc := range cases {
		advance, reason := ResolvePauseTie(tc.elapsed, tc.promote)
		if advance != tc.wantAdvance || reason != tc.wantReason {
			t.Fatalf("ResolvePauseTie(%v, %v) = (%v, %q), want (%v, %q)",
				tc.elapsed, tc.promote, advance, reason, tc.wantAdvance, tc.wantReason)
		}
	}
}

func TestResolveABTie(t *testing.T) {
	cases := []struct {
		significant, durationCap bool
		wantConclude             bool
		wantReason               string
	}{
		{false, false, false, ""},
		{false, true, true, "maxDuration elapsed without significance"},
		{true, false, true, "statistically significant result"},
		{true, true, true, "statistically significant result"}, // §4.3 tie-break: significance wins.
	}
	for _, tc := range cases {
		conclude, reason := ResolveABTie(tc.significant, tc.durationCap)
		if conclude != tc.wantConclude || reason != tc.wantReason {
			t.Fatalf("ResolveABTie(%v, %v) = (%v, %q), want (%v, %q)",
				tc.significant, tc.durationCap, conclude, reason, tc.wantConclude, tc.wantReason)
		}
	}
}

func TestAnnotationReads(t *testing.T) {
	r := &kultav1alpha1.Rollout{}
	r.Annotations = map[string]string{
		kultav1alpha1.AnnotationPromote: "true",
	}
	if !PromoteRequested(r) {
		t.Fatal("expected PromoteRequested to be true")
	}
	if ConcludeExperimentRequested(r) {
		t.Fatal("expected ConcludeExperimentRequested to be false")
	}
	if AbortRequested(r) {
		t.Fatal("expected AbortRequested to be false")
	}

	r.Annotations[kultav1alpha1.AnnotationAbort] = "false"
	if AbortRequested(r) {
		t.Fatal("only the literal string \"true\" should trigger AbortRequested")
	}
}

func TestDecisionChanged(t *testing.T) {
	d := Decision{NextPhase: kultav1alpha1.PhaseCompleted, TransitionTag: "canary.completed"}
	if !d.Changed(kultav1alpha1.PhaseProgressing) {
		t.Fatal("expected a tagged, phase-changing decision to report Changed")
	}
	if d.Changed(kultav1alpha1.PhaseCompleted) {
		t.Fatal("a decision landing on the same phase is not a change")
	}
	untagged := Decision{NextPhase: kultav1alpha1.PhasePaused}
	if untagged.Changed(kultav1alpha1.PhaseProgressing) {
		t.Fatal("an untagged decision should never report Changed")
	}
}
