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

package strategy

import "testing"

func TestCeilDiv100(t *testing.T) {
	cases := []struct {
		total, pct int32
		want       int32
	}{
		{10, 0, 0},
		{10, 100, 10},
		{10, 50, 5},
		{10, 25, 3}, // ceil(2.5) = 3
		{3, 33, 1},  // ceil(0.99) = 1
		{0, 50, 0},
		{-5, 50, 0},
		{10, -1, 0},
		{7, 1, 1}, // ceil(0.07) = 1, the "at least one pod once traffic is nonzero" guarantee
	}
	for _, tc := range cases {
		if got := ceilDiv100(tc.total, tc.pct); got != tc.want {
			t.Errorf("ceilDiv100(%d, %d) = %d, want %d", tc.total, tc.pct, got, tc.want)
		}
	}
}

func TestForReturnsRegisteredHandlers(t *testing.T) {
	for _, kind := range []string{"canary", "blueGreen", "abTesting", "simple"} {
		if _, ok := For(kind); !ok {
			t.Errorf("expected a registered handler for kind %q", kind)
		}
	}
}

func TestForRejectsUnknownKind(t *testing.T) {
	if _, ok := For("rollingUpdate"); ok {
		t.Fatal("expected no handler to be registered for an unknown strategy kind")
	}
}

func TestHandlerCapabilities(t *testing.T) {
	cases := []struct {
		kind               string
		wantAnalysis       bool
		wantManualPromote  bool
	}{
		{"canary", true, true},
		{"blueGreen", false, true},
		{"abTesting", true, false},
		{"simple", true, false},
	}
	for _, tc := range cases {
		h, ok := For(tc.kind)
		if !ok {
			t.Fatalf("no handler registered for %q", tc.kind)
		}
		if got := h.SupportsAnalysis(); got != tc.wantAnalysis {
			t.Errorf("%s: SupportsAnalysis() = %v, want %v", tc.kind, got, tc.wantAnalysis)
		}
		if got := h.SupportsManualPromotion(); got != tc.wantManualPromote {
			t.Errorf("%s: SupportsManualPromotion() = %v, want %v", tc.kind, got, tc.wantManualPromote)
		}
	}
}
