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

package health

import (
	"math"
	"testing"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestComputeZTestIdenticalProportionsYieldPValueOne(t *testing.T) {
	r := ComputeZTest(50, 500, 50, 500)
	if !almostEqual(r.PValue, 1, 1e-9) {
		t.Fatalf("expected p-value ~1 for identical proportions, got %v", r.PValue)
	}
	if !almostEqual(r.Z, 0, 1e-9) {
		t.Fatalf("expected z ~0 for identical proportions, got %v", r.Z)
	}
}

func TestComputeZTestLargeDifferenceYieldsSmallPValue(t *testing.T) {
	r := ComputeZTest(50, 1000, 150, 1000)
	if r.PValue > 0.01 {
		t.Fatalf("expected a small p-value for a large, well-sampled difference, got %v", r.PValue)
	}
	if r.Z <= 0 {
		t.Fatalf("expected a positive Z when B converts more than A, got %v", r.Z)
	}
}

func TestComputeZTestZeroSamplesIsInconclusive(t *testing.T) {
	cases := []struct {
		name                                   string
		cA, sA, cB, sB float64
	}{
		{"zero samples A", 0, 0, 10, 100},
		{"zero samples B", 10, 100, 0, 0},
		{"zero samples both", 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ComputeZTest(tc.cA, tc.sA, tc.cB, tc.sB)
			if r.PValue != 0 {
				t.Fatalf("expected a zero-value PValue when a sample count is <= 0, got %v", r.PValue)
			}
		})
	}
}

func TestComputeZTestPreservesRawCounts(t *testing.T) {
	r := ComputeZTest(12, 345, 67, 890)
	if r.ConversionsA != 12 || r.SamplesA != 345 || r.ConversionsB != 67 || r.SamplesB != 890 {
		t.Fatalf("raw counts not preserved: %+v", r)
	}
}

func TestComputeZTestSymmetric(t *testing.T) {
	r1 := ComputeZTest(50, 1000, 150, 1000)
	r2 := ComputeZTest(150, 1000, 50, 1000)
	if !almostEqual(r1.Z, -r2.Z, 1e-9) {
		t.Fatalf("expected Z to flip sign when A and B are swapped: %v vs %v", r1.Z, r2.Z)
	}
	if !almostEqual(r1.PValue, r2.PValue, 1e-9) {
		t.Fatalf("expected a symmetric p-value regardless of which variant is A: %v vs %v", r1.PValue, r2.PValue)
	}
}

func TestComputeZTestPValueWithinUnitRange(t *testing.T) {
	r := ComputeZTest(30, 400, 45, 420)
	if r.PValue < 0 || r.PValue > 1 {
		t.Fatalf("p-value out of [0,1] range: %v", r.PValue)
	}
}
