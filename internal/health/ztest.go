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

import "math"

// ComputeZTest computes the two-proportion Z-test of §4.5 from raw counts.
// It does not decide significance (no minSampleSize or confidenceLevel is
// known here); callers combine PValue with their own thresholds.
func ComputeZTest(conversionsA, samplesA, conversionsB, samplesB float64) ExperimentResult {
	result := ExperimentResult{
		ConversionsA: conversionsA,
		SamplesA:     samplesA,
		ConversionsB: conversionsB,
		SamplesB:     samplesB,
	}
	if samplesA <= 0 || samplesB <= 0 {
		return result
	}

	pa := conversionsA / samplesA
	pb := conversionsB / samplesB
	pooled := (conversionsA + conversionsB) / (samplesA + samplesB)

	result.PA = pa
	result.PB = pb

	denom := pooled * (1 - pooled) * (1/samplesA + 1/samplesB)
	if denom <= 0 {
		result.PValue = 1
		return result
	}

	z := (pb - pa) / math.Sqrt(denom)
	result.Z = z
	result.PValue = twoTailedPValue(z)
	return result
}

// twoTailedPValue converts a Z-statistic into a two-tailed p-value using the
// standard normal survival function, expressed via the error function.
func twoTailedPValue(z float64) float64 {
	abs := math.Abs(z)
	upperTail := 0.5 * math.Erfc(abs/math.Sqrt2)
	return 2 * upperTail
}
