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

package validation

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
)

func baseRollout() *kultav1alpha1.Rollout {
	return &kultav1alpha1.Rollout{
		Spec: kultav1alpha1.RolloutSpec{
			Replicas: 3,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "demo"}},
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "demo:v1"}}},
			},
			Strategy: kultav1alpha1.RolloutStrategy{
				Canary: &kultav1alpha1.CanaryStrategy{
					Steps: []kultav1alpha1.CanaryStep{
						{SetWeight: 25},
						{SetWeight: 100},
					},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedRollout(t *testing.T) {
	if errs := Validate(baseRollout(), "", ""); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateRejectsMissingSelector(t *testing.T) {
	r := baseRollout()
	r.Spec.Selector = nil
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a missing selector")
	}
}

func TestValidateRejectsEmptyTemplate(t *testing.T) {
	r := baseRollout()
	r.Spec.Template.Spec.Containers = nil
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a template with no containers")
	}
}

func TestValidateRejectsNegativeReplicas(t *testing.T) {
	r := baseRollout()
	r.Spec.Replicas = -1
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for negative replicas")
	}
}

func TestValidateRejectsNoStrategy(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy = kultav1alpha1.RolloutStrategy{}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error when no strategy branch is set")
	}
}

func TestValidateRejectsMultipleStrategies(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Simple = &kultav1alpha1.SimpleStrategy{}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error when more than one strategy branch is set")
	}
}

func TestValidateCanaryRejectsEmptySteps(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Steps = nil
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for an empty canary step list")
	}
}

func TestValidateCanaryRejectsWeightOutOfRange(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Steps[0].SetWeight = 150
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a weight above 100")
	}
}

func TestValidateCanaryRejectsDecreasingWeight(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Steps = []kultav1alpha1.CanaryStep{
		{SetWeight: 50},
		{SetWeight: 25},
		{SetWeight: 100},
	}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for non-monotonic step weights")
	}
}

func TestValidateCanaryRejectsFinalWeightNot100(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Steps[len(r.Spec.Strategy.Canary.Steps)-1].SetWeight = 90
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error when the final step weight is not 100")
	}
}

func TestValidateCanaryRejectsMalformedPauseDuration(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Steps[0].Pause = &kultav1alpha1.RolloutPause{Duration: "five minutes"}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a malformed pause duration")
	}
}

func TestValidateRejectsMidRolloutStrategyChangeBeforeCompleted(t *testing.T) {
	r := baseRollout()
	if errs := Validate(r, "blueGreen", kultav1alpha1.PhaseProgressing); len(errs) == 0 {
		t.Fatal("expected an error when the strategy branch changes before reaching Completed")
	}
}

func TestValidateAllowsStrategyChangeAfterCompleted(t *testing.T) {
	r := baseRollout()
	if errs := Validate(r, "blueGreen", kultav1alpha1.PhaseCompleted); len(errs) != 0 {
		t.Fatalf("expected no error when the strategy changes after Completed, got %v", errs)
	}
}

func TestValidateRejectsUnknownMetricName(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Analysis = &kultav1alpha1.Analysis{
		Metrics: []kultav1alpha1.MetricThreshold{{Name: "bogus-metric", Threshold: 0.5}},
	}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for an unknown metric name")
	}
}

func TestValidateRejectsDuplicateMetricName(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary.Analysis = &kultav1alpha1.Analysis{
		Metrics: []kultav1alpha1.MetricThreshold{
			{Name: kultav1alpha1.MetricErrorRate, Threshold: 0.1},
			{Name: kultav1alpha1.MetricErrorRate, Threshold: 0.2},
		},
	}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a duplicate metric name")
	}
}

func TestValidateABTestingRequiresVariantBMatch(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary = nil
	r.Spec.Strategy.ABTesting = &kultav1alpha1.ABTestingStrategy{
		VariantAService: "a",
		VariantBService: "b",
		Port:            80,
		MaxDuration:     "1h",
	}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error when neither headerName nor cookieName is set")
	}
}

func TestValidateABTestingRejectsConfidenceLevelOutOfRange(t *testing.T) {
	r := baseRollout()
	r.Spec.Strategy.Canary = nil
	r.Spec.Strategy.ABTesting = &kultav1alpha1.ABTestingStrategy{
		VariantAService: "a",
		VariantBService: "b",
		Port:            80,
		MaxDuration:     "1h",
		VariantBMatch:   kultav1alpha1.VariantBMatch{HeaderName: "X-Variant", Value: "b"},
		Analysis:        &kultav1alpha1.ABAnalysis{ConfidenceLevel: 1.5},
	}
	if errs := Validate(r, "", ""); len(errs) == 0 {
		t.Fatal("expected an error for a confidence level outside (0,1)")
	}
}
