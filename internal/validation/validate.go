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

// Package validation implements the static validation of §4.9: rejecting
// malformed Rollout specs before any strategy handler ever sees them.
package validation

import (
	"fmt"
	"time"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
)

var allowedMetrics = map[kultav1alpha1.MetricName]bool{
	kultav1alpha1.MetricErrorRate:  true,
	kultav1alpha1.MetricLatencyP95: true,
}

// Validate checks r.Spec's shape and value ranges, plus the mid-rollout
// strategy-change rule, which needs the prior observed strategy kind (empty
// if this is the first reconcile). It returns all violations found, not just
// the first.
func Validate(r *kultav1alpha1.Rollout, priorStrategyKind string, priorPhase kultav1alpha1.RolloutPhase) []string {
	var errs []string

	if r.Spec.Selector == nil || len(r.Spec.Selector.MatchLabels) == 0 && len(r.Spec.Selector.MatchExpressions) == 0 {
		errs = append(errs, "spec.selector must not be empty")
	}
	if len(r.Spec.Template.Spec.Containers) == 0 {
		errs = append(errs, "spec.template must define at least one container")
	}
	if r.Spec.Replicas < 0 {
		errs = append(errs, "spec.replicas must be >= 0")
	}

	count := r.Spec.Strategy.Count()
	switch {
	case count == 0:
		errs = append(errs, "spec.strategy must set exactly one of canary, blueGreen, abTesting, simple")
	case count > 1:
		errs = append(errs, "spec.strategy must set exactly one strategy branch, found more than one")
	}

	kind := r.Spec.Strategy.Kind()
	if priorStrategyKind != "" && kind != "" && priorStrategyKind != kind && priorPhase != kultav1alpha1.PhaseCompleted {
		errs = append(errs, fmt.Sprintf("spec.strategy changed from %q to %q before the rollout reached Completed", priorStrategyKind, kind))
	}

	switch {
	case r.Spec.Strategy.Canary != nil:
		errs = append(errs, validateCanary(r.Spec.Strategy.Canary)...)
	case r.Spec.Strategy.ABTesting != nil:
		errs = append(errs, validateABTesting(r.Spec.Strategy.ABTesting)...)
	case r.Spec.Strategy.Simple != nil:
		errs = append(errs, validateAnalysis(r.Spec.Strategy.Simple.Analysis)...)
	}

	return errs
}

func validateCanary(c *kultav1alpha1.CanaryStrategy) []string {
	var errs []string
	if len(c.Steps) == 0 {
		errs = append(errs, "spec.strategy.canary.steps must not be empty")
		return errs
	}

	last := int32(-1)
	for i, step := range c.Steps {
		if step.SetWeight < 0 || step.SetWeight > 100 {
			errs = append(errs, fmt.Sprintf("spec.strategy.canary.steps[%d].setWeight must be within 0-100", i))
		}
		if step.SetWeight < last {
			errs = append(errs, fmt.Sprintf("spec.strategy.canary.steps[%d].setWeight must be non-decreasing across steps", i))
		}
		last = step.SetWeight
		if step.Pause != nil && step.Pause.Duration != "" {
			if _, err := time.ParseDuration(step.Pause.Duration); err != nil {
				errs = append(errs, fmt.Sprintf("spec.strategy.canary.steps[%d].pause.duration is not a valid duration: %v", i, err))
			}
		}
	}
	if c.Steps[len(c.Steps)-1].SetWeight != 100 {
		errs = append(errs, "spec.strategy.canary.steps final weight must equal 100")
	}

	errs = append(errs, validateAnalysis(c.Analysis)...)
	return errs
}

func validateABTesting(a *kultav1alpha1.ABTestingStrategy) []string {
	var errs []string
	if a.MaxDuration != "" {
		if _, err := time.ParseDuration(a.MaxDuration); err != nil {
			errs = append(errs, fmt.Sprintf("spec.strategy.abTesting.maxDuration is not a valid duration: %v", err))
		}
	}
	if a.VariantBMatch.HeaderName == "" && a.VariantBMatch.CookieName == "" {
		errs = append(errs, "spec.strategy.abTesting.variantBMatch must set headerName or cookieName")
	}
	if a.Analysis != nil {
		if a.Analysis.ConfidenceLevel <= 0 || a.Analysis.ConfidenceLevel >= 1 {
			errs = append(errs, "spec.strategy.abTesting.analysis.confidenceLevel must be within (0,1)")
		}
		if a.Analysis.MinDuration != "" {
			if _, err := time.ParseDuration(a.Analysis.MinDuration); err != nil {
				errs = append(errs, fmt.Sprintf("spec.strategy.abTesting.analysis.minDuration is not a valid duration: %v", err))
			}
		}
	}
	return errs
}

func validateAnalysis(a *kultav1alpha1.Analysis) []string {
	if a == nil {
		return nil
	}
	var errs []string
	if a.Warmup != "" {
		if _, err := time.ParseDuration(a.Warmup); err != nil {
			errs = append(errs, fmt.Sprintf("spec analysis.warmup is not a valid duration: %v", err))
		}
	}
	seen := make(map[kultav1alpha1.MetricName]bool, len(a.Metrics))
	for _, m := range a.Metrics {
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("spec analysis.metrics has duplicate metric name %q", m.Name))
		}
		seen[m.Name] = true
		if !allowedMetrics[m.Name] {
			errs = append(errs, fmt.Sprintf("spec analysis.metrics references unknown metric name %q", m.Name))
		}
	}
	return errs
}
