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

import (
	"context"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/fingerprint"
	"github.com/false-systems/kulta/internal/health"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
)

// CanaryHandler implements progressive weighted rollout through an ordered
// step list (§4.4 "Canary").
type CanaryHandler struct{}

func (CanaryHandler) SupportsAnalysis() bool        { return true }
func (CanaryHandler) SupportsManualPromotion() bool { return true }

func (CanaryHandler) ReconcileReplicas(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	total := r.Spec.Replicas
	weight := r.Status.CurrentWeight
	canaryCount := ceilDiv100(total, weight)
	stableCount := total - canaryCount

	canaryHash := fingerprint.Compute(r.Spec.Template)
	if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
		Role:     kultav1alpha1.RoleCanary,
		Replicas: canaryCount,
		Template: r.Spec.Template,
	}); err != nil {
		return err
	}
	r.Status.CanaryRevisionHash = canaryHash

	stableTemplate, stableHash, err := resolveStableTemplate(ctx, deps, r)
	if err != nil {
		return err
	}
	if r.Status.StableRevisionHash == "" {
		if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
			Role:     kultav1alpha1.RoleStable,
			Replicas: stableCount,
			Template: stableTemplate,
		}); err != nil {
			return err
		}
		r.Status.StableRevisionHash = stableHash
		return nil
	}
	return deps.Replica.ScaleByHash(ctx, r, kultav1alpha1.RoleStable, stableHash, stableCount)
}

// resolveStableTemplate returns the template backing the current stable
// revision: the already-promoted revision's template if one exists, or the
// current spec.Template on the very first rollout (where, per §3's
// invariant, stableRevisionHash equals canaryRevisionHash).
func resolveStableTemplate(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (corev1.PodTemplateSpec, string, error) {
	if r.Status.StableRevisionHash == "" {
		return r.Spec.Template, fingerprint.Compute(r.Spec.Template), nil
	}
	existing, err := deps.Replica.GetByHash(ctx, r, kultav1alpha1.RoleStable, r.Status.StableRevisionHash)
	if err != nil {
		if kind, ok := kulterr.KindOf(err); ok && kind == kulterr.NotFound {
			return r.Spec.Template, r.Status.StableRevisionHash, nil
		}
		return corev1.PodTemplateSpec{}, "", err
	}
	return existing.Spec.Template, r.Status.StableRevisionHash, nil
}

func (CanaryHandler) ReconcileTraffic(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	c := r.Spec.Strategy.Canary
	if c.TrafficRouting == nil {
		return nil
	}
	weight := r.Status.CurrentWeight
	return deps.Traffic.SetWeights(ctx, r.Namespace, c.TrafficRouting, []traffic.Split{
		{ServiceName: c.StableService, Port: c.Port, Weight: 100 - weight},
		{ServiceName: c.CanaryService, Port: c.Port, Weight: weight},
	})
}

func (CanaryHandler) ComputeNextStatus(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (phase.Decision, error) {
	c := r.Spec.Strategy.Canary
	now := deps.Clock.Now()

	switch r.Status.Phase {
	case kultav1alpha1.PhaseInitializing, "":
		step := c.Steps[0]
		r.Status.CurrentStepIndex = 0
		r.Status.CurrentWeight = step.SetWeight
		r.Status.Phase = kultav1alpha1.PhaseProgressing
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseProgressing,
			TransitionTag:  "canary.entered",
			Reason:         "entering canary rollout",
			EventType:      constants.EventDeployed,
			OccurrenceType: constants.OccurrenceCanaryProgressing,
		}, nil

	case kultav1alpha1.PhaseProgressing:
		t := metav1.NewTime(now)
		r.Status.PauseStartTime = &t
		r.Status.Phase = kultav1alpha1.PhasePaused
		return phase.Decision{NextPhase: kultav1alpha1.PhasePaused}, nil

	case kultav1alpha1.PhasePaused:
		return canaryPaused(ctx, deps, r, now)

	default:
		return phase.Decision{NextPhase: r.Status.Phase}, nil
	}
}

func canaryPaused(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout, now time.Time) (phase.Decision, error) {
	c := r.Spec.Strategy.Canary
	step := c.Steps[r.Status.CurrentStepIndex]

	if c.Analysis != nil && len(c.Analysis.Metrics) > 0 {
		// An unset warmup means no wait before metrics are evaluated.
		warmupElapsed := true
		if c.Analysis.Warmup != "" {
			var err error
			warmupElapsed, err = phase.DurationElapsed(r.Status.PauseStartTime, c.Analysis.Warmup, now)
			if err != nil {
				return phase.Decision{}, kulterr.Wrap(kulterr.ValidationError, "strategy.canary", "invalid warmup duration", err)
			}
		}
		if warmupElapsed {
			results, err := deps.Health.EvaluateThresholds(ctx, c.Analysis.Metrics, r.Name, r.Status.CanaryRevisionHash, now)
			if err != nil {
				r.Status.ConsecutiveMetricsErrors++
				if r.Status.ConsecutiveMetricsErrors >= 3 {
					return failCanaryOrPause(r, kultav1alpha1.FailurePolicyPause, "metrics backend unavailable for three consecutive checks")
				}
				return phase.Decision{NextPhase: kultav1alpha1.PhasePaused}, nil
			}
			r.Status.ConsecutiveMetricsErrors = 0
			if violated, reason := firstViolation(results); violated {
				return failCanaryOrPause(r, c.Analysis.FailurePolicy, reason)
			}
		}
	}

	// A step with no pause clause holds for zero time: treat it as already
	// elapsed rather than indefinitely paused, so a final step with no pause
	// (the common "... 100" terminal entry) can still reach Completed.
	elapsed := true
	var err error
	if step.Pause != nil {
		elapsed, err = phase.PauseElapsed(r.Status.PauseStartTime, step.Pause.Duration, now)
		if err != nil {
			return phase.Decision{}, kulterr.Wrap(kulterr.ValidationError, "strategy.canary", "invalid pause duration", err)
		}
	}
	promote := phase.PromoteRequested(r)
	advance, reason := phase.ResolvePauseTie(elapsed, promote)
	if !advance {
		return phase.Decision{NextPhase: kultav1alpha1.PhasePaused}, nil
	}

	nextIndex := r.Status.CurrentStepIndex + 1
	if int(nextIndex) >= len(c.Steps) {
		r.Status.Phase = kultav1alpha1.PhaseCompleted
		r.Status.CurrentWeight = 100
		r.Status.PauseStartTime = nil
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseCompleted,
			TransitionTag:  "canary.completed",
			Reason:         reason,
			EventType:      constants.EventPublished,
			OccurrenceType: constants.OccurrenceCanaryCompleted,
		}, nil
	}

	r.Status.CurrentStepIndex = nextIndex
	r.Status.CurrentWeight = c.Steps[nextIndex].SetWeight
	r.Status.Phase = kultav1alpha1.PhaseProgressing
	r.Status.PauseStartTime = nil
	return phase.Decision{
		NextPhase:      kultav1alpha1.PhaseProgressing,
		TransitionTag:  "canary.step.advance." + strconv.Itoa(int(nextIndex)),
		Reason:         reason,
		EventType:      constants.EventUpgraded,
		OccurrenceType: constants.OccurrenceCanaryProgressing,
	}, nil
}

func failCanaryOrPause(r *kultav1alpha1.Rollout, policy kultav1alpha1.FailurePolicy, reason string) (phase.Decision, error) {
	switch policy {
	case kultav1alpha1.FailurePolicyRollback:
		r.Status.Phase = kultav1alpha1.PhaseFailed
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseFailed,
			TransitionTag:  "canary.failed",
			Reason:         reason,
			EventType:      constants.EventRolledback,
			OccurrenceType: constants.OccurrenceCanaryFailed,
		}, nil
	case kultav1alpha1.FailurePolicyContinue:
		return phase.Decision{NextPhase: kultav1alpha1.PhasePaused, Reason: reason}, nil
	default: // Pause, or unset
		return phase.Decision{NextPhase: kultav1alpha1.PhasePaused, Reason: reason}, nil
	}
}

func (CanaryHandler) FailureCleanup(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	c := r.Spec.Strategy.Canary
	if c.TrafficRouting != nil {
		if err := deps.Traffic.SetWeights(ctx, r.Namespace, c.TrafficRouting, []traffic.Split{
			{ServiceName: c.StableService, Port: c.Port, Weight: 100},
			{ServiceName: c.CanaryService, Port: c.Port, Weight: 0},
		}); err != nil {
			return err
		}
	}
	if r.Status.CanaryRevisionHash != "" {
		if err := deps.Replica.ScaleToZero(ctx, r, kultav1alpha1.RoleCanary, r.Spec.Template); err != nil {
			return err
		}
	}
	return nil
}

func firstViolation(results []health.ThresholdResult) (bool, string) {
	for _, r := range results {
		if r.Violated {
			return true, string(r.Name) + " exceeded"
		}
	}
	return false, ""
}
