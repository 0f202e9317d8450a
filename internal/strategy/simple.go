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

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/fingerprint"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
)

// SimpleHandler is a plain scale-to-N deployment with no traffic split
// (§4.4 "Simple").
type SimpleHandler struct{}

func (SimpleHandler) SupportsAnalysis() bool        { return true }
func (SimpleHandler) SupportsManualPromotion() bool { return false }

func (SimpleHandler) ReconcileReplicas(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	hash := fingerprint.Compute(r.Spec.Template)
	_, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
		Role:     kultav1alpha1.RoleStable,
		Replicas: r.Spec.Replicas,
		Template: r.Spec.Template,
	})
	if err != nil {
		return err
	}
	r.Status.StableRevisionHash = hash
	r.Status.CanaryRevisionHash = hash
	return nil
}

func (SimpleHandler) ReconcileTraffic(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	return nil
}

// FailureCleanup is a no-op: Simple has no traffic split and no secondary
// revision to retire.
func (SimpleHandler) FailureCleanup(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	return nil
}

func (SimpleHandler) ComputeNextStatus(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (phase.Decision, error) {
	s := r.Spec.Strategy.Simple

	switch r.Status.Phase {
	case kultav1alpha1.PhaseInitializing, "":
		r.Status.Phase = kultav1alpha1.PhaseProgressing
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseProgressing,
			TransitionTag:  "simple.entered",
			Reason:         "scaling to desired replica count",
			EventType:      constants.EventDeployed,
			OccurrenceType: constants.OccurrenceRollingCompleted,
		}, nil

	case kultav1alpha1.PhaseProgressing:
		if s.Analysis != nil && len(s.Analysis.Metrics) > 0 {
			now := deps.Clock.Now()
			results, err := deps.Health.EvaluateThresholds(ctx, s.Analysis.Metrics, r.Name, r.Status.StableRevisionHash, now)
			if err != nil {
				// A backend error never fails the rollout: it holds in
				// Progressing (the Pause policy) however many occur in a row.
				r.Status.ConsecutiveMetricsErrors++
				return phase.Decision{NextPhase: kultav1alpha1.PhaseProgressing}, nil
			}
			r.Status.ConsecutiveMetricsErrors = 0
			if violated, reason := firstViolation(results); violated && s.Analysis.FailurePolicy == kultav1alpha1.FailurePolicyRollback {
				r.Status.Phase = kultav1alpha1.PhaseFailed
				return phase.Decision{
					NextPhase:      kultav1alpha1.PhaseFailed,
					TransitionTag:  "simple.failed",
					Reason:         reason,
					EventType:      constants.EventRolledback,
					OccurrenceType: constants.OccurrenceRollingFailed,
				}, nil
			}
		}

		rs, err := deps.Replica.GetByHash(ctx, r, kultav1alpha1.RoleStable, r.Status.StableRevisionHash)
		if err != nil {
			return phase.Decision{}, err
		}
		if rs.Status.ReadyReplicas != r.Spec.Replicas {
			return phase.Decision{NextPhase: kultav1alpha1.PhaseProgressing}, nil
		}
		r.Status.Phase = kultav1alpha1.PhaseCompleted
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseCompleted,
			TransitionTag:  "simple.completed",
			Reason:         "ready replicas match desired",
			EventType:      constants.EventPublished,
			OccurrenceType: constants.OccurrenceRollingCompleted,
		}, nil

	default:
		return phase.Decision{NextPhase: r.Status.Phase}, nil
	}
}
