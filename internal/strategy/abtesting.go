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
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/fingerprint"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
)

// ABTestingHandler splits traffic between two variants by header/cookie
// match and concludes on statistical significance or a duration cap
// (§4.4 "A/B").
type ABTestingHandler struct{}

func (ABTestingHandler) SupportsAnalysis() bool        { return true }
func (ABTestingHandler) SupportsManualPromotion() bool { return false }

func (ABTestingHandler) ReconcileReplicas(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	total := r.Spec.Replicas

	variantBHash := fingerprint.Compute(r.Spec.Template)
	if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
		Role:     kultav1alpha1.RoleVariantB,
		Replicas: total,
		Template: r.Spec.Template,
	}); err != nil {
		return err
	}
	r.Status.CanaryRevisionHash = variantBHash

	if r.Status.StableRevisionHash == "" {
		if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
			Role:     kultav1alpha1.RoleVariantA,
			Replicas: total,
			Template: r.Spec.Template,
		}); err != nil {
			return err
		}
		r.Status.StableRevisionHash = variantBHash
		return nil
	}
	return deps.Replica.ScaleByHash(ctx, r, kultav1alpha1.RoleVariantA, r.Status.StableRevisionHash, total)
}

func (ABTestingHandler) ReconcileTraffic(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	ab := r.Spec.Strategy.ABTesting
	if ab.TrafficRouting == nil {
		return nil
	}
	return deps.Traffic.SetABRules(ctx, r.Namespace, ab.TrafficRouting, ab.VariantBMatch,
		traffic.Split{ServiceName: ab.VariantAService, Port: ab.Port},
		traffic.Split{ServiceName: ab.VariantBService, Port: ab.Port},
	)
}

func (ABTestingHandler) FailureCleanup(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	ab := r.Spec.Strategy.ABTesting
	if ab.TrafficRouting != nil {
		if err := deps.Traffic.SetWeights(ctx, r.Namespace, ab.TrafficRouting, []traffic.Split{
			{ServiceName: ab.VariantAService, Port: ab.Port, Weight: 100},
			{ServiceName: ab.VariantBService, Port: ab.Port, Weight: 0},
		}); err != nil {
			return err
		}
	}
	if r.Status.CanaryRevisionHash != "" {
		if err := deps.Replica.ScaleToZero(ctx, r, kultav1alpha1.RoleVariantB, r.Spec.Template); err != nil {
			return err
		}
	}
	return nil
}

func (ABTestingHandler) ComputeNextStatus(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (phase.Decision, error) {
	ab := r.Spec.Strategy.ABTesting
	now := deps.Clock.Now()

	switch r.Status.Phase {
	case kultav1alpha1.PhaseInitializing, "":
		t := metav1.NewTime(now)
		r.Status.ExperimentStartTime = &t
		r.Status.Phase = kultav1alpha1.PhaseExperimenting
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseExperimenting,
			TransitionTag:  "abtesting.started",
			Reason:         "experiment started",
			EventType:      constants.EventDeployed,
			OccurrenceType: constants.OccurrenceABTestingCompleted,
		}, nil

	case kultav1alpha1.PhaseExperimenting:
		return abExperimenting(ctx, deps, r, ab, now)

	case kultav1alpha1.PhaseConcluded:
		r.Status.Phase = kultav1alpha1.PhaseCompleted
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhaseCompleted,
			TransitionTag:  "abtesting.completed",
			Reason:         "winner published",
			EventType:      constants.EventPublished,
			OccurrenceType: constants.OccurrenceABTestingCompleted,
		}, nil

	default:
		return phase.Decision{NextPhase: r.Status.Phase}, nil
	}
}

func abExperimenting(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout, ab *kultav1alpha1.ABTestingStrategy, now time.Time) (phase.Decision, error) {
	elapsed := now.Sub(r.Status.ExperimentStartTime.Time)

	durationCapReached := false
	if ab.MaxDuration != "" {
		maxDuration, err := time.ParseDuration(ab.MaxDuration)
		if err != nil {
			return phase.Decision{}, kulterr.Wrap(kulterr.ValidationError, "strategy.abTesting", "invalid maxDuration", err)
		}
		durationCapReached = elapsed >= maxDuration
	}

	significant := false
	winner := "A"
	reason := ""

	minDurationElapsed := true
	if ab.Analysis != nil && ab.Analysis.MinDuration != "" {
		minDuration, err := time.ParseDuration(ab.Analysis.MinDuration)
		if err != nil {
			return phase.Decision{}, kulterr.Wrap(kulterr.ValidationError, "strategy.abTesting", "invalid minDuration", err)
		}
		minDurationElapsed = elapsed >= minDuration
	}

	if minDurationElapsed && ab.Analysis != nil {
		result, err := deps.Health.EvaluateExperiment(ctx, r.Name, elapsed, ab.Analysis.MinSampleSize, ab.Analysis.ConfidenceLevel, now)
		if err != nil {
			r.Status.ConsecutiveMetricsErrors++
			if r.Status.ConsecutiveMetricsErrors < 3 && !durationCapReached && !phase.ConcludeExperimentRequested(r) {
				return phase.Decision{NextPhase: kultav1alpha1.PhaseExperimenting}, nil
			}
		} else {
			r.Status.ConsecutiveMetricsErrors = 0
			significant = result.Significant
			winner = result.Winner
		}
	}

	concludeRequested := phase.ConcludeExperimentRequested(r)
	conclude, tieReason := phase.ResolveABTie(significant, durationCapReached)
	if !conclude && concludeRequested {
		conclude, reason = true, "conclude-experiment requested"
	} else {
		reason = tieReason
	}
	if !conclude {
		return phase.Decision{NextPhase: kultav1alpha1.PhaseExperimenting}, nil
	}

	r.Status.Phase = kultav1alpha1.PhaseConcluded
	if winner == "B" {
		r.Status.StableRevisionHash = r.Status.CanaryRevisionHash
	}
	return phase.Decision{
		NextPhase:      kultav1alpha1.PhaseConcluded,
		TransitionTag:  "abtesting.concluded",
		Reason:         reason + " (winner " + winner + ")",
		EventType:      constants.EventUpgraded,
		OccurrenceType: constants.OccurrenceABTestingCompleted,
	}, nil
}
