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

	corev1 "k8s.io/api/core/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/fingerprint"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
)

// BlueGreenHandler keeps two fully-scaled revisions and cuts traffic over
// atomically (§4.4 "Blue-Green").
type BlueGreenHandler struct{}

func (BlueGreenHandler) SupportsAnalysis() bool        { return false }
func (BlueGreenHandler) SupportsManualPromotion() bool { return true }

func (BlueGreenHandler) ReconcileReplicas(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	total := r.Spec.Replicas

	previewHash := fingerprint.Compute(r.Spec.Template)
	if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
		Role:     kultav1alpha1.RolePreview,
		Replicas: total,
		Template: r.Spec.Template,
	}); err != nil {
		return err
	}
	r.Status.CanaryRevisionHash = previewHash

	activeTemplate, activeHash, err := resolveActiveTemplate(ctx, deps, r)
	if err != nil {
		return err
	}
	if r.Status.StableRevisionHash == "" {
		if _, err := deps.Replica.EnsureReplicaSet(ctx, r, replica.Desired{
			Role:     kultav1alpha1.RoleActive,
			Replicas: total,
			Template: activeTemplate,
		}); err != nil {
			return err
		}
		r.Status.StableRevisionHash = activeHash
		return nil
	}
	return deps.Replica.ScaleByHash(ctx, r, kultav1alpha1.RoleActive, activeHash, total)
}

func resolveActiveTemplate(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (corev1.PodTemplateSpec, string, error) {
	if r.Status.StableRevisionHash == "" {
		return r.Spec.Template, fingerprint.Compute(r.Spec.Template), nil
	}
	existing, err := deps.Replica.GetByHash(ctx, r, kultav1alpha1.RoleActive, r.Status.StableRevisionHash)
	if err != nil {
		if kind, ok := kulterr.KindOf(err); ok && kind == kulterr.NotFound {
			return r.Spec.Template, r.Status.StableRevisionHash, nil
		}
		return corev1.PodTemplateSpec{}, "", err
	}
	return existing.Spec.Template, r.Status.StableRevisionHash, nil
}

func (BlueGreenHandler) ReconcileTraffic(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	bg := r.Spec.Strategy.BlueGreen
	if bg.TrafficRouting == nil {
		return nil
	}
	activeWeight, previewWeight := int32(100), int32(0)
	if bluegreenCutoverReady(bg, r) {
		activeWeight, previewWeight = 0, 100
	}
	return deps.Traffic.SetWeights(ctx, r.Namespace, bg.TrafficRouting, []traffic.Split{
		{ServiceName: bg.ActiveService, Port: bg.Port, Weight: activeWeight},
		{ServiceName: bg.PreviewService, Port: bg.Port, Weight: previewWeight},
	})
}

// bluegreenCutoverReady reports whether traffic should already be at 100%
// preview: either the rollout has already completed, or this same tick's
// ComputeNextStatus is about to cut it over. Reconcile runs ReconcileTraffic
// before ComputeNextStatus (§4.1), so without this shared check traffic
// would lag the phase transition by one tick.
func bluegreenCutoverReady(bg *kultav1alpha1.BlueGreenStrategy, r *kultav1alpha1.Rollout) bool {
	if r.Status.Phase == kultav1alpha1.PhaseCompleted {
		return true
	}
	return r.Status.Phase == kultav1alpha1.PhasePreview && (bg.AutoPromotionEnabled || phase.PromoteRequested(r))
}

func (BlueGreenHandler) FailureCleanup(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error {
	bg := r.Spec.Strategy.BlueGreen
	if bg.TrafficRouting != nil {
		if err := deps.Traffic.SetWeights(ctx, r.Namespace, bg.TrafficRouting, []traffic.Split{
			{ServiceName: bg.ActiveService, Port: bg.Port, Weight: 100},
			{ServiceName: bg.PreviewService, Port: bg.Port, Weight: 0},
		}); err != nil {
			return err
		}
	}
	if r.Status.CanaryRevisionHash != "" {
		if err := deps.Replica.ScaleToZero(ctx, r, kultav1alpha1.RolePreview, r.Spec.Template); err != nil {
			return err
		}
	}
	return nil
}

func (BlueGreenHandler) ComputeNextStatus(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (phase.Decision, error) {
	bg := r.Spec.Strategy.BlueGreen

	switch r.Status.Phase {
	case kultav1alpha1.PhaseInitializing, "":
		r.Status.Phase = kultav1alpha1.PhasePreview
		return phase.Decision{
			NextPhase:      kultav1alpha1.PhasePreview,
			TransitionTag:  "bluegreen.preview",
			Reason:         "preview revision scaled up",
			EventType:      constants.EventDeployed,
			OccurrenceType: constants.OccurrenceBlueGreenCompleted,
		}, nil

	case kultav1alpha1.PhasePreview:
		if !bluegreenCutoverReady(bg, r) {
			return phase.Decision{NextPhase: kultav1alpha1.PhasePreview}, nil
		}
		reason := "preview auto-promoted"
		if phase.PromoteRequested(r) {
			reason = "manual promote requested"
		}
		// ReconcileTraffic (run before this, same tick) already cut the
		// services to 100% preview via the same bluegreenCutoverReady check,
		// so the tick that reports Completed is the tick the cutover lands
		// in. The transition is simultaneously "service upgraded" (the
		// cutover) and "any non-terminal to Completed" (service published),
		// so both events ride this one Decision.
		r.Status.Phase = kultav1alpha1.PhaseCompleted
		r.Status.StableRevisionHash = r.Status.CanaryRevisionHash
		return phase.Decision{
			NextPhase:              kultav1alpha1.PhaseCompleted,
			TransitionTag:          "bluegreen.cutover",
			Reason:                 reason,
			EventType:              constants.EventUpgraded,
			OccurrenceType:         constants.OccurrenceBlueGreenCompleted,
			FollowupEventType:      constants.EventPublished,
			FollowupOccurrenceType: constants.OccurrenceBlueGreenCompleted,
		}, nil

	default:
		return phase.Decision{NextPhase: r.Status.Phase}, nil
	}
}
