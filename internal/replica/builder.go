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

// Package replica implements the ReplicaSet Builder (§4.2): deterministic
// creation and scaling of the owned workload-replica objects behind each
// role (stable, canary, active, preview, variant-a, variant-b).
package replica

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/fingerprint"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/logging"
)

const component = "replica.Builder"

// Builder constructs and reconciles owned ReplicaSets for a Rollout.
type Builder struct {
	Client client.Client
	Scheme *runtime.Scheme
}

// Name returns the deterministic ReplicaSet name for (rolloutName, role, template).
func Name(rolloutName string, role kultav1alpha1.Role, tmpl corev1.PodTemplateSpec) string {
	return NameFromHash(rolloutName, role, fingerprint.Compute(tmpl))
}

// NameFromHash builds the deterministic ReplicaSet name from an
// already-computed fingerprint, for roles (e.g. the promoted stable
// revision) whose template is not locally known but whose hash is recorded
// in status.
func NameFromHash(rolloutName string, role kultav1alpha1.Role, hash string) string {
	return fmt.Sprintf("%s-%s-%s", rolloutName, role, hash)
}

// GetByHash fetches the ReplicaSet for (rollout, role, hash), propagating
// kulterr.NotFound if it does not exist.
func (b *Builder) GetByHash(ctx context.Context, rollout *kultav1alpha1.Rollout, role kultav1alpha1.Role, hash string) (*appsv1.ReplicaSet, error) {
	name := NameFromHash(rollout.Name, role, hash)
	var rs appsv1.ReplicaSet
	err := b.Client.Get(ctx, client.ObjectKey{Namespace: rollout.Namespace, Name: name}, &rs)
	if apierrors.IsNotFound(err) {
		return nil, kulterr.Wrap(kulterr.NotFound, component, fmt.Sprintf("replicaset %s", name), err)
	}
	if err != nil {
		return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "get replicaset by hash", err)
	}
	return &rs, nil
}

// ScaleByHash patches spec.replicas on the already-existing ReplicaSet for
// (rollout, role, hash) without needing to know its template. Used to scale
// a previously-promoted revision (e.g. the current stable) whose template is
// not locally reconstructed.
func (b *Builder) ScaleByHash(ctx context.Context, rollout *kultav1alpha1.Rollout, role kultav1alpha1.Role, hash string, replicas int32) error {
	rs, err := b.GetByHash(ctx, rollout, role, hash)
	if err != nil {
		return err
	}
	if rs.Spec.Replicas != nil && *rs.Spec.Replicas == replicas {
		return nil
	}
	patch := client.MergeFrom(rs.DeepCopy())
	r := replicas
	rs.Spec.Replicas = &r
	if err := b.Client.Patch(ctx, rs, patch); err != nil {
		return kulterr.Wrap(kulterr.TransientAPIError, component, "scale replicaset by hash", err)
	}
	return nil
}

// Desired describes the ReplicaSet EnsureReplicaSet should converge toward.
type Desired struct {
	Role     kultav1alpha1.Role
	Replicas int32
	Template corev1.PodTemplateSpec
}

// EnsureReplicaSet converges the owned ReplicaSet for (rollout, desired.Role)
// toward desired, following the rules of §4.2:
//   - absent: create with full spec.
//   - present with same fingerprint, different replica count: patch spec.replicas only.
//   - present with different fingerprint, same role: leave it alone (a
//     former revision, retired by scale-down elsewhere).
//
// Returns the reconciled (or untouched) ReplicaSet.
func (b *Builder) EnsureReplicaSet(ctx context.Context, rollout *kultav1alpha1.Rollout, desired Desired) (*appsv1.ReplicaSet, error) {
	logger := ctrl.LoggerFrom(ctx)
	name := Name(rollout.Name, desired.Role, desired.Template)
	hash := fingerprint.Compute(desired.Template)

	var existing appsv1.ReplicaSet
	err := b.Client.Get(ctx, client.ObjectKey{Namespace: rollout.Namespace, Name: name}, &existing)
	switch {
	case apierrors.IsNotFound(err):
		rs := b.build(rollout, name, hash, desired)
		if b.Scheme != nil {
			if err := controllerutil.SetControllerReference(rollout, rs, b.Scheme); err != nil {
				return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "set owner reference", err)
			}
		}
		if err := b.Client.Create(ctx, rs); err != nil {
			return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "create replicaset", err)
		}
		logger.V(logging.DEBUG).Info("created replicaset", "name", name, "role", desired.Role, "replicas", desired.Replicas)
		return rs, nil
	case err != nil:
		return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "get replicaset", err)
	}

	// Present. Only patch spec.replicas when it's the same revision; a
	// different fingerprint under the same role/name would imply a hash
	// collision, which is never expected to happen in practice, so we treat
	// an existing object with our computed name as authoritative for our
	// fingerprint.
	if existing.Spec.Replicas == nil || *existing.Spec.Replicas != desired.Replicas {
		patch := client.MergeFrom(existing.DeepCopy())
		r := desired.Replicas
		existing.Spec.Replicas = &r
		if err := b.Client.Patch(ctx, &existing, patch); err != nil {
			return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "patch replicaset replicas", err)
		}
		logger.V(logging.DEBUG).Info("patched replicaset replicas", "name", name, "replicas", desired.Replicas)
	}
	return &existing, nil
}

// ScaleToZero scales an existing ReplicaSet for (rollout, role, hash) to
// zero without deleting it (§4.3: "canary/preview/variant-B ReplicaSets are
// scaled to 0 (not deleted, for audit)"). It is a no-op if the ReplicaSet
// does not exist.
func (b *Builder) ScaleToZero(ctx context.Context, rollout *kultav1alpha1.Rollout, role kultav1alpha1.Role, tmpl corev1.PodTemplateSpec) error {
	name := Name(rollout.Name, role, tmpl)
	var existing appsv1.ReplicaSet
	err := b.Client.Get(ctx, client.ObjectKey{Namespace: rollout.Namespace, Name: name}, &existing)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return kulterr.Wrap(kulterr.TransientAPIError, component, "get replicaset for scale-to-zero", err)
	}
	if existing.Spec.Replicas != nil && *existing.Spec.Replicas == 0 {
		return nil
	}
	patch := client.MergeFrom(existing.DeepCopy())
	zero := int32(0)
	existing.Spec.Replicas = &zero
	if err := b.Client.Patch(ctx, &existing, patch); err != nil {
		return kulterr.Wrap(kulterr.TransientAPIError, component, "scale replicaset to zero", err)
	}
	return nil
}

func (b *Builder) build(rollout *kultav1alpha1.Rollout, name, hash string, desired Desired) *appsv1.ReplicaSet {
	baseSelector := rollout.Spec.Selector.DeepCopy()
	if baseSelector == nil {
		baseSelector = &metav1.LabelSelector{}
	}
	if baseSelector.MatchLabels == nil {
		baseSelector.MatchLabels = map[string]string{}
	}
	baseSelector.MatchLabels[kultav1alpha1.PodTemplateHashLabelKey] = hash
	baseSelector.MatchLabels[kultav1alpha1.RoleLabelKey] = string(desired.Role)

	tmpl := *desired.Template.DeepCopy()
	if tmpl.Labels == nil {
		tmpl.Labels = map[string]string{}
	}
	for k, v := range baseSelector.MatchLabels {
		tmpl.Labels[k] = v
	}

	replicas := desired.Replicas
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: rollout.Namespace,
			Labels: map[string]string{
				kultav1alpha1.PodTemplateHashLabelKey: hash,
				kultav1alpha1.RoleLabelKey:            string(desired.Role),
			},
		},
		Spec: appsv1.ReplicaSetSpec{
			Replicas: &replicas,
			Selector: baseSelector,
			Template: tmpl,
		},
	}
}
