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

package controller

import (
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/metrics"
)

// serviceMonitorGVK identifies the controller's own metrics ServiceMonitor,
// the single resource ServiceMonitorPredicate and handleServiceMonitorEvent
// watch for (§4.12's self-observability concern, not per-Rollout).
var serviceMonitorGVK = schema.GroupVersionKind{
	Group:   "monitoring.coreos.com",
	Version: "v1",
	Kind:    "ServiceMonitor",
}

// RolloutPredicate filters Rollout events by the controller-instance label,
// enabling multi-controller isolation: each controller instance reconciles
// only the Rollouts explicitly assigned to it. Mirrors the teacher's own
// VariantAutoscalingPredicate convention.
//
//   - CONTROLLER_INSTANCE unset: allow every Rollout (backwards compatible).
//   - CONTROLLER_INSTANCE set: only Rollouts carrying a matching
//     rollouts.kulta.io/controller-instance label.
func RolloutPredicate() predicate.Predicate {
	return predicate.NewPredicateFuncs(func(obj client.Object) bool {
		instance := metrics.GetControllerInstance()
		if instance == "" {
			return true
		}
		labels := obj.GetLabels()
		if labels == nil {
			return false
		}
		v, ok := labels[constants.ControllerInstanceLabelKey]
		return ok && v == instance
	})
}

// ReplicaSetPredicate filters ReplicaSet events down to ones owned by a
// Rollout (carrying the role label the Builder assigns, §4.2), and only
// passes Update events through when readiness actually changed — the
// Reconcile Loop's Simple-strategy completion check and every strategy's
// health gate depend on readyReplicas, not on every spec/status touch.
func ReplicaSetPredicate() predicate.Predicate {
	isOwned := func(obj client.Object) bool {
		labels := obj.GetLabels()
		if labels == nil {
			return false
		}
		_, ok := labels[kultav1alpha1.RoleLabelKey]
		return ok
	}
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool {
			return isOwned(e.Object)
		},
		UpdateFunc: func(e event.UpdateEvent) bool {
			if !isOwned(e.ObjectNew) {
				return false
			}
			oldRS, ok1 := e.ObjectOld.(*appsv1.ReplicaSet)
			newRS, ok2 := e.ObjectNew.(*appsv1.ReplicaSet)
			if !ok1 || !ok2 {
				return true
			}
			return oldRS.Status.ReadyReplicas != newRS.Status.ReadyReplicas
		},
		DeleteFunc: func(e event.DeleteEvent) bool {
			return isOwned(e.Object)
		},
		GenericFunc: func(e event.GenericEvent) bool {
			return false
		},
	}
}

// ServiceMonitorPredicate filters ServiceMonitor events to the controller's
// own metrics ServiceMonitor, named name in namespace. Watching it lets the
// controller notice when the resource Prometheus needs to scrape
// /metrics (§4.12) has been deleted.
func ServiceMonitorPredicate(name, namespace string) predicate.Predicate {
	return predicate.NewPredicateFuncs(func(obj client.Object) bool {
		return obj.GetName() == name && obj.GetNamespace() == namespace
	})
}

// EventFilter blocks Generic events, which the reconciler never expects and
// which controller-runtime only emits from external enqueue sources this
// repository does not use. Update events for the controller's own
// ServiceMonitor only pass through when a deletion has just started
// (finalizers turn a delete into an update that sets deletionTimestamp).
func EventFilter() predicate.Funcs {
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool { return true },
		UpdateFunc: func(e event.UpdateEvent) bool {
			gvk := e.ObjectNew.GetObjectKind().GroupVersionKind()
			if gvk.Group == serviceMonitorGVK.Group && gvk.Kind == serviceMonitorGVK.Kind {
				newTS := e.ObjectNew.GetDeletionTimestamp()
				oldTS := e.ObjectOld.GetDeletionTimestamp()
				return newTS != nil && !newTS.IsZero() && (oldTS == nil || oldTS.IsZero())
			}
			return true
		},
		DeleteFunc: func(e event.DeleteEvent) bool { return true },
		GenericFunc: func(e event.GenericEvent) bool {
			return false
		},
	}
}
