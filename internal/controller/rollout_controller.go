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
	"context"
	"fmt"
	"strings"
	"time"

	promoperator "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/clock"
	"github.com/false-systems/kulta/internal/constants"
	"github.com/false-systems/kulta/internal/events"
	"github.com/false-systems/kulta/internal/health"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/leader"
	"github.com/false-systems/kulta/internal/logging"
	"github.com/false-systems/kulta/internal/metrics"
	"github.com/false-systems/kulta/internal/occurrence"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/strategy"
	"github.com/false-systems/kulta/internal/traffic"
	"github.com/false-systems/kulta/internal/utils"
	"github.com/false-systems/kulta/internal/validation"
)

const component = "controller.RolloutReconciler"

// RolloutReconciler implements the Reconcile Loop of §4.1.
type RolloutReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Recorder record.EventRecorder

	Leader     *leader.Gate
	Replica    *replica.Builder
	Traffic    *traffic.Router
	Health     *health.Querier
	Events     *events.Sink
	Occurrence *occurrence.Writer
	Metrics    *metrics.Emitter
	Clock      clock.Clock

	// ServiceMonitorName/Namespace identify the controller's own metrics
	// ServiceMonitor (§4.12); deletion is watched for and surfaces as a
	// warning event, never a reconcile. Empty ServiceMonitorName disables
	// the watch.
	ServiceMonitorName      string
	ServiceMonitorNamespace string
}

// +kubebuilder:rbac:groups=kulta.io,resources=rollouts,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=kulta.io,resources=rollouts/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=kulta.io,resources=rollouts/finalizers,verbs=update
// +kubebuilder:rbac:groups=apps,resources=replicasets,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups=gateway.networking.k8s.io,resources=httproutes,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=coordination.k8s.io,resources=leases,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups=monitoring.coreos.com,resources=servicemonitors,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *RolloutReconciler) clk() clock.Clock {
	if r.Clock == nil {
		return clock.RealClock{}
	}
	return r.Clock
}

// Reconcile runs the ten ordered steps of §4.1 for one Rollout.
func (r *RolloutReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := ctrl.LoggerFrom(ctx)

	// 1. Load.
	var rollout kultav1alpha1.Rollout
	if err := r.Get(ctx, req.NamespacedName, &rollout); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	if !rollout.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}
	original := rollout.DeepCopy()

	isLeader, err := r.Leader.IsLeader(ctx)
	if err != nil {
		logger.Error(err, "leader check failed")
		return ctrl.Result{}, err
	}
	if !isLeader {
		return ctrl.Result{RequeueAfter: 15 * time.Second}, nil
	}

	// 2. Validate.
	if errs := validation.Validate(&rollout, rollout.Status.ObservedStrategyKind, rollout.Status.Phase); len(errs) > 0 {
		return r.failValidation(ctx, &rollout, original, errs)
	}

	// 3. Select strategy.
	kind := rollout.Spec.Strategy.Kind()
	handler, ok := strategy.For(kind)
	if !ok {
		return r.failValidation(ctx, &rollout, original, []string{fmt.Sprintf("unknown strategy kind %q", kind)})
	}
	deps := strategy.Deps{Replica: r.Replica, Traffic: r.Traffic, Health: r.Health, Clock: r.clk()}

	if phase.AbortRequested(&rollout) && rollout.Status.Phase != "" && rollout.Status.Phase != kultav1alpha1.PhaseFailed {
		return r.abort(ctx, &rollout, original, kind, handler, deps)
	}

	priorPhase := rollout.Status.Phase

	// 4. Reconcile replicas.
	if err := handler.ReconcileReplicas(ctx, deps, &rollout); err != nil {
		return r.handleError(ctx, &rollout, original, err)
	}

	// 5. Reconcile traffic. Ordering guarantee (§5): only runs once replica
	// reconciliation above has succeeded.
	if err := handler.ReconcileTraffic(ctx, deps, &rollout); err != nil {
		return r.handleError(ctx, &rollout, original, err)
	}

	// 6-7. Health check (if due) + compute next status; each handler owns
	// both, since the warmup/threshold gate is strategy-specific.
	decision, err := handler.ComputeNextStatus(ctx, deps, &rollout)
	if err != nil {
		return r.handleError(ctx, &rollout, original, err)
	}

	if decision.NextPhase == kultav1alpha1.PhaseFailed {
		if err := handler.FailureCleanup(ctx, deps, &rollout); err != nil {
			return r.handleError(ctx, &rollout, original, err)
		}
	}

	rollout.Status.ObservedStrategyKind = kind
	rollout.Status.ObservedGeneration = rollout.Generation

	// 8. Emit events and write occurrence for the transition.
	if decision.Changed(priorPhase) {
		r.emit(ctx, &rollout, kind, priorPhase, decision)
	}

	// 9. Patch status.
	if err := r.Status().Patch(ctx, &rollout, client.MergeFrom(original)); err != nil {
		if apierrors.IsConflict(err) {
			r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "conflict")
			return ctrl.Result{Requeue: true}, nil
		}
		wrapped := kulterr.Wrap(kulterr.TransientAPIError, component, "patch status", err)
		logger.Error(wrapped, "failed to patch rollout status")
		r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "error")
		return ctrl.Result{}, wrapped
	}

	r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "success")
	r.Metrics.SetCurrentWeight(rollout.Name, rollout.Namespace, rollout.Status.CurrentWeight)

	// 10. Return requeue.
	requeue := r.requeueAfter(&rollout)
	r.Metrics.SetRequeueAfter(rollout.Name, rollout.Namespace, requeue.Seconds())
	return ctrl.Result{RequeueAfter: requeue}, nil
}

// abort forces phase=Failed on a kulta.io/abort=true annotation, running the
// same cleanup a strategy-driven rollback would (§4.3).
func (r *RolloutReconciler) abort(ctx context.Context, rollout *kultav1alpha1.Rollout, original *kultav1alpha1.Rollout, kind string, handler strategy.Handler, deps strategy.Deps) (ctrl.Result, error) {
	if err := handler.FailureCleanup(ctx, deps, rollout); err != nil {
		return r.handleError(ctx, rollout, original, err)
	}
	priorPhase := rollout.Status.Phase
	rollout.Status.Phase = kultav1alpha1.PhaseFailed
	rollout.Status.ObservedStrategyKind = kind
	rollout.Status.ObservedGeneration = rollout.Generation

	decision := phase.Decision{
		NextPhase:      kultav1alpha1.PhaseFailed,
		TransitionTag:  "rollout.aborted",
		Reason:         "kulta.io/abort requested",
		EventType:      constants.EventRolledback,
		OccurrenceType: failedOccurrenceType(kind),
	}
	r.emit(ctx, rollout, kind, priorPhase, decision)

	if err := r.Status().Patch(ctx, rollout, client.MergeFrom(original)); err != nil {
		if apierrors.IsConflict(err) {
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, kulterr.Wrap(kulterr.TransientAPIError, component, "patch status after abort", err)
	}
	r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "success")
	requeue := r.requeueAfter(rollout)
	r.Metrics.SetRequeueAfter(rollout.Name, rollout.Namespace, requeue.Seconds())
	return ctrl.Result{RequeueAfter: requeue}, nil
}

// failValidation sets phase=Failed with a ValidationError condition and
// returns without a requeue, per §4.1 step 2.
func (r *RolloutReconciler) failValidation(ctx context.Context, rollout *kultav1alpha1.Rollout, original *kultav1alpha1.Rollout, errs []string) (ctrl.Result, error) {
	msg := strings.Join(errs, "; ")
	kultav1alpha1.SetCondition(rollout, kultav1alpha1.ConditionValidationError, metav1.ConditionTrue, "InvalidSpec", msg)
	rollout.Status.Phase = kultav1alpha1.PhaseFailed
	rollout.Status.Message = msg
	rollout.Status.ObservedGeneration = rollout.Generation

	kind := rollout.Spec.Strategy.Kind()
	r.Events.Emit(ctx, events.Event{
		RolloutUID:         rollout.UID,
		RolloutName:        rollout.Name,
		RolloutNamespace:   rollout.Namespace,
		Type:               constants.EventRolledback,
		Strategy:           kind,
		Reason:             msg,
		ArtifactID:         utils.ImageReference(rollout.Spec.Template),
		TransitionTag:      "validation.failed",
		ObservedGeneration: rollout.Generation,
	})
	if r.Recorder != nil {
		r.Recorder.Eventf(rollout, corev1.EventTypeWarning, "ValidationFailed", "%s", msg)
	}
	r.Occurrence.Write(ctx, rollout.Namespace, rollout.Name, constants.OccurrenceValidationFailed,
		"validation.failed", rollout.Generation, fmt.Errorf("%s", msg),
		map[string]interface{}{"errors": errs})

	if err := r.Status().Patch(ctx, rollout, client.MergeFrom(original)); err != nil {
		if apierrors.IsConflict(err) {
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, kulterr.Wrap(kulterr.TransientAPIError, component, "patch status after validation failure", err)
	}
	r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "validation_error")
	return ctrl.Result{}, nil
}

// handleError applies the propagation policy of §7: only ValidationError
// surfaces as phase=Failed; every other kind requeues (controller-runtime's
// own exponential backoff governs the retry cadence for a returned error).
func (r *RolloutReconciler) handleError(ctx context.Context, rollout *kultav1alpha1.Rollout, original *kultav1alpha1.Rollout, err error) (ctrl.Result, error) {
	logger := ctrl.LoggerFrom(ctx)

	if kulterr.IsTerminal(err) {
		msg := err.Error()
		kultav1alpha1.SetCondition(rollout, kultav1alpha1.ConditionValidationError, metav1.ConditionTrue, "InvalidSpec", msg)
		rollout.Status.Phase = kultav1alpha1.PhaseFailed
		rollout.Status.Message = msg
		if patchErr := r.Status().Patch(ctx, rollout, client.MergeFrom(original)); patchErr != nil {
			logger.Error(patchErr, "failed to patch status after terminal error")
		}
		r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "validation_error")
		return ctrl.Result{}, nil
	}

	kind, _ := kulterr.KindOf(err)
	logger.Error(err, "reconcile step failed", "kind", kind.Error())
	r.Metrics.ObserveReconcile(rollout.Name, rollout.Namespace, "error")
	return ctrl.Result{}, err
}

// emit sends the event (§4.7) and occurrence record (§4.10) for a phase
// transition, and records the self-metric counter.
func (r *RolloutReconciler) emit(ctx context.Context, rollout *kultav1alpha1.Rollout, strategyKind string, priorPhase kultav1alpha1.RolloutPhase, decision phase.Decision) {
	if decision.EventType != "" {
		var step *events.Step
		if c := rollout.Spec.Strategy.Canary; c != nil {
			step = &events.Step{
				Index:         rollout.Status.CurrentStepIndex,
				Total:         int32(len(c.Steps)),
				TrafficWeight: rollout.Status.CurrentWeight,
			}
		}
		r.Events.Emit(ctx, events.Event{
			RolloutUID:         rollout.UID,
			RolloutName:        rollout.Name,
			RolloutNamespace:   rollout.Namespace,
			Type:               decision.EventType,
			Strategy:           strategyKind,
			Step:               step,
			Reason:             decision.Reason,
			ArtifactID:         utils.ImageReference(rollout.Spec.Template),
			TransitionTag:      decision.TransitionTag,
			ObservedGeneration: rollout.Generation,
		})
		if r.Recorder != nil {
			eventType := corev1.EventTypeNormal
			if decision.NextPhase == kultav1alpha1.PhaseFailed {
				eventType = corev1.EventTypeWarning
			}
			r.Recorder.Eventf(rollout, eventType, decision.TransitionTag, "%s: %s", decision.NextPhase, decision.Reason)
		}
	}
	if decision.OccurrenceType != "" {
		r.Occurrence.Write(ctx, rollout.Namespace, rollout.Name, decision.OccurrenceType,
			decision.TransitionTag, rollout.Generation, nil,
			map[string]interface{}{"reason": decision.Reason, "phase": string(decision.NextPhase)})
	}
	if decision.FollowupEventType != "" {
		// The followup carries its own transition tag so the Sink's
		// idempotence key does not treat it as a repeat of the primary event.
		r.Events.Emit(ctx, events.Event{
			RolloutUID:         rollout.UID,
			RolloutName:        rollout.Name,
			RolloutNamespace:   rollout.Namespace,
			Type:               decision.FollowupEventType,
			Strategy:           strategyKind,
			Reason:             decision.Reason,
			ArtifactID:         utils.ImageReference(rollout.Spec.Template),
			TransitionTag:      decision.TransitionTag + ".followup",
			ObservedGeneration: rollout.Generation,
		})
	}
	if decision.FollowupOccurrenceType != "" {
		r.Occurrence.Write(ctx, rollout.Namespace, rollout.Name, decision.FollowupOccurrenceType,
			decision.TransitionTag, rollout.Generation, nil,
			map[string]interface{}{"reason": decision.Reason, "phase": string(decision.NextPhase)})
	}
	r.Metrics.ObservePhaseTransition(rollout.Name, rollout.Namespace, string(priorPhase), string(decision.NextPhase))
}

// requeueAfter implements §4.1 step 10.
func (r *RolloutReconciler) requeueAfter(rollout *kultav1alpha1.Rollout) time.Duration {
	switch rollout.Status.Phase {
	case kultav1alpha1.PhaseProgressing, kultav1alpha1.PhaseExperimenting:
		return 30 * time.Second
	case kultav1alpha1.PhasePaused:
		return r.pauseRequeue(rollout)
	case kultav1alpha1.PhaseCompleted, kultav1alpha1.PhaseFailed:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

func (r *RolloutReconciler) pauseRequeue(rollout *kultav1alpha1.Rollout) time.Duration {
	const nearDue = 5 * time.Second
	c := rollout.Spec.Strategy.Canary
	if c == nil || rollout.Status.PauseStartTime == nil || int(rollout.Status.CurrentStepIndex) >= len(c.Steps) {
		return nearDue
	}
	step := c.Steps[rollout.Status.CurrentStepIndex]
	if step.Pause == nil || step.Pause.Duration == "" {
		return nearDue
	}
	d, err := time.ParseDuration(step.Pause.Duration)
	if err != nil {
		return nearDue
	}
	remaining := d - r.clk().Now().Sub(rollout.Status.PauseStartTime.Time)
	if remaining <= nearDue {
		return nearDue
	}
	return remaining
}

func failedOccurrenceType(kind string) string {
	switch kind {
	case "canary":
		return constants.OccurrenceCanaryFailed
	case "blueGreen":
		return constants.OccurrenceBlueGreenFailed
	case "abTesting":
		return constants.OccurrenceABTestingFailed
	default:
		return constants.OccurrenceRollingFailed
	}
}

// SetupWithManager registers the controller with mgr, watching Rollouts and
// their owned ReplicaSets, plus (if configured) the controller's own metrics
// ServiceMonitor for deletion detection.
func (r *RolloutReconciler) SetupWithManager(mgr ctrl.Manager) error {
	bldr := ctrl.NewControllerManagedBy(mgr).
		For(&kultav1alpha1.Rollout{}, builder.WithPredicates(RolloutPredicate())).
		Owns(&appsv1.ReplicaSet{}, builder.WithPredicates(ReplicaSetPredicate())).
		Named("rollout").
		WithEventFilter(EventFilter())

	if r.ServiceMonitorName != "" {
		bldr = bldr.Watches(
			&promoperator.ServiceMonitor{},
			handler.EnqueueRequestsFromMapFunc(r.handleServiceMonitorEvent),
			builder.WithPredicates(ServiceMonitorPredicate(r.ServiceMonitorName, r.ServiceMonitorNamespace)),
		)
	}

	return bldr.Complete(r)
}

// handleServiceMonitorEvent never enqueues a Rollout reconcile: ServiceMonitor
// deletion doesn't affect any rollout's progress, only whether Prometheus
// keeps scraping this controller's own /metrics. It exists purely so
// operators are alerted when the ServiceMonitor needs to be recreated.
func (r *RolloutReconciler) handleServiceMonitorEvent(ctx context.Context, obj client.Object) []reconcile.Request {
	sm, ok := obj.(*promoperator.ServiceMonitor)
	if !ok || sm.GetDeletionTimestamp().IsZero() {
		return nil
	}

	logger := ctrl.LoggerFrom(ctx)
	logger.V(logging.VERBOSE).Info("controller metrics ServiceMonitor is being deleted",
		"servicemonitor", sm.Name,
		"namespace", sm.Namespace,
		"impact", "Prometheus will stop scraping controller self-metrics",
		"action", "recreate the ServiceMonitor to resume scraping")

	if r.Recorder != nil {
		r.Recorder.Eventf(sm, corev1.EventTypeWarning, "ServiceMonitorDeleted",
			"ServiceMonitor %s/%s is being deleted; controller self-metrics will stop being scraped",
			sm.Namespace, sm.Name)
	}
	return nil
}
