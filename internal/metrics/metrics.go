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

// Package metrics registers the controller's own Prometheus series (§4.12):
// reconcile outcomes, phase transitions, current traffic weight, and the
// requeue interval chosen each tick. These are strictly operability signals;
// the reconciliation engine never reads them back.
package metrics

import (
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/false-systems/kulta/internal/constants"
)

var (
	reconcileTotal        *prometheus.CounterVec
	phaseTransitionsTotal *prometheus.CounterVec
	currentWeight         *prometheus.GaugeVec
	requeueAfterSeconds   *prometheus.GaugeVec

	controllerInstance string

	initOnce sync.Once
	initErr  error
)

// GetControllerInstance returns the configured controller-instance label
// value, or "" if CONTROLLER_INSTANCE was not set.
func GetControllerInstance() string {
	return controllerInstance
}

// InitMetrics registers the self-metric series with registry. Safe to call
// more than once; only the first call's registry is used.
func InitMetrics(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		controllerInstance = os.Getenv(constants.ControllerInstanceEnvVar)

		reconcileLabels := []string{constants.LabelRollout, constants.LabelNamespace, constants.LabelResult}
		transitionLabels := []string{constants.LabelRollout, constants.LabelNamespace, constants.LabelFrom, constants.LabelTo}
		rolloutLabels := []string{constants.LabelRollout, constants.LabelNamespace}

		reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricReconcileTotal,
			Help: "Total number of Rollout reconciles, by result.",
		}, reconcileLabels)
		phaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricPhaseTransitionsTotal,
			Help: "Total number of phase transitions, by from/to phase.",
		}, transitionLabels)
		currentWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricCurrentWeight,
			Help: "Current canary/preview traffic weight for a Rollout.",
		}, rolloutLabels)
		requeueAfterSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricRequeueAfterSeconds,
			Help: "Requeue interval chosen by the last reconcile, in seconds.",
		}, rolloutLabels)

		for _, c := range []prometheus.Collector{reconcileTotal, phaseTransitionsTotal, currentWeight, requeueAfterSeconds} {
			if err := registry.Register(c); err != nil {
				initErr = fmt.Errorf("register self-metric: %w", err)
				return
			}
		}
	})
	return initErr
}

// Emitter records self-metric observations from the Reconcile Loop.
type Emitter struct{}

// NewEmitter constructs an Emitter. InitMetrics must be called first.
func NewEmitter() *Emitter { return &Emitter{} }

// ObserveReconcile records one reconcile outcome ("success", "error",
// "conflict", "validation_error").
func (e *Emitter) ObserveReconcile(rollout, namespace, result string) {
	if reconcileTotal == nil {
		return
	}
	reconcileTotal.WithLabelValues(rollout, namespace, result).Inc()
}

// ObservePhaseTransition records a phase transition.
func (e *Emitter) ObservePhaseTransition(rollout, namespace, from, to string) {
	if phaseTransitionsTotal == nil {
		return
	}
	phaseTransitionsTotal.WithLabelValues(rollout, namespace, from, to).Inc()
}

// SetCurrentWeight records the rollout's current canary/preview weight.
func (e *Emitter) SetCurrentWeight(rollout, namespace string, weight int32) {
	if currentWeight == nil {
		return
	}
	currentWeight.WithLabelValues(rollout, namespace).Set(float64(weight))
}

// SetRequeueAfter records the requeue interval chosen for the last reconcile.
func (e *Emitter) SetRequeueAfter(rollout, namespace string, seconds float64) {
	if requeueAfterSeconds == nil {
		return
	}
	requeueAfterSeconds.WithLabelValues(rollout, namespace).Set(seconds)
}
