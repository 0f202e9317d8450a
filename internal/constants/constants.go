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

// Package constants centralizes label keys, annotation keys, and metric
// names shared across the controller's internal packages.
package constants

// Prometheus self-metric label names (internal/metrics).
const (
	LabelRollout   = "rollout"
	LabelNamespace = "namespace"
	LabelStrategy  = "strategy"
	LabelResult    = "result"
	LabelFrom      = "from"
	LabelTo        = "to"
)

// Self-metric series names (internal/metrics).
const (
	MetricReconcileTotal        = "kulta_reconcile_total"
	MetricPhaseTransitionsTotal = "kulta_phase_transitions_total"
	MetricCurrentWeight         = "kulta_current_weight"
	MetricRequeueAfterSeconds   = "kulta_requeue_after_seconds"
)

// ControllerInstanceLabelKey associates a Rollout with a specific controller
// instance for multi-controller isolation, mirroring the teacher's own
// wva.llmd.ai/controller-instance convention.
const ControllerInstanceLabelKey = "rollouts.kulta.io/controller-instance"

// ControllerInstanceEnvVar names the environment variable read at startup.
const ControllerInstanceEnvVar = "CONTROLLER_INSTANCE"

// Event type strings emitted by internal/events (§4.7).
const (
	EventDeployed    = "service.deployed"
	EventUpgraded    = "service.upgraded"
	EventPublished   = "service.published"
	EventRolledback  = "service.rolledback"
)

// Occurrence type tags (§4.10), one family per strategy.
const (
	OccurrenceCanaryProgressing   = "canary.rollout.progressing"
	OccurrenceCanaryCompleted     = "canary.rollout.completed"
	OccurrenceCanaryFailed        = "canary.rollout.failed"
	OccurrenceBlueGreenCompleted  = "bluegreen.rollout.completed"
	OccurrenceBlueGreenFailed     = "bluegreen.rollout.failed"
	OccurrenceABTestingCompleted  = "abtesting.rollout.completed"
	OccurrenceABTestingFailed     = "abtesting.rollout.failed"
	OccurrenceRollingCompleted    = "rolling.rollout.completed"
	OccurrenceRollingFailed       = "rolling.rollout.failed"
	OccurrenceValidationFailed    = "rollout.validation.failed"
)
