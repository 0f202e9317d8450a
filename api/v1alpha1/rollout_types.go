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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Annotation keys accepted by the controller as user-driven hints (§6).
const (
	// AnnotationPromote forces advance from Paused, or cuts a Blue-Green preview over.
	AnnotationPromote = "kulta.io/promote"
	// AnnotationConcludeExperiment concludes an A/B experiment early using current data.
	AnnotationConcludeExperiment = "kulta.io/conclude-experiment"
	// AnnotationAbort forces the rollout into the Failed phase.
	AnnotationAbort = "kulta.io/abort"
)

// PodTemplateHashLabelKey is the synthetic label the ReplicaSet Builder adds
// to every owned ReplicaSet's selector (§4.2).
const PodTemplateHashLabelKey = "rollouts.kulta.io/pod-template-hash"

// RoleLabelKey identifies the role a ReplicaSet plays for its Rollout.
const RoleLabelKey = "rollouts.kulta.io/role"

// Role is one of the workload-replica roles a ReplicaSet may carry.
type Role string

const (
	RoleStable    Role = "stable"
	RoleCanary    Role = "canary"
	RoleActive    Role = "active"
	RolePreview   Role = "preview"
	RoleVariantA  Role = "variant-a"
	RoleVariantB  Role = "variant-b"
)

// RolloutPhase is the coarse lifecycle state of a Rollout (§4.3 phase lattice).
type RolloutPhase string

const (
	PhaseInitializing  RolloutPhase = "Initializing"
	PhaseProgressing   RolloutPhase = "Progressing"
	PhasePaused        RolloutPhase = "Paused"
	PhasePreview       RolloutPhase = "Preview"
	PhaseExperimenting RolloutPhase = "Experimenting"
	PhaseConcluded     RolloutPhase = "Concluded"
	PhaseCompleted     RolloutPhase = "Completed"
	PhaseFailed        RolloutPhase = "Failed"
)

// FailurePolicy controls what happens when a threshold-mode analysis metric violates (§4.5).
type FailurePolicy string

const (
	FailurePolicyPause    FailurePolicy = "Pause"
	FailurePolicyContinue FailurePolicy = "Continue"
	FailurePolicyRollback FailurePolicy = "Rollback"
)

// MetricName is the allowed set of threshold-mode metric names (§4.9).
type MetricName string

const (
	MetricErrorRate  MetricName = "error-rate"
	MetricLatencyP95 MetricName = "latency-p95"
)

// RolloutSpec is the user-authored desired state of a Rollout.
type RolloutSpec struct {
	// Replicas is the desired total pod count across all roles.
	// +kubebuilder:validation:Minimum=0
	Replicas int32 `json:"replicas"`

	// Selector identifies the pods managed by this Rollout.
	Selector *metav1.LabelSelector `json:"selector"`

	// Template is the pod template for the workload. Its contents are opaque
	// to the reconciliation engine; only its fingerprint (§4.2) matters.
	Template corev1.PodTemplateSpec `json:"template"`

	// Strategy selects exactly one progressive-delivery strategy.
	Strategy RolloutStrategy `json:"strategy"`
}

// RolloutStrategy is a closed variant: exactly one field must be set.
type RolloutStrategy struct {
	Canary    *CanaryStrategy    `json:"canary,omitempty"`
	BlueGreen *BlueGreenStrategy `json:"blueGreen,omitempty"`
	ABTesting *ABTestingStrategy `json:"abTesting,omitempty"`
	Simple    *SimpleStrategy    `json:"simple,omitempty"`
}

// Kind returns a stable label for the populated strategy branch, or "" if
// none (or more than one) is populated. Validation (§4.9) is responsible for
// rejecting the latter; Kind never panics.
func (s RolloutStrategy) Kind() string {
	if s.Count() != 1 {
		return ""
	}
	switch {
	case s.Canary != nil:
		return "canary"
	case s.BlueGreen != nil:
		return "blueGreen"
	case s.ABTesting != nil:
		return "abTesting"
	case s.Simple != nil:
		return "simple"
	default:
		return ""
	}
}

// Count returns how many strategy branches are populated, for validation.
func (s RolloutStrategy) Count() int {
	n := 0
	if s.Canary != nil {
		n++
	}
	if s.BlueGreen != nil {
		n++
	}
	if s.ABTesting != nil {
		n++
	}
	if s.Simple != nil {
		n++
	}
	return n
}

// RolloutPause is an optional pause attached to a canary step.
type RolloutPause struct {
	// Duration is a Go duration string (e.g. "5m"); a missing value pauses
	// indefinitely until a manual promote annotation arrives.
	Duration string `json:"duration,omitempty"`
}

// CanaryStep is one entry in a canary plan.
type CanaryStep struct {
	// SetWeight is the target canary traffic weight, 0-100.
	SetWeight int32 `json:"setWeight"`
	// Pause optionally holds this step for a duration (or indefinitely).
	Pause *RolloutPause `json:"pause,omitempty"`
}

// MetricThreshold is one threshold-mode analysis metric (§4.5).
type MetricThreshold struct {
	Name      MetricName `json:"name"`
	Threshold float64    `json:"threshold"`
}

// Analysis is the threshold-mode health-evaluation block used by Canary and Simple.
type Analysis struct {
	// Warmup is how long to wait after a step starts before evaluating metrics.
	Warmup string `json:"warmup,omitempty"`
	// FailurePolicy controls behavior when a metric violates its threshold.
	FailurePolicy FailurePolicy `json:"failurePolicy,omitempty"`
	// Metrics is the list of metric thresholds to evaluate.
	Metrics []MetricThreshold `json:"metrics,omitempty"`
}

// GatewayAPITrafficRouting names the HTTPRoute this rollout patches.
type GatewayAPITrafficRouting struct {
	HTTPRoute string `json:"httpRoute"`
}

// TrafficRouting is the traffic-routing configuration block shared by strategies.
type TrafficRouting struct {
	GatewayAPI *GatewayAPITrafficRouting `json:"gatewayAPI,omitempty"`
}

// CanaryStrategy advances traffic through a sequence of weight/pause steps.
type CanaryStrategy struct {
	StableService  string          `json:"stableService"`
	CanaryService  string          `json:"canaryService"`
	Port           int32           `json:"port"`
	Steps          []CanaryStep    `json:"steps"`
	TrafficRouting *TrafficRouting `json:"trafficRouting,omitempty"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
}

// BlueGreenStrategy keeps two fully-scaled revisions and cuts traffic over atomically.
type BlueGreenStrategy struct {
	ActiveService        string          `json:"activeService"`
	PreviewService       string          `json:"previewService"`
	Port                 int32           `json:"port"`
	AutoPromotionEnabled bool            `json:"autoPromotionEnabled"`
	TrafficRouting       *TrafficRouting `json:"trafficRouting,omitempty"`
}

// VariantBMatch configures the header or cookie match that routes requests to Variant B.
type VariantBMatch struct {
	HeaderName string `json:"headerName,omitempty"`
	CookieName string `json:"cookieName,omitempty"`
	Value      string `json:"value"`
}

// ABAnalysis is the statistical-significance health-evaluation block for A/B Testing.
type ABAnalysis struct {
	// MinDuration is the minimum wall-clock time before significance is even considered.
	MinDuration string `json:"minDuration,omitempty"`
	// MinSampleSize is the minimum per-variant sample count before concluding on significance.
	MinSampleSize int64 `json:"minSampleSize"`
	// ConfidenceLevel is in (0,1), e.g. 0.95.
	ConfidenceLevel float64 `json:"confidenceLevel"`
}

// ABTestingStrategy splits traffic between two variants by header/cookie match
// and concludes based on a two-proportion Z-test or a hard duration cap.
type ABTestingStrategy struct {
	VariantAService string          `json:"variantAService"`
	VariantBService string          `json:"variantBService"`
	Port            int32           `json:"port"`
	MaxDuration     string          `json:"maxDuration"`
	VariantBMatch   VariantBMatch   `json:"variantBMatch"`
	TrafficRouting  *TrafficRouting `json:"trafficRouting,omitempty"`
	Analysis        *ABAnalysis     `json:"analysis,omitempty"`
}

// SimpleStrategy is a plain scale-to-N deployment with no traffic split.
type SimpleStrategy struct {
	Analysis *Analysis `json:"analysis,omitempty"`
}

// RolloutCondition is a single observed condition on a Rollout.
type RolloutCondition struct {
	Type               string                 `json:"type"`
	Status             metav1.ConditionStatus `json:"status"`
	Reason             string                 `json:"reason,omitempty"`
	Message            string                 `json:"message,omitempty"`
	LastTransitionTime metav1.Time            `json:"lastTransitionTime,omitempty"`
}

// Condition type strings used across §4.9 validation and §4.5 analysis bookkeeping.
const (
	ConditionValidationError  = "ValidationError"
	ConditionMetricsDegraded  = "MetricsDegraded"
	ConditionAnalysisRunning  = "AnalysisRunning"
)

// RolloutStatus is the controller-owned observed state of a Rollout.
type RolloutStatus struct {
	Phase RolloutPhase `json:"phase,omitempty"`

	// CurrentStepIndex and CurrentWeight track canary progress.
	CurrentStepIndex int32 `json:"currentStepIndex,omitempty"`
	CurrentWeight    int32 `json:"currentWeight,omitempty"`

	PauseStartTime      *metav1.Time `json:"pauseStartTime,omitempty"`
	ExperimentStartTime *metav1.Time `json:"experimentStartTime,omitempty"`

	StableRevisionHash string `json:"stableRevisionHash,omitempty"`
	CanaryRevisionHash string `json:"canaryRevisionHash,omitempty"`

	// ObservedStrategyKind records the last-reconciled spec.strategy branch
	// kind, so validation (§4.9) can detect a mid-rollout strategy change
	// without needing an in-memory cache that would not survive failover.
	ObservedStrategyKind string `json:"observedStrategyKind,omitempty"`

	// ConsecutiveMetricsErrors tracks retryable backend errors for the
	// current step, per §4.5 ("three consecutive retryable errors ...
	// degrade to failure policy Pause"). Carried in status so it survives
	// leader failover (§5).
	ConsecutiveMetricsErrors int32 `json:"consecutiveMetricsErrors,omitempty"`

	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Conditions         []RolloutCondition `json:"conditions,omitempty"`
	Message            string             `json:"message,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Weight",type=integer,JSONPath=`.status.currentWeight`

// Rollout drives progressive delivery of one workload.
type Rollout struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RolloutSpec   `json:"spec,omitempty"`
	Status RolloutStatus `json:"status,omitempty"`
}

// GetStableServiceName returns the stable-traffic service name for the
// populated strategy, or "" if the strategy has no notion of one.
func (r *Rollout) GetStableServiceName() string {
	switch {
	case r.Spec.Strategy.Canary != nil:
		return r.Spec.Strategy.Canary.StableService
	case r.Spec.Strategy.BlueGreen != nil:
		return r.Spec.Strategy.BlueGreen.ActiveService
	default:
		return ""
	}
}

// +kubebuilder:object:root=true

// RolloutList contains a list of Rollout.
type RolloutList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Rollout `json:"items"`
}
