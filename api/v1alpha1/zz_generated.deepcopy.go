//go:build !ignore_autogenerated

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

// Code generated by controller-gen normally lives here. This repository
// does not run code generation, so the deep-copy methods below are
// hand-written to match what controller-gen would emit for the types in
// rollout_types.go.

package v1alpha1

import (
	runtime "k8s.io/apimachinery/pkg/runtime"
)

func (in *RolloutPause) DeepCopy() *RolloutPause {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func (in *CanaryStep) DeepCopyInto(out *CanaryStep) {
	*out = *in
	if in.Pause != nil {
		out.Pause = in.Pause.DeepCopy()
	}
}

func (in *MetricThreshold) DeepCopyInto(out *MetricThreshold) {
	*out = *in
}

func (in *Analysis) DeepCopyInto(out *Analysis) {
	*out = *in
	if in.Metrics != nil {
		out.Metrics = make([]MetricThreshold, len(in.Metrics))
		copy(out.Metrics, in.Metrics)
	}
}

func (in *Analysis) DeepCopy() *Analysis {
	if in == nil {
		return nil
	}
	out := new(Analysis)
	in.DeepCopyInto(out)
	return out
}

func (in *GatewayAPITrafficRouting) DeepCopy() *GatewayAPITrafficRouting {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func (in *TrafficRouting) DeepCopyInto(out *TrafficRouting) {
	*out = *in
	if in.GatewayAPI != nil {
		out.GatewayAPI = in.GatewayAPI.DeepCopy()
	}
}

func (in *TrafficRouting) DeepCopy() *TrafficRouting {
	if in == nil {
		return nil
	}
	out := new(TrafficRouting)
	in.DeepCopyInto(out)
	return out
}

func (in *CanaryStrategy) DeepCopyInto(out *CanaryStrategy) {
	*out = *in
	if in.Steps != nil {
		out.Steps = make([]CanaryStep, len(in.Steps))
		for i := range in.Steps {
			in.Steps[i].DeepCopyInto(&out.Steps[i])
		}
	}
	if in.TrafficRouting != nil {
		out.TrafficRouting = in.TrafficRouting.DeepCopy()
	}
	if in.Analysis != nil {
		out.Analysis = in.Analysis.DeepCopy()
	}
}

func (in *CanaryStrategy) DeepCopy() *CanaryStrategy {
	if in == nil {
		return nil
	}
	out := new(CanaryStrategy)
	in.DeepCopyInto(out)
	return out
}

func (in *BlueGreenStrategy) DeepCopyInto(out *BlueGreenStrategy) {
	*out = *in
	if in.TrafficRouting != nil {
		out.TrafficRouting = in.TrafficRouting.DeepCopy()
	}
}

func (in *BlueGreenStrategy) DeepCopy() *BlueGreenStrategy {
	if in == nil {
		return nil
	}
	out := new(BlueGreenStrategy)
	in.DeepCopyInto(out)
	return out
}

func (in *ABAnalysis) DeepCopy() *ABAnalysis {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func (in *ABTestingStrategy) DeepCopyInto(out *ABTestingStrategy) {
	*out = *in
	if in.TrafficRouting != nil {
		out.TrafficRouting = in.TrafficRouting.DeepCopy()
	}
	if in.Analysis != nil {
		out.Analysis = in.Analysis.DeepCopy()
	}
}

func (in *ABTestingStrategy) DeepCopy() *ABTestingStrategy {
	if in == nil {
		return nil
	}
	out := new(ABTestingStrategy)
	in.DeepCopyInto(out)
	return out
}

func (in *SimpleStrategy) DeepCopyInto(out *SimpleStrategy) {
	*out = *in
	if in.Analysis != nil {
		out.Analysis = in.Analysis.DeepCopy()
	}
}

func (in *SimpleStrategy) DeepCopy() *SimpleStrategy {
	if in == nil {
		return nil
	}
	out := new(SimpleStrategy)
	in.DeepCopyInto(out)
	return out
}

func (in *RolloutStrategy) DeepCopyInto(out *RolloutStrategy) {
	*out = *in
	if in.Canary != nil {
		out.Canary = in.Canary.DeepCopy()
	}
	if in.BlueGreen != nil {
		out.BlueGreen = in.BlueGreen.DeepCopy()
	}
	if in.ABTesting != nil {
		out.ABTesting = in.ABTesting.DeepCopy()
	}
	if in.Simple != nil {
		out.Simple = in.Simple.DeepCopy()
	}
}

func (in *RolloutSpec) DeepCopyInto(out *RolloutSpec) {
	*out = *in
	if in.Selector != nil {
		out.Selector = in.Selector.DeepCopy()
	}
	in.Template.DeepCopyInto(&out.Template)
	in.Strategy.DeepCopyInto(&out.Strategy)
}

func (in *RolloutCondition) DeepCopyInto(out *RolloutCondition) {
	*out = *in
	in.LastTransitionTime.DeepCopyInto(&out.LastTransitionTime)
}

func (in *RolloutStatus) DeepCopyInto(out *RolloutStatus) {
	*out = *in
	if in.PauseStartTime != nil {
		out.PauseStartTime = in.PauseStartTime.DeepCopy()
	}
	if in.ExperimentStartTime != nil {
		out.ExperimentStartTime = in.ExperimentStartTime.DeepCopy()
	}
	if in.Conditions != nil {
		out.Conditions = make([]RolloutCondition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
}

// DeepCopyInto copies the receiver into out.
func (in *Rollout) DeepCopyInto(out *Rollout) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy creates a deep copy of the receiver.
func (in *Rollout) DeepCopy() *Rollout {
	if in == nil {
		return nil
	}
	out := new(Rollout)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *Rollout) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver into out.
func (in *RolloutList) DeepCopyInto(out *RolloutList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]Rollout, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy creates a deep copy of the receiver.
func (in *RolloutList) DeepCopy() *RolloutList {
	if in == nil {
		return nil
	}
	out := new(RolloutList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *RolloutList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
