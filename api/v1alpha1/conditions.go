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

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

// SetCondition upserts a condition by type, updating LastTransitionTime only
// when the status actually changes. Mirrors the teacher's own
// SetCondition(&va, Type, status, reason, message) call convention.
func SetCondition(r *Rollout, condType string, status metav1.ConditionStatus, reason, message string) {
	for i := range r.Status.Conditions {
		c := &r.Status.Conditions[i]
		if c.Type != condType {
			continue
		}
		if c.Status != status {
			c.Status = status
			c.LastTransitionTime = metav1.Now()
		}
		c.Reason = reason
		c.Message = message
		return
	}
	r.Status.Conditions = append(r.Status.Conditions, RolloutCondition{
		Type:               condType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.Now(),
	})
}

// GetCondition returns the condition of the given type, or nil.
func GetCondition(r *Rollout, condType string) *RolloutCondition {
	for i := range r.Status.Conditions {
		if r.Status.Conditions[i].Type == condType {
			return &r.Status.Conditions[i]
		}
	}
	return nil
}
