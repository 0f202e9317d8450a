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

package fingerprint

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func podTemplate(image string, labels map[string]string) corev1.PodTemplateSpec {
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: labels},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{Name: "app", Image: image, Env: []corev1.EnvVar{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}}},
			},
		},
	}
}

func TestComputeStableAcrossCalls(t *testing.T) {
	tmpl := podTemplate("app:v1", map[string]string{"a": "1", "b": "2"})
	if Compute(tmpl) != Compute(tmpl) {
		t.Fatal("fingerprint is not stable across repeated calls")
	}
}

func TestComputeIndependentOfMapOrder(t *testing.T) {
	a := podTemplate("app:v1", map[string]string{"a": "1", "b": "2"})
	b := podTemplate("app:v1", map[string]string{"b": "2", "a": "1"})
	if Compute(a) != Compute(b) {
		t.Fatalf("fingerprint differs for re-ordered map keys: %s vs %s", Compute(a), Compute(b))
	}
}

func TestComputeChangesWithImage(t *testing.T) {
	a := podTemplate("app:v1", nil)
	b := podTemplate("app:v2", nil)
	if Compute(a) == Compute(b) {
		t.Fatal("fingerprint did not change when the image changed")
	}
}

func TestComputePreservesEnvOrder(t *testing.T) {
	a := podTemplate("app:v1", nil)
	b := a.DeepCopy()
	b.Spec.Containers[0].Env[0], b.Spec.Containers[0].Env[1] = b.Spec.Containers[0].Env[1], b.Spec.Containers[0].Env[0]
	if Compute(a) == Compute(*b) {
		t.Fatal("fingerprint ignored env var order, which is semantically meaningful")
	}
}

func TestComputeIsSixHexDigits(t *testing.T) {
	fp := Compute(podTemplate("app:v1", nil))
	if len(fp) != 6 {
		t.Fatalf("expected a 6-character fingerprint, got %q", fp)
	}
}
