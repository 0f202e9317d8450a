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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/client_golang/prometheus"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/clock"
	"github.com/false-systems/kulta/internal/events"
	"github.com/false-systems/kulta/internal/health"
	"github.com/false-systems/kulta/internal/leader"
	"github.com/false-systems/kulta/internal/metrics"
	"github.com/false-systems/kulta/internal/occurrence"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
)

// This suite drives the Reconcile Loop (§4.1) against a real API server
// (envtest), exercising spec.md §8's six worked scenarios end to end: each
// tick calls RolloutReconciler.Reconcile directly rather than running the
// full manager's watch/work-queue loop, so a clock.Fake can advance pauses,
// warmup windows, and experiment durations without real sleeps.

var (
	cfg         *rest.Config
	testEnv     *envtest.Environment
	k8sCli      client.Client
	suiteCtx    context.Context
	suiteCancel context.CancelFunc
)

func TestRolloutControllerIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rollout Controller Integration Suite")
}

var _ = BeforeSuite(func() {
	logf.SetLogger(zap.New(zap.WriteTo(GinkgoWriter), zap.UseDevMode(true)))

	suiteCtx, suiteCancel = context.WithCancel(context.Background())

	if os.Getenv("KUBEBUILDER_ASSETS") == "" {
		cmd := exec.Command("go", "run", "sigs.k8s.io/controller-runtime/tools/setup-envtest@latest",
			"use", "1.29.x", "--bin-dir", "/tmp/envtest-bins", "-p", "path")
		out, err := cmd.Output()
		if err != nil {
			Skip(fmt.Sprintf("setup-envtest not available, skipping controller integration suite: %v", err))
		}
		os.Setenv("KUBEBUILDER_ASSETS", strings.TrimSpace(string(out)))
	}

	testEnv = &envtest.Environment{
		CRDDirectoryPaths:     []string{filepath.Join("..", "..", "config", "crd", "bases")},
		ErrorIfCRDPathMissing: true,
	}

	var err error
	cfg, err = testEnv.Start()
	Expect(err).NotTo(HaveOccurred())
	Expect(cfg).NotTo(BeNil())

	Expect(kultav1alpha1.AddToScheme(scheme.Scheme)).To(Succeed())

	k8sCli, err = client.New(cfg, client.Options{Scheme: scheme.Scheme})
	Expect(err).NotTo(HaveOccurred())

	Expect(metrics.InitMetrics(prometheus.NewRegistry())).To(Succeed())
})

var _ = AfterSuite(func() {
	suiteCancel()
	Expect(testEnv.Stop()).To(Succeed())
})

// --- fixtures -----------------------------------------------------------

var nsCounter int64

func newTestNamespace() string {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("kulta-it-%d-", atomic.AddInt64(&nsCounter, 1)),
		},
	}
	Expect(k8sCli.Create(suiteCtx, ns)).To(Succeed())
	return ns.Name
}

func podTemplate() corev1.PodTemplateSpec {
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "workload"}},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "app", Image: "example.test/workload:v1"}},
		},
	}
}

func newRollout(ns, name string, strategy kultav1alpha1.RolloutStrategy) *kultav1alpha1.Rollout {
	return &kultav1alpha1.Rollout{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: kultav1alpha1.RolloutSpec{
			Replicas: 4,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "workload"}},
			Template: podTemplate(),
			Strategy: strategy,
		},
	}
}

// promStub is a minimal Prometheus HTTP API backend: tests register a value
// per metric/series kind and every query is answered with a single-sample
// instant vector carrying that value.
type promStub struct {
	mu     sync.Mutex
	values map[string]float64
}

func (p *promStub) handle(w http.ResponseWriter, req *http.Request) {
	_ = req.ParseForm()
	q := req.FormValue("query")

	p.mu.Lock()
	var value float64
	switch {
	case strings.Contains(q, "http_requests_total"):
		value = p.values["error-rate"]
	case strings.Contains(q, "histogram_quantile"):
		value = p.values["latency-p95"]
	case strings.Contains(q, "experiment_conversions_total") && strings.Contains(q, `variant="a"`):
		value = p.values["conversions-a"]
	case strings.Contains(q, "experiment_conversions_total") && strings.Contains(q, `variant="b"`):
		value = p.values["conversions-b"]
	case strings.Contains(q, "experiment_samples_total") && strings.Contains(q, `variant="a"`):
		value = p.values["samples-a"]
	case strings.Contains(q, "experiment_samples_total") && strings.Contains(q, `variant="b"`):
		value = p.values["samples-b"]
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"resultType": "vector",
			"result": []map[string]interface{}{
				{
					"metric": map[string]string{},
					"value":  []interface{}{float64(time.Now().Unix()), fmt.Sprintf("%v", value)},
				},
			},
		},
	})
}

// eventCapture records every envelope posted to it, standing in for the
// real event-sink HTTP endpoint so tests can assert on emission order.
type eventCapture struct {
	mu    sync.Mutex
	types []string
}

func newEventCapture() (*httptest.Server, *eventCapture) {
	c := &eventCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var env events.Envelope
		_ = json.NewDecoder(req.Body).Decode(&env)
		c.mu.Lock()
		c.types = append(c.types, env.Type)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return srv, c
}

func (c *eventCapture) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}

// testHarness bundles one reconciler wired to envtest plus its fake clock,
// Prometheus stub, and event capture, for a single scenario.
type testHarness struct {
	reconciler *RolloutReconciler
	clock      *clock.Fake
	prom       *promStub
	promServer *httptest.Server
	events     *eventCapture
	eventSrv   *httptest.Server
	ns         string
}

func newHarness() *testHarness {
	ns := newTestNamespace()

	prom := &promStub{values: map[string]float64{}}
	promSrv := httptest.NewServer(http.HandlerFunc(prom.handle))

	eventSrv, capture := newEventCapture()

	fakeClock := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	promClient, err := promapi.NewClient(promapi.Config{Address: promSrv.URL})
	Expect(err).NotTo(HaveOccurred())

	reconciler := &RolloutReconciler{
		Client:     k8sCli,
		Scheme:     scheme.Scheme,
		Leader:     leader.NewGate(k8sCli, ns, "kulta-leader", fakeClock),
		Replica:    &replica.Builder{Client: k8sCli, Scheme: scheme.Scheme},
		Traffic:    &traffic.Router{Client: k8sCli},
		Health:     &health.Querier{API: promv1.NewAPI(promClient)},
		Events:     events.NewSink(eventSrv.URL, "suite", &http.Client{Timeout: 5 * time.Second}),
		Occurrence: occurrence.NewWriter(GinkgoT().TempDir(), fakeClock),
		Metrics:    metrics.NewEmitter(),
		Clock:      fakeClock,
	}

	return &testHarness{
		reconciler: reconciler,
		clock:      fakeClock,
		prom:       prom,
		promServer: promSrv,
		events:     capture,
		eventSrv:   eventSrv,
		ns:         ns,
	}
}

func (h *testHarness) close() {
	h.promServer.Close()
	h.eventSrv.Close()
}

func (h *testHarness) tick(ro *kultav1alpha1.Rollout) ctrl.Result {
	req := ctrl.Request{NamespacedName: types.NamespacedName{Namespace: ro.Namespace, Name: ro.Name}}
	result, err := h.reconciler.Reconcile(suiteCtx, req)
	Expect(err).NotTo(HaveOccurred())
	Expect(k8sCli.Get(suiteCtx, req.NamespacedName, ro)).To(Succeed())
	return result
}

// --- scenarios ------------------------------------------------------------

var _ = Describe("Rollout controller", func() {

	It("advances a Canary rollout through its steps to Completed (happy path)", func() {
		h := newHarness()
		defer h.close()

		ro := newRollout(h.ns, "canary-happy", kultav1alpha1.RolloutStrategy{
			Canary: &kultav1alpha1.CanaryStrategy{
				StableService: "stable-svc",
				CanaryService: "canary-svc",
				Port:          80,
				Steps: []kultav1alpha1.CanaryStep{
					{SetWeight: 20, Pause: &kultav1alpha1.RolloutPause{Duration: "1m"}},
					{SetWeight: 100},
				},
			},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.tick(ro) // Initializing -> Progressing (step 0, weight 20)
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseProgressing))

		h.tick(ro) // Progressing -> Paused
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhasePaused))

		h.tick(ro) // pause not yet elapsed
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhasePaused))

		h.clock.Step(61 * time.Second)

		h.tick(ro) // pause elapsed -> step 1, weight 100
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseProgressing))
		Expect(ro.Status.CurrentWeight).To(Equal(int32(100)))

		h.tick(ro) // Progressing -> Paused (final step carries no pause clause)
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhasePaused))

		// The final step's pause is nil; without the pause-liveness fix this
		// tick would stay Paused forever since elapsed would default false.
		h.tick(ro)
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseCompleted))
		Expect(ro.Status.CurrentWeight).To(Equal(int32(100)))

		Expect(h.events.snapshot()).To(Equal([]string{
			"service.deployed", "service.upgraded", "service.published",
		}))
	})

	It("rolls a Canary back on a threshold violation", func() {
		h := newHarness()
		defer h.close()
		h.prom.mu.Lock()
		h.prom.values["error-rate"] = 10
		h.prom.mu.Unlock()

		ro := newRollout(h.ns, "canary-rollback", kultav1alpha1.RolloutStrategy{
			Canary: &kultav1alpha1.CanaryStrategy{
				StableService: "stable-svc",
				CanaryService: "canary-svc",
				Port:          80,
				Steps: []kultav1alpha1.CanaryStep{
					{SetWeight: 50, Pause: &kultav1alpha1.RolloutPause{Duration: "0s"}},
					{SetWeight: 100},
				},
				Analysis: &kultav1alpha1.Analysis{
					Warmup:        "0s",
					FailurePolicy: kultav1alpha1.FailurePolicyRollback,
					Metrics: []kultav1alpha1.MetricThreshold{
						{Name: kultav1alpha1.MetricErrorRate, Threshold: 5},
					},
				},
			},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.tick(ro) // Initializing -> Progressing
		h.tick(ro) // Progressing -> Paused

		h.tick(ro) // warmup elapsed immediately (0s); error-rate (10) > threshold (5)
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseFailed))

		Expect(h.events.snapshot()).To(Equal([]string{
			"service.deployed", "service.rolledback",
		}))
	})

	It("cuts a Blue-Green rollout over to Completed in the same tick as manual promote, emitting upgraded then published", func() {
		h := newHarness()
		defer h.close()

		ro := newRollout(h.ns, "bluegreen-promote", kultav1alpha1.RolloutStrategy{
			BlueGreen: &kultav1alpha1.BlueGreenStrategy{
				ActiveService:        "active-svc",
				PreviewService:       "preview-svc",
				Port:                 80,
				AutoPromotionEnabled: false,
			},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.tick(ro) // Initializing -> Preview
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhasePreview))

		patch := client.MergeFrom(ro.DeepCopy())
		if ro.Annotations == nil {
			ro.Annotations = map[string]string{}
		}
		ro.Annotations[kultav1alpha1.AnnotationPromote] = "true"
		Expect(k8sCli.Patch(suiteCtx, ro, patch)).To(Succeed())

		h.tick(ro) // Preview -> Completed: traffic cutover and phase land on the same tick
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseCompleted))
		Expect(ro.Status.StableRevisionHash).To(Equal(ro.Status.CanaryRevisionHash))

		Expect(h.events.snapshot()).To(Equal([]string{
			"service.deployed", "service.upgraded", "service.published",
		}))
	})

	It("concludes an A/B experiment on statistical significance", func() {
		h := newHarness()
		defer h.close()
		h.prom.mu.Lock()
		h.prom.values["conversions-a"] = 50
		h.prom.values["samples-a"] = 1000
		h.prom.values["conversions-b"] = 90
		h.prom.values["samples-b"] = 1000
		h.prom.mu.Unlock()

		ro := newRollout(h.ns, "ab-significant", kultav1alpha1.RolloutStrategy{
			ABTesting: &kultav1alpha1.ABTestingStrategy{
				VariantAService: "a-svc",
				VariantBService: "b-svc",
				Port:            80,
				MaxDuration:     "1h",
				VariantBMatch:   kultav1alpha1.VariantBMatch{HeaderName: "X-Variant", Value: "b"},
				Analysis: &kultav1alpha1.ABAnalysis{
					MinDuration:     "0s",
					MinSampleSize:   100,
					ConfidenceLevel: 0.95,
				},
			},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.tick(ro) // Initializing -> Experimenting
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseExperimenting))

		h.tick(ro) // significant immediately (minDuration 0s) -> Concluded, winner B
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseConcluded))
		Expect(ro.Status.StableRevisionHash).To(Equal(ro.Status.CanaryRevisionHash))

		h.tick(ro) // Concluded -> Completed
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseCompleted))

		Expect(h.events.snapshot()).To(Equal([]string{
			"service.deployed", "service.upgraded", "service.published",
		}))
	})

	It("concludes an A/B experiment on the duration cap without significance", func() {
		h := newHarness()
		defer h.close()

		ro := newRollout(h.ns, "ab-duration-cap", kultav1alpha1.RolloutStrategy{
			ABTesting: &kultav1alpha1.ABTestingStrategy{
				VariantAService: "a-svc",
				VariantBService: "b-svc",
				Port:            80,
				MaxDuration:     "1m",
				VariantBMatch:   kultav1alpha1.VariantBMatch{HeaderName: "X-Variant", Value: "b"},
			},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.tick(ro) // Initializing -> Experimenting
		h.tick(ro) // duration cap not yet reached
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseExperimenting))

		h.clock.Step(61 * time.Second)

		h.tick(ro) // duration cap reached, no Analysis configured -> Concluded, default winner A
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseConcluded))
		Expect(ro.Status.StableRevisionHash).To(Equal(ro.Status.CanaryRevisionHash)) // single spec.Template: A and B start identical

		h.tick(ro) // Concluded -> Completed
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseCompleted))

		Expect(h.events.snapshot()).To(Equal([]string{
			"service.deployed", "service.upgraded", "service.published",
		}))
	})

	It("requeues instead of erroring when the status patch hits a conflict", func() {
		h := newHarness()
		defer h.close()

		ro := newRollout(h.ns, "conflict-retry", kultav1alpha1.RolloutStrategy{
			Simple: &kultav1alpha1.SimpleStrategy{},
		})
		Expect(k8sCli.Create(suiteCtx, ro)).To(Succeed())

		h.reconciler.Client = &flakyClient{Client: k8sCli}

		req := ctrl.Request{NamespacedName: types.NamespacedName{Namespace: ro.Namespace, Name: ro.Name}}
		result, err := h.reconciler.Reconcile(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Requeue).To(BeTrue())

		Expect(k8sCli.Get(suiteCtx, req.NamespacedName, ro)).To(Succeed())
		Expect(ro.Status.Phase).To(BeEmpty()) // the conflicted patch never landed

		result, err = h.reconciler.Reconcile(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Requeue).To(BeFalse())

		Expect(k8sCli.Get(suiteCtx, req.NamespacedName, ro)).To(Succeed())
		Expect(ro.Status.Phase).To(Equal(kultav1alpha1.PhaseProgressing))
	})
})

// flakyClient fails the first status patch it sees with a conflict, then
// delegates every subsequent call to the wrapped client, modeling the
// concurrent-writer race the Reconcile Loop's conflict branch (§4.1 step 9)
// exists to handle.
type flakyClient struct {
	client.Client
	tripped int32
}

func (f *flakyClient) Status() client.SubResourceWriter {
	return &flakyStatusWriter{SubResourceWriter: f.Client.Status(), parent: f}
}

type flakyStatusWriter struct {
	client.SubResourceWriter
	parent *flakyClient
}

func (w *flakyStatusWriter) Patch(ctx context.Context, obj client.Object, patch client.Patch, opts ...client.SubResourcePatchOption) error {
	if atomic.CompareAndSwapInt32(&w.parent.tripped, 0, 1) {
		return apierrors.NewConflict(schema.GroupResource{Group: "kulta.io", Resource: "rollouts"}, obj.GetName(), fmt.Errorf("simulated conflict"))
	}
	return w.SubResourceWriter.Patch(ctx, obj, patch, opts...)
}
