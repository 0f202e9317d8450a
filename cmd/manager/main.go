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

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	promoperator "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/clock"
	kcontroller "github.com/false-systems/kulta/internal/controller"
	"github.com/false-systems/kulta/internal/events"
	"github.com/false-systems/kulta/internal/health"
	"github.com/false-systems/kulta/internal/leader"
	"github.com/false-systems/kulta/internal/metrics"
	"github.com/false-systems/kulta/internal/occurrence"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
	"github.com/false-systems/kulta/pkg/config"
)

var (
	scheme = clientgoscheme.Scheme

	metricsAddr string
	healthAddr  string
)

func init() {
	_ = kultav1alpha1.AddToScheme(scheme)
	_ = gatewayv1.AddToScheme(scheme)
	_ = promoperator.AddToScheme(scheme)
}

var rootCmd = &cobra.Command{
	Use:   "manager",
	Short: "kulta drives progressive delivery of workloads over a shared phase lattice",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", ":8080", "address the metrics endpoint binds to")
	rootCmd.Flags().StringVar(&healthAddr, "health-probe-bind-address", ":8081", "address the health probe endpoint binds to")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLevel := zapcore.Level(-cfg.LogLevel)
	logger := zap.New(zap.UseDevMode(true), zap.Level(zapLevel))
	log.SetLogger(logger)
	setupLog := log.Log.WithName("setup")

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: healthAddr,
		LeaderElection:         false, // §4.8: leader election is a raw Lease, not this manager-wide toggle.
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("add healthz check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("add readyz check: %w", err)
	}

	if err := metrics.InitMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	promClient, err := promapi.NewClient(promapi.Config{Address: cfg.MetricsBackendURL})
	if err != nil {
		return fmt.Errorf("create prometheus client: %w", err)
	}

	queryTemplates, err := config.LoadQueryTemplates(cfg.QueryTemplateFile)
	if err != nil {
		return fmt.Errorf("load query templates: %w", err)
	}

	realClock := clock.RealClock{}

	// The Gate is always constructed so Reconcile has a stable, never-nil
	// collaborator. cfg.LeaderElectionEnabled is not consulted: every
	// reconcile goes through the Lease check whatever its value.
	leaderGate := leader.NewGate(mgr.GetClient(), cfg.PodNamespace, cfg.LeaseName, realClock)

	eventSinkURL := ""
	if cfg.EventSinkEnabled {
		eventSinkURL = cfg.EventSinkURL
	}
	eventSink := events.NewSink(eventSinkURL, cfg.PodName, &http.Client{Timeout: 5 * time.Second})
	occurrenceWriter := occurrence.NewWriter(cfg.OccurrenceDir, realClock)

	reconciler := &kcontroller.RolloutReconciler{
		Client:                  mgr.GetClient(),
		Scheme:                  mgr.GetScheme(),
		Recorder:                mgr.GetEventRecorderFor("rollout-controller"),
		Leader:                  leaderGate,
		Replica:                 &replica.Builder{Client: mgr.GetClient(), Scheme: mgr.GetScheme()},
		Traffic:                 &traffic.Router{Client: mgr.GetClient()},
		Health:                  &health.Querier{API: promv1.NewAPI(promClient), Templates: queryTemplates},
		Events:                  eventSink,
		Occurrence:              occurrenceWriter,
		Metrics:                 metrics.NewEmitter(),
		Clock:                   realClock,
		ServiceMonitorName:      cfg.ServiceMonitorName,
		ServiceMonitorNamespace: cfg.ServiceMonitorNamespace,
	}

	if err := reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setup rollout controller: %w", err)
	}

	setupLog.Info("starting manager", "podName", cfg.PodName, "podNamespace", cfg.PodNamespace)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		return fmt.Errorf("run manager: %w", err)
	}
	return nil
}
