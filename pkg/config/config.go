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

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/logging"
)

// Config is the environment-driven bootstrap contract of §6 "Environment".
// Every field has a default; Load never fails on a missing variable, only on
// a malformed one.
type Config struct {
	// LogLevel selects verbosity: 0=INFO, 1=DEBUG, 2=VERBOSE.
	LogLevel int

	// LeaderElectionEnabled is parsed from the environment but not read by
	// cmd/manager: the internal/leader.Gate is consulted on every reconcile
	// whatever its value.
	LeaderElectionEnabled bool
	LeaseName             string

	// MetricsBackendURL is the Prometheus-compatible API base used by
	// internal/health.Querier.
	MetricsBackendURL string

	// EventSinkURL is the HTTP endpoint internal/events.Sink posts to.
	EventSinkEnabled bool
	EventSinkURL     string

	// OccurrenceDir is the directory internal/occurrence.Writer persists
	// records under.
	OccurrenceDir string

	// PodName is the event sink's source name; PodNamespace is the namespace
	// the leader Lease lives in. The Lease holder identity is a UUID, not
	// the pod name.
	PodName      string
	PodNamespace string

	ControllerInstance string

	// ServiceMonitorName/Namespace identify the controller's own metrics
	// ServiceMonitor; an empty name disables the deletion-detection watch.
	ServiceMonitorName      string
	ServiceMonitorNamespace string

	// QueryTemplateFile optionally names a YAML file of metric-name ->
	// PromQL-template overrides for internal/health.Querier; empty disables
	// the override and leaves every metric on its built-in template.
	QueryTemplateFile string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads Config from the environment, applying the defaults named in
// the operator documentation.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:          logging.INFO,
		LeaseName:         getEnv("LEASE_NAME", "kulta-controller"),
		MetricsBackendURL: getEnv("METRICS_BACKEND_URL", "http://prometheus-operated.monitoring.svc:9090"),
		EventSinkURL:      getEnv("EVENT_SINK_URL", ""),
		OccurrenceDir:     getEnv("OCCURRENCE_DIR", "/var/run/kulta/occurrences"),
		PodName:           getEnv("POD_NAME", "kulta-controller"),
		PodNamespace:      getEnv("POD_NAMESPACE", "kulta-system"),
		ControllerInstance: os.Getenv("CONTROLLER_INSTANCE"),

		ServiceMonitorName:      getEnv("SERVICE_MONITOR_NAME", "kulta-controller-metrics-monitor"),
		ServiceMonitorNamespace: getEnv("SERVICE_MONITOR_NAMESPACE", getEnv("POD_NAMESPACE", "kulta-system")),

		QueryTemplateFile: getEnv("QUERY_TEMPLATE_FILE", ""),
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LOG_LEVEL %q: %w", v, err)
		}
		cfg.LogLevel = lvl
	}

	leaderElection := getEnv("LEADER_ELECTION_ENABLED", "true")
	enabled, err := strconv.ParseBool(leaderElection)
	if err != nil {
		return Config{}, fmt.Errorf("parse LEADER_ELECTION_ENABLED %q: %w", leaderElection, err)
	}
	cfg.LeaderElectionEnabled = enabled

	eventSinkEnabled := getEnv("EVENT_SINK_ENABLED", strconv.FormatBool(cfg.EventSinkURL != ""))
	sinkEnabled, err := strconv.ParseBool(eventSinkEnabled)
	if err != nil {
		return Config{}, fmt.Errorf("parse EVENT_SINK_ENABLED %q: %w", eventSinkEnabled, err)
	}
	cfg.EventSinkEnabled = sinkEnabled

	return cfg, nil
}

// LoadQueryTemplates reads the query-template override file named by
// path (Config.QueryTemplateFile), a YAML mapping of metric name to PromQL
// template string. An empty path returns a nil map and no error: every
// metric then falls back to its built-in template.
func LoadQueryTemplates(path string) (map[kultav1alpha1.MetricName]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query template file %q: %w", path, err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse query template file %q: %w", path, err)
	}
	templates := make(map[kultav1alpha1.MetricName]string, len(raw))
	for name, tmpl := range raw {
		templates[kultav1alpha1.MetricName(name)] = tmpl
	}
	return templates, nil
}
