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

// Package health implements the MetricsQuerier and health decision of §4.5:
// threshold-mode queries for Canary/Simple, and two-proportion-Z-test
// experiment-mode queries for A/B Testing.
package health

import (
	"context"
	"fmt"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/valyala/fasttemplate"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/kulterr"
)

const component = "health.Querier"

const window = "2m"

var queryTemplates = map[kultav1alpha1.MetricName]string{
	kultav1alpha1.MetricErrorRate: `sum(rate(http_requests_total{status=~"5..",rollout="{rollout}",revision="{revision}"}[` + window + `])) / sum(rate(http_requests_total{rollout="{rollout}",revision="{revision}"}[` + window + `])) * 100`,
	kultav1alpha1.MetricLatencyP95: `histogram_quantile(0.95, rate(http_request_duration_seconds_bucket{rollout="{rollout}",revision="{revision}"}[` + window + `]))`,
}

// Querier queries a Prometheus-compatible backend for threshold-mode and
// experiment-mode health signals.
type Querier struct {
	API promv1.API

	// Templates optionally overrides queryTemplates per metric, as loaded
	// from the query-template YAML file named by pkg/config's
	// QUERY_TEMPLATE_FILE (§6). A metric absent from Templates falls back to
	// its built-in template.
	Templates map[kultav1alpha1.MetricName]string
}

// ThresholdResult is one evaluated metric threshold.
type ThresholdResult struct {
	Name      kultav1alpha1.MetricName
	Value     float64
	Threshold float64
	Violated  bool
}

// RenderQuery substitutes {rollout} and {revision} into metric's built-in
// template, ignoring any Querier.Templates override.
func RenderQuery(name kultav1alpha1.MetricName, rollout, revision string) (string, error) {
	tmpl, ok := queryTemplates[name]
	if !ok {
		return "", kulterr.New(kulterr.ValidationError, component, fmt.Sprintf("unknown metric %q", name))
	}
	return renderTemplate(tmpl, rollout, revision), nil
}

// renderQuery resolves name's template, preferring q.Templates, and renders it.
func (q *Querier) renderQuery(name kultav1alpha1.MetricName, rollout, revision string) (string, error) {
	if tmpl, ok := q.Templates[name]; ok {
		return renderTemplate(tmpl, rollout, revision), nil
	}
	tmpl, ok := queryTemplates[name]
	if !ok {
		return "", kulterr.New(kulterr.ValidationError, component, fmt.Sprintf("unknown metric %q", name))
	}
	return renderTemplate(tmpl, rollout, revision), nil
}

func renderTemplate(tmpl, rollout, revision string) string {
	return fasttemplate.ExecuteString(tmpl, "{", "}", map[string]interface{}{
		"rollout":  rollout,
		"revision": revision,
	})
}

// EvaluateThresholds queries every configured metric threshold and reports
// whether each one violates. A backend error aborts the whole evaluation and
// is returned as kulterr.MetricsUnavailable (retryable, per §4.5 "a backend
// error is retryable and does not violate").
func (q *Querier) EvaluateThresholds(ctx context.Context, metrics []kultav1alpha1.MetricThreshold, rollout, revision string, now time.Time) ([]ThresholdResult, error) {
	results := make([]ThresholdResult, 0, len(metrics))
	for _, m := range metrics {
		query, err := q.renderQuery(m.Name, rollout, revision)
		if err != nil {
			return nil, err
		}
		value, err := q.queryScalar(ctx, query, now)
		if err != nil {
			return nil, kulterr.Wrap(kulterr.MetricsUnavailable, component, fmt.Sprintf("query %s", m.Name), err)
		}
		results = append(results, ThresholdResult{
			Name:      m.Name,
			Value:     value,
			Threshold: m.Threshold,
			Violated:  value > m.Threshold,
		})
	}
	return results, nil
}

// AnyViolated reports whether any threshold result violated.
func AnyViolated(results []ThresholdResult) bool {
	for _, r := range results {
		if r.Violated {
			return true
		}
	}
	return false
}

func (q *Querier) queryScalar(ctx context.Context, query string, now time.Time) (float64, error) {
	val, _, err := q.API.Query(ctx, query, now)
	if err != nil {
		return 0, err
	}
	switch v := val.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, nil
		}
		return float64(v[0].Value), nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("unexpected prometheus result type %T", val)
	}
}

// conversionsSamplesTemplate renders the conversions or samples counter
// query for one A/B variant over the elapsed experiment duration.
const conversionsSamplesTemplate = `sum(increase({series}{rollout="{rollout}",variant="{variant}"}[{elapsed}]))`

func renderExperimentQuery(series, rollout, variant string, elapsed time.Duration) string {
	return fasttemplate.ExecuteString(conversionsSamplesTemplate, "{", "}", map[string]interface{}{
		"series":  series,
		"rollout": rollout,
		"variant": variant,
		"elapsed": formatPromDuration(elapsed),
	})
}

func formatPromDuration(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// ExperimentResult is the outcome of a two-proportion Z-test (§4.5).
type ExperimentResult struct {
	ConversionsA, SamplesA float64
	ConversionsB, SamplesB float64
	PA, PB                 float64
	Z                      float64
	PValue                 float64
	Significant            bool
	Winner                 string // "A" or "B"
}

// EvaluateExperiment queries conversions/samples for both variants over the
// elapsed experiment window and computes the two-proportion Z-test.
func (q *Querier) EvaluateExperiment(ctx context.Context, rollout string, elapsed time.Duration, minSampleSize int64, confidenceLevel float64, now time.Time) (*ExperimentResult, error) {
	ca, err := q.queryExperimentSeries(ctx, "experiment_conversions_total", rollout, "a", elapsed, now)
	if err != nil {
		return nil, err
	}
	na, err := q.queryExperimentSeries(ctx, "experiment_samples_total", rollout, "a", elapsed, now)
	if err != nil {
		return nil, err
	}
	cb, err := q.queryExperimentSeries(ctx, "experiment_conversions_total", rollout, "b", elapsed, now)
	if err != nil {
		return nil, err
	}
	nb, err := q.queryExperimentSeries(ctx, "experiment_samples_total", rollout, "b", elapsed, now)
	if err != nil {
		return nil, err
	}

	result := ComputeZTest(ca, na, cb, nb)
	result.Significant = result.PValue <= 1-confidenceLevel && minInt64(na, nb) >= minSampleSize
	if result.Z >= 0 {
		result.Winner = "B"
	} else {
		result.Winner = "A"
	}
	return &result, nil
}

func minInt64(a, b float64) int64 {
	if a < b {
		return int64(a)
	}
	return int64(b)
}

func (q *Querier) queryExperimentSeries(ctx context.Context, series, rollout, variant string, elapsed time.Duration, now time.Time) (float64, error) {
	query := renderExperimentQuery(series, rollout, variant, elapsed)
	value, err := q.queryScalar(ctx, query, now)
	if err != nil {
		return 0, kulterr.Wrap(kulterr.MetricsUnavailable, component, fmt.Sprintf("query %s[%s]", series, variant), err)
	}
	return value, nil
}
