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

// Package strategy implements the four Strategy Handlers of §4.4: Canary,
// Blue-Green, A/B Testing, and Simple. Each handler owns replica
// reconciliation, traffic reconciliation, and next-status computation for
// its strategy; the Reconcile Loop dispatches to the handler named by
// spec.strategy through a closed table, never reflection.
package strategy

import (
	"context"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/clock"
	"github.com/false-systems/kulta/internal/health"
	"github.com/false-systems/kulta/internal/phase"
	"github.com/false-systems/kulta/internal/replica"
	"github.com/false-systems/kulta/internal/traffic"
)

// Deps are the collaborators every handler needs; threaded through rather
// than embedded so handlers remain stateless, reusable values.
type Deps struct {
	Replica *replica.Builder
	Traffic *traffic.Router
	Health  *health.Querier
	Clock   clock.Clock
}

// Handler is the capability set of §4.4.
type Handler interface {
	// ReconcileReplicas converges the owned ReplicaSets to the rollout's
	// current phase and step.
	ReconcileReplicas(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error
	// ReconcileTraffic converges the managed HTTPRoute to the rollout's
	// current phase and step. A no-op if no TrafficRouting is configured.
	ReconcileTraffic(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error
	// ComputeNextStatus evaluates health (if due) and advances r.Status in
	// place, returning a Decision describing what happened.
	ComputeNextStatus(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) (phase.Decision, error)
	// SupportsAnalysis reports whether this strategy ever evaluates metrics.
	SupportsAnalysis() bool
	// SupportsManualPromotion reports whether kulta.io/promote affects this strategy.
	SupportsManualPromotion() bool
	// FailureCleanup resets traffic to 100% stable and scales the
	// non-stable revision's ReplicaSet to 0, per §4.3 ("on entering Failed,
	// traffic is reset to 100% stable in a single patch; canary/preview/
	// variant-B ReplicaSets are scaled to 0, not deleted, for audit").
	FailureCleanup(ctx context.Context, deps Deps, r *kultav1alpha1.Rollout) error
}

var registry = map[string]Handler{
	"canary":    CanaryHandler{},
	"blueGreen": BlueGreenHandler{},
	"abTesting": ABTestingHandler{},
	"simple":    SimpleHandler{},
}

// For returns the Handler registered for kind, and whether one was found.
func For(kind string) (Handler, bool) {
	h, ok := registry[kind]
	return h, ok
}

// ceilDiv100 computes ceil(total * pct / 100) for pct in [0,100].
func ceilDiv100(total, pct int32) int32 {
	if total <= 0 || pct <= 0 {
		return 0
	}
	product := int64(total) * int64(pct)
	q := product / 100
	if product%100 != 0 {
		q++
	}
	return int32(q)
}
