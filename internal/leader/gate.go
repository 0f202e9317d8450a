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

// Package leader implements the Leader Gate (§4.8): a single process is
// designated leader via a Lease record, read fresh on every reconcile
// rather than cached, so writes are always gated on the current holder.
package leader

import (
	"context"
	"time"

	"github.com/google/uuid"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/false-systems/kulta/internal/clock"
	"github.com/false-systems/kulta/internal/kulterr"
)

const component = "leader.Gate"

const (
	// LeaseTTL is how long a held lease is honored without renewal.
	LeaseTTL = 15 * time.Second
	// RenewInterval is how often the leader refreshes its lease.
	RenewInterval = 5 * time.Second
)

// Gate answers "am I the leader" by reading a coordination.k8s.io/v1.Lease
// directly, bypassing controller-runtime's built-in leader election so the
// same Lease can also be consulted by read-only code paths (§4.8: "Non-leaders
// still receive events but skip all writes").
type Gate struct {
	Client    client.Client
	Namespace string
	LeaseName string
	Identity  string
	Clock     clock.Clock
}

// NewGate constructs a Gate with a fresh random identity.
func NewGate(c client.Client, namespace, leaseName string, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Gate{
		Client:    c,
		Namespace: namespace,
		LeaseName: leaseName,
		Identity:  uuid.NewString(),
		Clock:     clk,
	}
}

// IsLeader re-reads the Lease and reports whether this process currently
// holds it, acquiring or renewing it if it is unheld or expired.
func (g *Gate) IsLeader(ctx context.Context) (bool, error) {
	now := g.Clock.Now()

	var lease coordinationv1.Lease
	err := g.Client.Get(ctx, client.ObjectKey{Namespace: g.Namespace, Name: g.LeaseName}, &lease)
	switch {
	case apierrors.IsNotFound(err):
		return g.acquire(ctx, now)
	case err != nil:
		return false, kulterr.Wrap(kulterr.TransientAPIError, component, "get lease", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return g.claim(ctx, &lease, now)
	}

	expired := lease.Spec.RenewTime == nil ||
		now.Sub(lease.Spec.RenewTime.Time) > LeaseTTL

	if *lease.Spec.HolderIdentity == g.Identity {
		if expired || now.Sub(lease.Spec.RenewTime.Time) >= RenewInterval {
			return g.renew(ctx, &lease, now)
		}
		return true, nil
	}

	if expired {
		return g.claim(ctx, &lease, now)
	}
	return false, nil
}

func (g *Gate) acquire(ctx context.Context, now time.Time) (bool, error) {
	holder := g.Identity
	t := metav1.NewMicroTime(now)
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      g.LeaseName,
			Namespace: g.Namespace,
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity: &holder,
			RenewTime:      &t,
		},
	}
	if err := g.Client.Create(ctx, lease); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, kulterr.Wrap(kulterr.TransientAPIError, component, "create lease", err)
	}
	return true, nil
}

func (g *Gate) claim(ctx context.Context, lease *coordinationv1.Lease, now time.Time) (bool, error) {
	patch := client.MergeFrom(lease.DeepCopy())
	holder := g.Identity
	t := metav1.NewMicroTime(now)
	lease.Spec.HolderIdentity = &holder
	lease.Spec.RenewTime = &t
	if err := g.Client.Patch(ctx, lease, patch); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, kulterr.Wrap(kulterr.TransientAPIError, component, "claim lease", err)
	}
	return true, nil
}

func (g *Gate) renew(ctx context.Context, lease *coordinationv1.Lease, now time.Time) (bool, error) {
	patch := client.MergeFrom(lease.DeepCopy())
	t := metav1.NewMicroTime(now)
	lease.Spec.RenewTime = &t
	if err := g.Client.Patch(ctx, lease, patch); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, kulterr.Wrap(kulterr.TransientAPIError, component, "renew lease", err)
	}
	return true, nil
}
