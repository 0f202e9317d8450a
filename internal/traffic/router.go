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

// Package traffic implements the Traffic Router (§4.6): idempotent
// merge-patch of a Gateway API HTTPRoute's backend weights and match rules.
// The HTTPRoute is never owned by the Rollout; the router only patches the
// backend refs and match rules it is configured to manage.
package traffic

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	kultav1alpha1 "github.com/false-systems/kulta/api/v1alpha1"
	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/logging"
)

const component = "traffic.Router"

// Router patches designated HTTPRoute objects to the weight split or
// header/cookie match rules a strategy currently requires.
type Router struct {
	Client client.Client
}

// Split is one named backend and the traffic weight it should receive.
type Split struct {
	ServiceName string
	Port        int32
	Weight      int32
}

// SetWeights converges the single managed rule of the named HTTPRoute to the
// two-way weighted split splits (canary: stable/canary, blue-green:
// active/preview). It is a no-op if the observed rule already matches, and
// also a no-op (returning nil) when routing or routing.GatewayAPI is nil.
func (r *Router) SetWeights(ctx context.Context, namespace string, routing *kultav1alpha1.TrafficRouting, splits []Split) error {
	if routing == nil || routing.GatewayAPI == nil {
		return nil
	}
	logger := ctrl.LoggerFrom(ctx)

	route, err := r.get(ctx, namespace, routing.GatewayAPI.HTTPRoute)
	if err != nil {
		return err
	}

	desired := make([]gatewayv1.HTTPBackendRef, 0, len(splits))
	for _, s := range splits {
		desired = append(desired, backendRef(s.ServiceName, s.Port, s.Weight))
	}

	if len(route.Spec.Rules) == 1 && backendRefsEqual(route.Spec.Rules[0].BackendRefs, desired) {
		return nil
	}

	patch := client.MergeFrom(route.DeepCopy())
	route.Spec.Rules = []gatewayv1.HTTPRouteRule{{BackendRefs: desired}}
	if err := r.Client.Patch(ctx, route, patch); err != nil {
		return kulterr.Wrap(kulterr.TransientAPIError, component, "patch httproute weights", err)
	}
	logger.V(logging.DEBUG).Info("patched httproute weights", "httproute", routing.GatewayAPI.HTTPRoute, "splits", splits)
	return nil
}

// SetABRules converges the named HTTPRoute to two rules: a matched rule
// (header or cookie equality) pointing to variantB, evaluated first per the
// resolved ordering rule (matched rule first, default rule last), and a
// default (unconditional) rule pointing to variantA.
func (r *Router) SetABRules(ctx context.Context, namespace string, routing *kultav1alpha1.TrafficRouting, match kultav1alpha1.VariantBMatch, variantA, variantB Split) error {
	if routing == nil || routing.GatewayAPI == nil {
		return nil
	}
	logger := ctrl.LoggerFrom(ctx)

	route, err := r.get(ctx, namespace, routing.GatewayAPI.HTTPRoute)
	if err != nil {
		return err
	}

	matchedRule := gatewayv1.HTTPRouteRule{
		Matches:     []gatewayv1.HTTPRouteMatch{headerOrCookieMatch(match)},
		BackendRefs: []gatewayv1.HTTPBackendRef{backendRef(variantB.ServiceName, variantB.Port, 100)},
	}
	defaultRule := gatewayv1.HTTPRouteRule{
		BackendRefs: []gatewayv1.HTTPBackendRef{backendRef(variantA.ServiceName, variantA.Port, 100)},
	}
	desired := []gatewayv1.HTTPRouteRule{matchedRule, defaultRule}

	if rulesEqual(route.Spec.Rules, desired) {
		return nil
	}

	patch := client.MergeFrom(route.DeepCopy())
	route.Spec.Rules = desired
	if err := r.Client.Patch(ctx, route, patch); err != nil {
		return kulterr.Wrap(kulterr.TransientAPIError, component, "patch httproute ab rules", err)
	}
	logger.V(logging.DEBUG).Info("patched httproute ab rules", "httproute", routing.GatewayAPI.HTTPRoute)
	return nil
}

func (r *Router) get(ctx context.Context, namespace, name string) (*gatewayv1.HTTPRoute, error) {
	var route gatewayv1.HTTPRoute
	if err := r.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &route); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, kulterr.Wrap(kulterr.NotFound, component, fmt.Sprintf("httproute %s/%s", namespace, name), err)
		}
		return nil, kulterr.Wrap(kulterr.TransientAPIError, component, "get httproute", err)
	}
	return &route, nil
}

func backendRef(service string, port int32, weight int32) gatewayv1.HTTPBackendRef {
	name := gatewayv1.ObjectName(service)
	p := gatewayv1.PortNumber(port)
	w := weight
	return gatewayv1.HTTPBackendRef{
		BackendRef: gatewayv1.BackendRef{
			BackendObjectReference: gatewayv1.BackendObjectReference{
				Name: name,
				Port: &p,
			},
			Weight: &w,
		},
	}
}

// headerOrCookieMatch builds the HTTPRouteMatch for a VariantBMatch. Cookie
// matching has no first-class field in the Gateway API; it is expressed as a
// regular-expression match against the Cookie header, the documented
// workaround for cookie-based routing.
func headerOrCookieMatch(m kultav1alpha1.VariantBMatch) gatewayv1.HTTPRouteMatch {
	exact := gatewayv1.HeaderMatchExact
	if m.HeaderName != "" {
		return gatewayv1.HTTPRouteMatch{
			Headers: []gatewayv1.HTTPHeaderMatch{{
				Type:  &exact,
				Name:  gatewayv1.HTTPHeaderName(m.HeaderName),
				Value: m.Value,
			}},
		}
	}
	regex := gatewayv1.HeaderMatchRegularExpression
	pattern := fmt.Sprintf("(^|;\\s*)%s=%s(;|$)", m.CookieName, m.Value)
	return gatewayv1.HTTPRouteMatch{
		Headers: []gatewayv1.HTTPHeaderMatch{{
			Type:  &regex,
			Name:  "Cookie",
			Value: pattern,
		}},
	}
}

func backendRefsEqual(a, b []gatewayv1.HTTPBackendRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		an, bn := a[i].Name, b[i].Name
		if an != bn {
			return false
		}
		if (a[i].Port == nil) != (b[i].Port == nil) {
			return false
		}
		if a[i].Port != nil && *a[i].Port != *b[i].Port {
			return false
		}
		if (a[i].Weight == nil) != (b[i].Weight == nil) {
			return false
		}
		if a[i].Weight != nil && *a[i].Weight != *b[i].Weight {
			return false
		}
	}
	return true
}

func matchesEqual(a, b []gatewayv1.HTTPRouteMatch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i].Headers) != len(b[i].Headers) {
			return false
		}
		for j := range a[i].Headers {
			if a[i].Headers[j].Name != b[i].Headers[j].Name || a[i].Headers[j].Value != b[i].Headers[j].Value {
				return false
			}
		}
	}
	return true
}

func rulesEqual(a, b []gatewayv1.HTTPRouteRule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !matchesEqual(a[i].Matches, b[i].Matches) {
			return false
		}
		if !backendRefsEqual(a[i].BackendRefs, b[i].BackendRefs) {
			return false
		}
	}
	return true
}
