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

/*
Package controller implements the Reconcile Loop (§4.1): the orchestrator
that drives one Rollout through validation, strategy dispatch, replica and
traffic reconciliation, health evaluation, status transition, event emission,
and occurrence recording on every tick.

RolloutReconciler composes internal/validation, internal/strategy,
internal/leader, internal/events, and internal/occurrence; it holds no
business logic of its own beyond the ten-step ordering and the requeue-after
policy. Only the leader writes; non-leaders still observe and requeue.
*/
package controller
