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

// Package logging defines the verbosity levels used with logr's V(n) leveled
// logging across the controller. Levels increase in verbosity.
package logging

const (
	// INFO is the default level; always printed.
	INFO = 0
	// DEBUG is extra detail useful when diagnosing a single rollout.
	DEBUG = 1
	// VERBOSE is per-candidate / per-iteration detail, noisy under normal operation.
	VERBOSE = 2
)
