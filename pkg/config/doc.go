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

// Package config loads the controller's environment-driven bootstrap
// configuration (§6 "Environment"): log level, leader-election toggle,
// the metrics backend URL, the event sink URL and enable flag, the
// occurrence directory, and pod identity. Every field has a default;
// Load only fails on a malformed value, never on an absent one.
package config
