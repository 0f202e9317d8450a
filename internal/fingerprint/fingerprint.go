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

// Package fingerprint computes the stable pod-template fingerprint used to
// name and select owned ReplicaSets (§4.2, §3 invariants).
package fingerprint

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	corev1 "k8s.io/api/core/v1"
)

// Compute returns the 6-hex-digit FNV-1a-32 fingerprint of tmpl's canonical
// byte serialization. It is stable across runs and process restarts: equal
// templates (including re-ordered map keys) always hash to the same value,
// and the hash changes iff the canonical bytes change.
func Compute(tmpl corev1.PodTemplateSpec) string {
	h := fnv.New32a()
	_, _ = h.Write(canonicalBytes(tmpl))
	return fmt.Sprintf("%06x", h.Sum32()&0xFFFFFF)
}

// canonicalBytes renders tmpl into a byte sequence that depends only on its
// semantic content: the template is round-tripped through a generic
// map[string]any so that struct field order never affects the hash, then
// re-marshalled with recursively sorted keys.
func canonicalBytes(tmpl corev1.PodTemplateSpec) []byte {
	raw, err := json.Marshal(tmpl)
	if err != nil {
		// PodTemplateSpec always marshals; this is unreachable in practice.
		return nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}

	var buf []byte
	buf = appendCanonical(buf, generic)
	return buf
}

// appendCanonical appends a canonical encoding of v to buf: object keys are
// visited in sorted order and arrays preserve their original order (order is
// semantically meaningful for container lists, env vars, etc).
func appendCanonical(buf []byte, v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, '"')
			buf = append(buf, k...)
			buf = append(buf, '"', ':')
			buf = appendCanonical(buf, val[k])
		}
		buf = append(buf, '}')
	case []any:
		buf = append(buf, '[')
		for i, e := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, e)
		}
		buf = append(buf, ']')
	default:
		// Numbers, strings, bools, null: json.Marshal already gives a
		// stable, canonical scalar encoding.
		enc, err := json.Marshal(val)
		if err != nil {
			return buf
		}
		buf = append(buf, enc...)
	}
	return buf
}
