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

// Package occurrence implements the Occurrence Writer (§4.10): one
// AIOps-style record per phase transition, persisted as a ULID-named file in
// a configured directory.
package occurrence

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/false-systems/kulta/internal/clock"
	"github.com/false-systems/kulta/internal/kulterr"
)

// Error is the error block of a Record; Kind and Message are empty on success.
type Error struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Reasoning carries the inputs and threshold values that drove the decision.
type Reasoning struct {
	Inputs map[string]interface{} `json:"inputs,omitempty"`
}

// HistoryEntry is one prior transition, for the History block.
type HistoryEntry struct {
	TransitionTag string    `json:"transitionTag"`
	Timestamp     time.Time `json:"timestamp"`
}

// Record is one persisted occurrence.
type Record struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	RolloutName        string         `json:"rolloutName"`
	RolloutNamespace   string         `json:"rolloutNamespace"`
	TransitionTag      string         `json:"transitionTag"`
	ObservedGeneration int64          `json:"observedGeneration"`
	Timestamp          time.Time      `json:"timestamp"`
	Error              Error          `json:"error"`
	Reasoning          Reasoning      `json:"reasoning"`
	History            []HistoryEntry `json:"history"`
}

// Writer persists Records to Dir, one file per occurrence named by ULID, and
// keeps an in-memory History ring per rollout for the last three transitions.
type Writer struct {
	Dir   string
	Clock clock.Clock

	mu      sync.Mutex
	history map[string][]HistoryEntry // keyed by namespace/name
	entropy *ulid.MonotonicEntropy
}

// NewWriter constructs a Writer rooted at dir.
func NewWriter(dir string, c clock.Clock) *Writer {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Writer{
		Dir:     dir,
		Clock:   c,
		history: make(map[string][]HistoryEntry),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(c.Now().UnixNano())), 0),
	}
}

// Write persists a Record for the given transition. Write failures are
// logged and never returned: per §4.10 "write failures are logged; they
// never block reconciliation."
func (w *Writer) Write(ctx context.Context, rolloutNamespace, rolloutName, occurrenceType, transitionTag string, observedGeneration int64, cause error, inputs map[string]interface{}) {
	logger := ctrl.LoggerFrom(ctx)

	now := w.Clock.Now()
	key := rolloutNamespace + "/" + rolloutName

	w.mu.Lock()
	history := append([]HistoryEntry(nil), w.history[key]...)
	w.history[key] = append(w.history[key], HistoryEntry{TransitionTag: transitionTag, Timestamp: now})
	if len(w.history[key]) > 3 {
		w.history[key] = w.history[key][len(w.history[key])-3:]
	}
	id := ulid.MustNew(ulid.Timestamp(now), w.entropy)
	w.mu.Unlock()

	rec := Record{
		ID:                 id.String(),
		Type:               occurrenceType,
		RolloutName:        rolloutName,
		RolloutNamespace:   rolloutNamespace,
		TransitionTag:      transitionTag,
		ObservedGeneration: observedGeneration,
		Timestamp:          now,
		Reasoning:          Reasoning{Inputs: inputs},
		History:            lastThree(history),
	}
	if cause != nil {
		rec.Error = Error{Kind: kindOf(cause), Message: cause.Error()}
	}

	if err := w.writeFile(rec); err != nil {
		logger.Error(err, "write occurrence record", "id", rec.ID, "type", occurrenceType)
	}
}

func lastThree(h []HistoryEntry) []HistoryEntry {
	if len(h) <= 3 {
		return h
	}
	return h[len(h)-3:]
}

func kindOf(err error) string {
	if k, ok := kulterr.KindOf(err); ok {
		return k.Error()
	}
	return "unknown"
}

func (w *Writer) writeFile(rec Record) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(w.Dir, rec.ID+".json")
	return os.WriteFile(path, body, 0o644)
}
