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

// Package events implements the EventSink of §4.7: best-effort delivery of
// pipeline-lifecycle events over HTTP, with one retry and an idempotence key
// so the same transition is never delivered twice.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/apimachinery/pkg/types"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/false-systems/kulta/internal/kulterr"
	"github.com/false-systems/kulta/internal/logging"
)

const component = "events.Sink"

// Envelope is the JSON event payload of §6.
type Envelope struct {
	Type    string  `json:"type"`
	Source  string  `json:"source"`
	Subject Subject `json:"subject"`
}

type Subject struct {
	ID      string  `json:"id"`
	Content Content `json:"content"`
}

type Content struct {
	ArtifactID  string      `json:"artifactId"`
	Environment Environment `json:"environment"`
	CustomData  CustomData  `json:"customData"`
}

type Environment struct {
	ID string `json:"id"`
}

type CustomData struct {
	Strategy string   `json:"strategy"`
	Step     *Step    `json:"step,omitempty"`
	Decision Decision `json:"decision"`
}

type Step struct {
	Index        int32 `json:"index"`
	Total        int32 `json:"total"`
	TrafficWeight int32 `json:"trafficWeight"`
}

type Decision struct {
	Reason string `json:"reason"`
}

// Event is the caller-facing description of one lifecycle event; Sink
// renders it into an Envelope and delivers it.
type Event struct {
	RolloutUID         types.UID
	RolloutName        string
	RolloutNamespace   string
	Type               string
	Strategy           string
	Step               *Step
	Reason             string
	ArtifactID         string
	TransitionTag      string
	ObservedGeneration int64
}

func (e Event) idempotenceKey() string {
	return fmt.Sprintf("%s/%s/%d", e.RolloutUID, e.TransitionTag, e.ObservedGeneration)
}

// Sink posts Events to a configured HTTP endpoint. It is safe for
// concurrent use.
type Sink struct {
	URL        string
	Source     string
	HTTPClient *http.Client

	mu   sync.Mutex
	sent map[string]struct{}
}

// NewSink constructs a Sink posting to url, identifying itself as source.
func NewSink(url, source string, client *http.Client) *Sink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sink{
		URL:        url,
		Source:     source,
		HTTPClient: client,
		sent:       make(map[string]struct{}),
	}
}

// Emit delivers evt, skipping delivery if the same idempotence key
// ({rolloutUID, transitionTag, observedGeneration}) was already sent by this
// process. Delivery is best-effort: failures are logged, never returned, per
// §4.7 ("a persistent failure is logged and does not block the reconcile").
func (s *Sink) Emit(ctx context.Context, evt Event) {
	logger := ctrl.LoggerFrom(ctx)
	if s.URL == "" {
		return
	}

	key := evt.idempotenceKey()
	s.mu.Lock()
	if _, ok := s.sent[key]; ok {
		s.mu.Unlock()
		logger.V(logging.VERBOSE).Info("event already delivered for transition", "key", key)
		return
	}
	s.mu.Unlock()

	envelope := toEnvelope(evt, s.Source)
	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Error(err, "marshal event envelope", "type", evt.Type)
		return
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("event sink returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("event sink returned %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	if err := backoff.Retry(op, policy); err != nil {
		wrapped := kulterr.Wrap(kulterr.EventDeliveryError, component, "deliver event", err)
		logger.Error(wrapped, "event delivery failed, giving up", "type", evt.Type, "rollout", evt.RolloutName)
		return
	}

	s.mu.Lock()
	s.sent[key] = struct{}{}
	s.mu.Unlock()
}

func toEnvelope(evt Event, source string) Envelope {
	return Envelope{
		Type:   evt.Type,
		Source: source,
		Subject: Subject{
			ID: fmt.Sprintf("%s/%s", evt.RolloutNamespace, evt.RolloutName),
			Content: Content{
				ArtifactID: evt.ArtifactID,
				Environment: Environment{
					ID: evt.RolloutNamespace,
				},
				CustomData: CustomData{
					Strategy: evt.Strategy,
					Step:     evt.Step,
					Decision: Decision{Reason: evt.Reason},
				},
			},
		},
	}
}
