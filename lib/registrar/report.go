// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registrar

import (
	"context"
	"fmt"
	"strings"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/slack-go/slack"
)

const webhookURLSecretName = "webhookUrl"

// Metrics counts registration outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	registrations *prometheus.CounterVec
}

// NewMetrics creates the registration counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "external_table_registrations_total",
			Help: "External table registrations by source system and outcome status.",
		}, []string{"source_system", "status"}),
	}
	reg.MustRegister(m.registrations)
	return m
}

func (m *Metrics) observe(o *Outcome) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(o.Descriptor.SourceSystem, string(o.Status)).Inc()
}

// Notifier delivers a summary of a batch of outcomes.
type Notifier interface {
	Notify(ctx context.Context, outcomes []*Outcome) error
}

// SlackNotifier posts batch summaries to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// SetUpNotifier returns the Notifier configured in cfg, or nil if none is configured.
func SetUpNotifier(ctx context.Context, cfg *Config, sg SecretGetter) (Notifier, error) {
	if cfg.Spec.Notification == nil || len(cfg.Spec.Notification.Delivery) == 0 {
		return nil, nil
	}
	wuRef, err := GetSecretRef(cfg.Spec.Notification.Delivery, webhookURLSecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to get Secret ref from delivery config (%v) field %q: %w", cfg.Spec.Notification.Delivery, webhookURLSecretName, err)
	}
	wuResource, err := FindSecretResourceName(cfg.Spec.Secrets, wuRef)
	if err != nil {
		return nil, fmt.Errorf("failed to find Secret for ref %q: %w", wuRef, err)
	}
	wu, err := sg.GetSecret(ctx, wuResource)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook URL secret: %w", err)
	}
	return &SlackNotifier{webhookURL: strings.TrimSpace(wu)}, nil
}

func (s *SlackNotifier) Notify(ctx context.Context, outcomes []*Outcome) error {
	log.V(2).Infof("sending Slack summary for %d outcomes", len(outcomes))
	if err := slack.PostWebhookContext(ctx, s.webhookURL, summaryMessage(outcomes)); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}
	return nil
}

func summaryMessage(outcomes []*Outcome) *slack.WebhookMessage {
	counts := map[Status]int{}
	var failed []string
	for _, o := range outcomes {
		counts[o.Status]++
		if o.Status == StatusFailed {
			failed = append(failed, fmt.Sprintf("• `%s`: %v", o.Table, o.Err))
		}
	}

	color := "good"
	if len(failed) > 0 {
		color = "danger"
	}
	text := fmt.Sprintf("%d created, %d already registered, %d skipped, %d failed",
		counts[StatusCreated], counts[StatusExists], counts[StatusSkipped], counts[StatusFailed])

	return &slack.WebhookMessage{
		Text: "External table registration finished",
		Attachments: []slack.Attachment{{
			Color:  color,
			Title:  text,
			Text:   strings.Join(failed, "\n"),
			Footer: "external-table-registrar",
		}},
	}
}
