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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/slack-go/slack"
)

type fakeSecretGetter map[string]string

func (f fakeSecretGetter) GetSecret(_ context.Context, name string) (string, error) {
	s, ok := f[name]
	if !ok {
		return "", fmt.Errorf("no secret %q", name)
	}
	return s, nil
}

func TestSetUpNotifier(t *testing.T) {
	delivery := map[string]interface{}{
		"webhookUrl": map[interface{}]interface{}{"secretRef": "slack-webhook"},
	}
	secrets := []*Secret{{LocalName: "slack-webhook", ResourceName: "projects/p/secrets/slack/versions/latest"}}

	for _, tc := range []struct {
		name     string
		spec     *Spec
		sg       SecretGetter
		wantNil  bool
		wantErr  bool
		wantHook string
	}{{
		name:    "no notification",
		spec:    &Spec{},
		wantNil: true,
	}, {
		name:     "webhook from secret",
		spec:     &Spec{Notification: &Notification{Delivery: delivery}, Secrets: secrets},
		sg:       fakeSecretGetter{"projects/p/secrets/slack/versions/latest": "https://hooks.example.com/x\n"},
		wantHook: "https://hooks.example.com/x",
	}, {
		name:    "unknown secret ref",
		spec:    &Spec{Notification: &Notification{Delivery: delivery}},
		sg:      fakeSecretGetter{},
		wantErr: true,
	}, {
		name:    "secret manager failure",
		spec:    &Spec{Notification: &Notification{Delivery: delivery}, Secrets: secrets},
		sg:      fakeSecretGetter{},
		wantErr: true,
	}, {
		name:    "missing webhookUrl",
		spec:    &Spec{Notification: &Notification{Delivery: map[string]interface{}{"channel": "#data"}}},
		sg:      fakeSecretGetter{},
		wantErr: true,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			n, err := SetUpNotifier(context.Background(), &Config{Spec: tc.spec}, tc.sg)
			if err != nil {
				if tc.wantErr {
					t.Logf("got expected error: %v", err)
					return
				}
				t.Fatalf("SetUpNotifier got unexpected error: %v", err)
			}
			if tc.wantErr {
				t.Fatal("unexpected success")
			}
			if tc.wantNil {
				if n != nil {
					t.Errorf("SetUpNotifier = %v, want nil", n)
				}
				return
			}
			if got := n.(*SlackNotifier).webhookURL; got != tc.wantHook {
				t.Errorf("webhook URL = %q, want %q", got, tc.wantHook)
			}
		})
	}
}

func TestSlackNotify(t *testing.T) {
	var got slack.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	outcomes := []*Outcome{
		{Table: "bronze_dataset.patients_ha", Status: StatusCreated},
		{Table: "bronze_dataset.providers_ha", Status: StatusExists},
		{Table: "bronze_dataset.patients_hb", Status: StatusFailed, Err: fmt.Errorf("%w: bad bucket", ErrInvalidLocation)},
	}
	n := &SlackNotifier{webhookURL: srv.URL}
	if err := n.Notify(context.Background(), outcomes); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(got.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(got.Attachments))
	}
	a := got.Attachments[0]
	if a.Color != "danger" {
		t.Errorf("attachment color = %q, want %q", a.Color, "danger")
	}
	if want := "1 created, 1 already registered, 0 skipped, 1 failed"; a.Title != want {
		t.Errorf("attachment title = %q, want %q", a.Title, want)
	}
	if !strings.Contains(a.Text, "bronze_dataset.patients_hb") {
		t.Errorf("attachment text %q does not name the failed table", a.Text)
	}
}

func TestSlackNotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := &SlackNotifier{webhookURL: srv.URL}
	if err := n.Notify(context.Background(), nil); err == nil {
		t.Fatal("Notify succeeded unexpectedly")
	}
}
