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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeGCSReaderFactory struct {
	// A mapping of "gs://"+bucket+"/"+object -> content.
	data map[string]string
}

func (f *fakeGCSReaderFactory) NewReader(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	s, ok := f.data["gs://"+bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("no data for bucket=%q object=%q", bucket, object)
	}

	return io.NopCloser(bytes.NewBufferString(s)), nil
}

const validConfigYAML = `
apiVersion: external-tables/v1alpha1
kind: ExternalTableCatalog
metadata:
  name: bronze-hospitals
spec:
  dataset: bronze_dataset
  parallelism: 2
  filter: descriptor.source_system == "hospital-a"
  bucket: bucket_202507
  sources:
    - name: hospital-a
      format: json
      entities: [departments, patients]
    - name: hospital-b
      abbreviation: hb
      format: CSV
      landingPrefix: /raw/
      entities: [patients]
  descriptors:
    - sourceSystem: claims
      entityName: payers
      format: PARQUET
      locationPattern: gs://claims-bucket/payers/*.parquet
  notification:
    delivery:
      webhookUrl:
        secretRef: slack-webhook
  secrets:
    - name: slack-webhook
      value: projects/my-project/secrets/slack/versions/latest
`

var validConfig = &Config{
	APIVersion: APIVersion,
	Kind:       "ExternalTableCatalog",
	Metadata:   &Metadata{Name: "bronze-hospitals"},
	Spec: &Spec{
		Dataset:     "bronze_dataset",
		Parallelism: 2,
		Filter:      `descriptor.source_system == "hospital-a"`,
		Bucket:      "bucket_202507",
		Sources: []*Source{{
			Name:     "hospital-a",
			Format:   "json",
			Entities: []string{"departments", "patients"},
		}, {
			Name:          "hospital-b",
			Abbreviation:  "hb",
			Format:        "CSV",
			LandingPrefix: "/raw/",
			Entities:      []string{"patients"},
		}},
		Descriptors: []*DescriptorConfig{{
			SourceSystem:    "claims",
			EntityName:      "payers",
			Format:          "PARQUET",
			LocationPattern: "gs://claims-bucket/payers/*.parquet",
		}},
		Notification: &Notification{
			Delivery: map[string]interface{}{
				"webhookUrl": map[interface{}]interface{}{"secretRef": "slack-webhook"},
			},
		},
		Secrets: []*Secret{{
			LocalName:    "slack-webhook",
			ResourceName: "projects/my-project/secrets/slack/versions/latest",
		}},
	},
}

func TestLoadConfig(t *testing.T) {
	local := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(local, []byte(validConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := &fakeGCSReaderFactory{
		data: map[string]string{
			"gs://path/to/my/catalog.yaml": validConfigYAML,
			"gs://path/to/bad.yaml":        `blahBADdata`,
			"gs://path/to/unknown.yaml":    validConfigYAML + "  extraField: true\n",
		},
	}

	for _, tc := range []struct {
		name       string
		path       string
		rf         ReaderFactory
		wantError  bool
		wantConfig *Config
	}{
		{
			name:       "valid gcs config",
			path:       "gs://path/to/my/catalog.yaml",
			rf:         fake,
			wantConfig: validConfig,
		}, {
			name:       "valid local config",
			path:       local,
			wantConfig: validConfig,
		}, {
			name:      "missing gcs object",
			path:      "gs://path/to/nowhere.yaml",
			rf:        fake,
			wantError: true,
		}, {
			name:      "bucket only",
			path:      "gs://path",
			rf:        fake,
			wantError: true,
		}, {
			name:      "gcs path without reader",
			path:      "gs://path/to/my/catalog.yaml",
			wantError: true,
		}, {
			name:      "bad yaml",
			path:      "gs://path/to/bad.yaml",
			rf:        fake,
			wantError: true,
		}, {
			name:      "unknown field",
			path:      "gs://path/to/unknown.yaml",
			rf:        fake,
			wantError: true,
		}, {
			name:      "missing local file",
			path:      filepath.Join(t.TempDir(), "nope.yaml"),
			wantError: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gotConfig, err := LoadConfig(context.Background(), tc.rf, tc.path)
			if err != nil {
				if tc.wantError {
					t.Logf("got expected error: %v", err)
					return
				}
				t.Fatalf("LoadConfig(%q) failed: %v", tc.path, err)
			}

			if tc.wantError {
				t.Fatalf("LoadConfig(%q) succeeded unexpectedly", tc.path)
			}

			if diff := cmp.Diff(tc.wantConfig, gotConfig); diff != "" {
				t.Fatalf("LoadConfig(%q) produced unexpected Config diff: (want- got+)\n%s", tc.path, diff)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	for _, tc := range []struct {
		name    string
		yaml    string
		wantErr bool
	}{{
		name: "minimal",
		yaml: "apiVersion: external-tables/v1alpha1\nspec:\n  dataset: bronze_dataset\n",
	}, {
		name:    "bad apiVersion",
		yaml:    "apiVersion: external-tables/v1\nspec:\n  dataset: bronze_dataset\n",
		wantErr: true,
	}, {
		name:    "no spec",
		yaml:    "apiVersion: external-tables/v1alpha1\n",
		wantErr: true,
	}, {
		name:    "no dataset",
		yaml:    "apiVersion: external-tables/v1alpha1\nspec:\n  bucket: b\n",
		wantErr: true,
	}, {
		name:    "sources without bucket",
		yaml:    "apiVersion: external-tables/v1alpha1\nspec:\n  dataset: d\n  sources:\n    - name: hospital-a\n",
		wantErr: true,
	}, {
		name:    "unnamed source",
		yaml:    "apiVersion: external-tables/v1alpha1\nspec:\n  dataset: d\n  bucket: b\n  sources:\n    - format: JSON\n",
		wantErr: true,
	}, {
		name:    "negative parallelism",
		yaml:    "apiVersion: external-tables/v1alpha1\nspec:\n  dataset: d\n  parallelism: -1\n",
		wantErr: true,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(tc.yaml))
			if err != nil {
				if !tc.wantErr {
					t.Fatalf("ParseConfig got unexpected error: %v", err)
				}
				t.Logf("got expected error: %v", err)
				return
			}
			if tc.wantErr {
				t.Fatal("ParseConfig unexpectedly succeeded")
			}
		})
	}
}

func TestDescriptors(t *testing.T) {
	want := []DatasetDescriptor{{
		SourceSystem:    "hospital-a",
		EntityName:      "departments",
		Format:          JSON,
		LocationPattern: "gs://bucket_202507/landing/hospital-a/departments/*.json",
		DatasetID:       "bronze_dataset",
	}, {
		SourceSystem:    "hospital-a",
		EntityName:      "patients",
		Format:          JSON,
		LocationPattern: "gs://bucket_202507/landing/hospital-a/patients/*.json",
		DatasetID:       "bronze_dataset",
	}, {
		SourceSystem:    "hospital-b",
		EntityName:      "patients",
		Format:          CSV,
		LocationPattern: "gs://bucket_202507/raw/hospital-b/patients/*.csv",
		Abbreviation:    "hb",
		DatasetID:       "bronze_dataset",
	}, {
		SourceSystem:    "claims",
		EntityName:      "payers",
		Format:          Parquet,
		LocationPattern: "gs://claims-bucket/payers/*.parquet",
		DatasetID:       "bronze_dataset",
	}}
	got := validConfig.Descriptors()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Descriptors() produced unexpected diff (want- got+):\n%s", diff)
	}

	var names []string
	for _, d := range got {
		names = append(names, d.QualifiedTableName())
	}
	wantNames := []string{
		"bronze_dataset.departments_ha",
		"bronze_dataset.patients_ha",
		"bronze_dataset.patients_hb",
		"bronze_dataset.payers_c",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("unexpected table names (want- got+):\n%s", diff)
	}
}

func TestGetSecretRef(t *testing.T) {
	for _, tc := range []struct {
		name      string
		parent    map[string]interface{}
		fieldName string
		wantRef   string
		wantErr   bool
	}{
		{
			name: "happy path",
			parent: map[string]interface{}{
				"webhookUrl": map[interface{}]interface{}{
					string(secretRef): string("bar"),
				},
			},
			fieldName: "webhookUrl",
			wantRef:   "bar",
		}, {
			name: "bad field name",
			parent: map[string]interface{}{
				"webhookUrl": map[interface{}]interface{}{
					string(secretRef): string("bar"),
				},
			},
			fieldName: "otherSecret",
			wantErr:   true,
		}, {
			name: "value is not a map",
			parent: map[string]interface{}{
				"webhookUrl": 404,
			},
			fieldName: "webhookUrl",
			wantErr:   true,
		}, {
			name: "not secret ref subfield",
			parent: map[string]interface{}{
				"webhookUrl": map[interface{}]interface{}{
					string("blah"): string("blah"),
				},
			},
			fieldName: "webhookUrl",
			wantErr:   true,
		}, {
			name: "secret ref is not a string",
			parent: map[string]interface{}{
				"webhookUrl": map[interface{}]interface{}{
					string(secretRef): map[interface{}]interface{}{"foo": "bar"},
				},
			},
			fieldName: "webhookUrl",
			wantErr:   true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gotRef, err := GetSecretRef(tc.parent, tc.fieldName)
			if err != nil {
				if tc.wantErr {
					t.Logf("got expected error: %v", err)
					return
				}
				t.Fatalf("unexpected error: %v", err)
			}

			if gotRef != tc.wantRef {
				t.Errorf("GetSecretRef returned %q, want %q", gotRef, tc.wantRef)
			}
		})
	}
}

func TestFindSecretResourceName(t *testing.T) {
	secrets := []*Secret{{LocalName: "a", ResourceName: "projects/p/secrets/a/versions/1"}}
	if got, err := FindSecretResourceName(secrets, "a"); err != nil || got != "projects/p/secrets/a/versions/1" {
		t.Errorf("FindSecretResourceName(a) = (%q, %v)", got, err)
	}
	if _, err := FindSecretResourceName(secrets, "b"); err == nil {
		t.Error("FindSecretResourceName(b) succeeded unexpectedly")
	}
}
