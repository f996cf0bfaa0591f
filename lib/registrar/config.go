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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"cloud.google.com/go/storage"
	log "github.com/golang/glog"
	"gopkg.in/yaml.v2"
)

const (
	// APIVersion is the only accepted value of a Config's apiVersion field.
	APIVersion = "external-tables/v1alpha1"

	defaultLandingPrefix = "landing"
	secretRef            = "secretRef"
)

// Config is the (YAML-based) catalog configuration.
type Config struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Metadata   *Metadata `yaml:"metadata"`
	Spec       *Spec     `yaml:"spec"`
}

// Metadata is a KRD-compliant data container used for metadata references.
type Metadata struct {
	Name string `yaml:"name"`
}

// Spec holds the target catalog namespace and the datasets to register in it.
type Spec struct {
	Project       string              `yaml:"project"`
	Dataset       string              `yaml:"dataset"`
	CreateDataset bool                `yaml:"createDataset"`
	Parallelism   int                 `yaml:"parallelism"`
	Filter        string              `yaml:"filter"`
	Bucket        string              `yaml:"bucket"`
	Sources       []*Source           `yaml:"sources"`
	Descriptors   []*DescriptorConfig `yaml:"descriptors"`
	Notification  *Notification       `yaml:"notification"`
	Secrets       []*Secret           `yaml:"secrets"`
}

// Source is a source system whose entities all land under the same bucket layout:
// gs://<bucket>/<landingPrefix>/<name>/<entity>/*.<ext>.
type Source struct {
	Name          string   `yaml:"name"`
	Abbreviation  string   `yaml:"abbreviation"`
	Format        string   `yaml:"format"`
	LandingPrefix string   `yaml:"landingPrefix"`
	Entities      []string `yaml:"entities"`
}

// DescriptorConfig is an explicitly configured descriptor.
type DescriptorConfig struct {
	SourceSystem    string `yaml:"sourceSystem"`
	EntityName      string `yaml:"entityName"`
	Format          string `yaml:"format"`
	LocationPattern string `yaml:"locationPattern"`
	Abbreviation    string `yaml:"abbreviation"`
}

// Notification configures where batch summaries are delivered.
type Notification struct {
	Delivery map[string]interface{} `yaml:"delivery"`
}

// Secret is a data container matching the local name of a secret to its GCP SecretManager resource name.
type Secret struct {
	LocalName    string `yaml:"name"`
	ResourceName string `yaml:"value"`
}

// Name returns the config's metadata name, if any.
func (c *Config) Name() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.Name
}

// Descriptors expands the configured sources and explicit descriptors, in that order.
func (c *Config) Descriptors() []DatasetDescriptor {
	var ret []DatasetDescriptor
	for _, s := range c.Spec.Sources {
		prefix := strings.Trim(s.LandingPrefix, "/")
		if prefix == "" {
			prefix = defaultLandingPrefix
		}
		f := ParseFormat(s.Format)
		for _, e := range s.Entities {
			ret = append(ret, DatasetDescriptor{
				SourceSystem:    s.Name,
				EntityName:      e,
				Format:          f,
				LocationPattern: fmt.Sprintf("gs://%s/%s/%s/%s/*.%s", c.Spec.Bucket, prefix, s.Name, e, f.Extension()),
				Abbreviation:    s.Abbreviation,
				ProjectID:       c.Spec.Project,
				DatasetID:       c.Spec.Dataset,
			})
		}
	}
	for _, d := range c.Spec.Descriptors {
		ret = append(ret, DatasetDescriptor{
			SourceSystem:    d.SourceSystem,
			EntityName:      d.EntityName,
			Format:          ParseFormat(d.Format),
			LocationPattern: d.LocationPattern,
			Abbreviation:    d.Abbreviation,
			ProjectID:       c.Spec.Project,
			DatasetID:       c.Spec.Dataset,
		})
	}
	return ret
}

// ReaderFactory opens objects in Cloud Storage.
type ReaderFactory interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSReaderFactory is a ReaderFactory backed by a storage client.
type GCSReaderFactory struct {
	Client *storage.Client
}

func (a *GCSReaderFactory) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return a.Client.Bucket(bucket).Object(object).NewReader(ctx)
}

// LoadConfig reads the Config at path: `gs://bucket/object` through rf, anything else from the local filesystem.
func LoadConfig(ctx context.Context, rf ReaderFactory, path string) (*Config, error) {
	var r io.ReadCloser
	if trm := strings.TrimPrefix(path, "gs://"); trm != path {
		split := strings.SplitN(trm, "/", 2)
		log.V(2).Infof("got path split: %+v", split)
		if len(split) != 2 || split[1] == "" {
			return nil, fmt.Errorf("path has incorrect format (expected form: `gs://bucket/path/to/object`): %q", path)
		}
		if rf == nil {
			return nil, errors.New("a storage reader is required for `gs://` config paths")
		}
		bucket, object := split[0], split[1]
		gr, err := rf.NewReader(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("failed to get reader for (bucket=%q, object=%q): %w", bucket, object, err)
		}
		r = gr
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		r = f
	}
	defer r.Close()

	cfg, err := ParseConfig(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration from YAML at %q: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a Config. Unknown fields are rejected.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := new(Config)
	dcd := yaml.NewDecoder(r)
	dcd.SetStrict(true)
	if err := dcd.Decode(cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.APIVersion != APIVersion {
		return fmt.Errorf("expected `apiVersion` %q, got %q", APIVersion, cfg.APIVersion)
	}
	if cfg.Spec == nil {
		return errors.New("expected config to have a `spec`")
	}
	if cfg.Spec.Dataset == "" {
		return errors.New("expected `spec.dataset` to be non-empty")
	}
	if len(cfg.Spec.Sources) > 0 && cfg.Spec.Bucket == "" {
		return errors.New("expected `spec.bucket` to be non-empty when `spec.sources` are configured")
	}
	for _, s := range cfg.Spec.Sources {
		if s.Name == "" {
			return errors.New("expected every source to have a `name`")
		}
	}
	if cfg.Spec.Parallelism < 0 {
		return fmt.Errorf("expected `spec.parallelism` to be non-negative, got %d", cfg.Spec.Parallelism)
	}
	return nil
}

// GetEnv fetches, logs, and returns the given environment variable. The returned boolean is true iff the value is non-empty.
func GetEnv(name string) (string, bool) {
	val := os.Getenv(name)
	if val == "" {
		log.Warningf("env var %q is empty", name)
	} else {
		log.V(2).Infof("env var %q is %q", name, val)
	}
	return val, val != ""
}

// SecretGetter allows for fetching secrets from some key store.
type SecretGetter interface {
	GetSecret(context.Context, string) (string, error)
}

// SecretManager is a SecretGetter backed by GCP Secret Manager.
type SecretManager struct {
	Client *secretmanager.Client
}

func (a *SecretManager) GetSecret(ctx context.Context, name string) (string, error) {
	res, err := a.Client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to get secret named %q: %w", name, err)
	}

	return string(res.GetPayload().GetData()), nil
}

// GetSecretRef is a helper function for getting a Secret's local reference name from the given delivery config.
func GetSecretRef(config map[string]interface{}, fieldName string) (string, error) {
	field, ok := config[fieldName]
	if !ok {
		return "", fmt.Errorf("field name %q not present in notification config %v", fieldName, config)
	}
	m, ok := field.(map[interface{}]interface{})
	if !ok {
		return "", fmt.Errorf("expected secret field %q to be a map[interface{}]interface{} object", fieldName)
	}
	ref, ok := m[secretRef]
	if !ok {
		return "", fmt.Errorf("expected field %q to be of the form `secretRef: <some-ref>`", fieldName)
	}
	sRef, ok := ref.(string)
	if !ok {
		return "", fmt.Errorf("expected field %q of parent %q to have a string value", secretRef, fieldName)
	}

	return sRef, nil
}

// FindSecretResourceName returns the Secret's resource name that is associated with the given local reference name.
func FindSecretResourceName(secrets []*Secret, ref string) (string, error) {
	for _, s := range secrets {
		if s.LocalName == ref {
			return s.ResourceName, nil
		}
	}
	return "", fmt.Errorf("failed to find Secret with reference name %q in the given secret list", ref)
}
