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

// Command registrar registers the bronze-layer external tables described by a
// catalog config in BigQuery.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/bigquery-external-tables/lib/registrar"
	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const defaultHTTPPort = "8080"

//go:embed bronze.yaml
var defaultCatalog string

// Flags.
var (
	configFlag    = flag.String("config", "", "Catalog config path (local or gs://). Defaults to $CONFIG_PATH, then the built-in bronze catalog.")
	dryRunFlag    = flag.Bool("dry_run", false, "If true, print the equivalent DDL instead of registering tables.")
	watchFlag     = flag.Bool("watch", false, "If true, register tables as objects land, from Cloud Storage notifications on $SUBSCRIBER_ID.")
	smoketestFlag = flag.Bool("smoketest", false, "If true, log the number of configured descriptors and exit.")
)

func main() {
	flag.Parse()
	if err := run(context.Background(), os.Stdout); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run(ctx context.Context, out io.Writer) error {
	var sc *storage.Client
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath, _ = registrar.GetEnv("CONFIG_PATH")
	}
	if strings.HasPrefix(cfgPath, "gs://") {
		var err error
		sc, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create new GCS client: %w", err)
		}
		defer sc.Close()
	}
	cfg, err := loadConfig(ctx, sc, cfgPath)
	if err != nil {
		return err
	}
	log.V(2).Infof("got config: %+v", cfg.Spec)

	descriptors := cfg.Descriptors()
	if *smoketestFlag {
		log.V(0).Infof("registrar smoketest: %d descriptors in %q", len(descriptors), cfg.Name())
		return nil
	}
	if *dryRunFlag {
		return printDDL(out, descriptors)
	}

	projectID := cfg.Spec.Project
	if projectID == "" {
		var ok bool
		if projectID, ok = registrar.GetEnv("PROJECT_ID"); !ok {
			return errors.New("expected `spec.project` or PROJECT_ID to be non-empty")
		}
	}

	catalog, err := registrar.NewBigQueryCatalog(ctx, projectID)
	if err != nil {
		return err
	}
	defer catalog.Close()

	reg := prometheus.NewRegistry()
	r := &registrar.Registrar{
		Catalog:     catalog,
		Metrics:     registrar.NewMetrics(reg),
		Parallelism: cfg.Spec.Parallelism,
	}
	if cfg.Spec.Filter != "" {
		prd, err := registrar.MakeCELPredicate(cfg.Spec.Filter)
		if err != nil {
			return fmt.Errorf("failed to make a CEL predicate: %w", err)
		}
		r.Filter = prd
	}

	if cfg.Spec.CreateDataset {
		if err := r.EnsureDataset(ctx, projectID, cfg.Spec.Dataset); err != nil {
			return fmt.Errorf("failed to ensure dataset %q: %w", cfg.Spec.Dataset, err)
		}
	}

	if *watchFlag {
		return watch(ctx, projectID, r, reg, descriptors)
	}

	outcomes := r.EnsureCatalogBatch(ctx, descriptors)
	for _, o := range outcomes {
		log.Infof("%s: %s", o.Table, o.Status)
	}

	if n, err := setUpNotifier(ctx, cfg); err != nil {
		log.Errorf("failed to set up batch notification: %v", err)
	} else if n != nil {
		if err := n.Notify(ctx, outcomes); err != nil {
			log.Errorf("failed to send batch notification: %v", err)
		}
	}
	if url, ok := os.LookupEnv("PUSHGATEWAY_URL"); ok && url != "" {
		if err := push.New(url, "external_table_registrar").Gatherer(reg).PushContext(ctx); err != nil {
			log.Errorf("failed to push metrics to %q: %v", url, err)
		}
	}

	if failed := registrar.Failed(outcomes); len(failed) > 0 {
		return fmt.Errorf("%d of %d descriptors failed to register", len(failed), len(outcomes))
	}
	return nil
}

// loadConfig reads the config from path, or the built-in catalog (with $BUCKET overriding its bucket) when path is empty.
func loadConfig(ctx context.Context, sc *storage.Client, path string) (*registrar.Config, error) {
	if path != "" {
		var rf registrar.ReaderFactory
		if sc != nil {
			rf = &registrar.GCSReaderFactory{Client: sc}
		}
		cfg, err := registrar.LoadConfig(ctx, rf, path)
		if err != nil {
			return nil, fmt.Errorf("failed to get config: %w", err)
		}
		return cfg, nil
	}

	log.Warningf("no config path given, using the built-in bronze catalog")
	cfg, err := registrar.ParseConfig(strings.NewReader(defaultCatalog))
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in catalog: %w", err)
	}
	if b, ok := os.LookupEnv("BUCKET"); ok && b != "" {
		cfg.Spec.Bucket = b
	}
	return cfg, nil
}

func printDDL(w io.Writer, descriptors []registrar.DatasetDescriptor) error {
	var bad int
	for _, d := range descriptors {
		ddl, err := registrar.RenderDDL(d)
		if err != nil {
			log.Errorf("skipping %s: %v", d.QualifiedTableName(), err)
			bad++
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", ddl); err != nil {
			return err
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d descriptors are invalid", bad, len(descriptors))
	}
	return nil
}

func setUpNotifier(ctx context.Context, cfg *registrar.Config) (registrar.Notifier, error) {
	if cfg.Spec.Notification == nil {
		return nil, nil
	}
	smc, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create new SecretManager client: %w", err)
	}
	defer smc.Close()
	return registrar.SetUpNotifier(ctx, cfg, &registrar.SecretManager{Client: smc})
}

func watch(ctx context.Context, projectID string, r *registrar.Registrar, reg *prometheus.Registry, descriptors []registrar.DatasetDescriptor) error {
	subscriberID, ok := registrar.GetEnv("SUBSCRIBER_ID")
	if !ok {
		return errors.New("expected SUBSCRIBER_ID to be non-empty")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to create PubSub client: %w", err)
	}
	defer client.Close()
	sub := client.Subscription(subscriberID)

	log.V(2).Infof("starting PubSub (%q) and HTTP handlers...", subscriberID)

	// Run the receiver in a goroutine because `sub.Receive` blocks and so does the HTTP server below.
	errs := make(chan error, 2)
	go func() {
		errs <- sub.Receive(ctx, registrar.NewReceiver(r, descriptors))
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "Greetings from the external table registrar! (Time: %s)", time.Now().String())
	})

	port, ok := registrar.GetEnv("PORT")
	if !ok {
		log.Warningf("PORT environment variable was not present, using %s instead", defaultHTTPPort)
		port = defaultHTTPPort
	}
	go func() {
		errs <- http.ListenAndServe(":"+port, mux)
	}()

	if err := <-errs; err != nil {
		return fmt.Errorf("watch stopped: %w", err)
	}
	return errors.New("watch stopped")
}
