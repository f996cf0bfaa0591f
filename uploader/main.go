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

// Command uploader uploads DAGs and seed data to a Composer environment's bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/bigquery-external-tables/lib/landing"
	log "github.com/golang/glog"
)

// Flags.
var (
	dagsDirFlag = flag.String("dags_directory", "", "Path to the DAGs directory to upload.")
	dataDirFlag = flag.String("data_directory", "", "Path to the data directory to upload.")
	bucketFlag  = flag.String("dags_bucket", "", "GCS bucket name where files will be uploaded (e.g. my-bucket-name).")
)

type upload struct {
	dir    string
	prefix string
}

func main() {
	flag.Parse()
	if *bucketFlag == "" {
		log.Exit("--dags_bucket is required")
	}

	ctx := context.Background()
	sc, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatalf("failed to create new GCS client: %v", err)
	}
	defer sc.Close()

	u := &landing.Uploader{Writers: &landing.GCSWriterFactory{Client: sc}}
	if err := run(ctx, u, *bucketFlag, []upload{{*dagsDirFlag, "dags/"}, {*dataDirFlag, "data/"}}); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run(ctx context.Context, u *landing.Uploader, bucket string, uploads []upload) error {
	if bucket == "" {
		return errors.New("expected a target bucket")
	}
	for _, up := range uploads {
		if up.dir == "" {
			log.Warningf("skipping %s upload: no directory given", up.prefix)
			continue
		}
		log.Infof("uploading %q to gs://%s/%s", up.dir, bucket, up.prefix)
		n, err := u.UploadDirectory(ctx, up.dir, bucket, up.prefix)
		if err != nil {
			return fmt.Errorf("failed to upload %q: %w", up.dir, err)
		}
		log.Infof("uploaded %d files from %q to gs://%s/%s", n, up.dir, bucket, up.prefix)
	}
	return nil
}
