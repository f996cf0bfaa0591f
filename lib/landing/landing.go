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

// Package landing copies local directory trees into a Cloud Storage bucket, e.g.
// the DAGs and seed data of a Composer environment.
package landing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	log "github.com/golang/glog"
)

// WriterFactory opens writers for Cloud Storage objects. The object is committed when the writer is closed.
type WriterFactory interface {
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
}

// GCSWriterFactory is a WriterFactory backed by a storage client.
type GCSWriterFactory struct {
	Client *storage.Client
}

func (g *GCSWriterFactory) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return g.Client.Bucket(bucket).Object(object).NewWriter(ctx)
}

// Uploader uploads directory trees.
type Uploader struct {
	Writers WriterFactory
}

// Ignored reports whether a file is left out of uploads: package markers and tests.
func Ignored(name string) bool {
	return name == "__init__.py" || strings.HasSuffix(name, "_test.py")
}

// UploadDirectory uploads every regular file under dir to gs://bucket/<prefix><relative path>
// and returns the number of uploaded files. A missing directory is not an error.
func (u *Uploader) UploadDirectory(ctx context.Context, dir, bucket, prefix string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		log.Warningf("directory %q does not exist, skipping upload", dir)
		return 0, nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.Type().IsRegular() && !Ignored(e.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list files under %q: %w", dir, err)
	}
	if len(files) == 0 {
		log.Warningf("no files found in %q, skipping upload", dir)
		return 0, nil
	}

	for i, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return i, err
		}
		object := path.Join(prefix, filepath.ToSlash(rel))
		if err := u.uploadFile(ctx, f, bucket, object); err != nil {
			return i, err
		}
		log.Infof("uploaded %s to gs://%s/%s", f, bucket, object)
	}
	return len(files), nil
}

func (u *Uploader) uploadFile(ctx context.Context, file, bucket, object string) error {
	r, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", file, err)
	}
	defer r.Close()

	// A Cloud Storage writer discards the object only if its context is done before Close.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := u.Writers.NewWriter(wctx, bucket, object)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}
