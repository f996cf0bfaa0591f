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

	"cloud.google.com/go/bigquery"
	log "github.com/golang/glog"
	"google.golang.org/api/option"
)

// ExternalTable is the definition registered for a descriptor.
type ExternalTable struct {
	Format      Format
	SourceURIs  []string
	Description string
}

// Catalog is the warehouse catalog the registrar writes metadata to.
// Implementations must report a missing table or dataset as (false, nil), and a
// create that lost a race to another creator as ErrAlreadyExists.
type Catalog interface {
	DatasetExists(ctx context.Context, projectID, datasetID string) (bool, error)
	CreateDataset(ctx context.Context, projectID, datasetID string) error
	TableExists(ctx context.Context, ref TableRef) (bool, error)
	CreateExternalTable(ctx context.Context, ref TableRef, def *ExternalTable) error
}

// BigQueryCatalog is a Catalog backed by BigQuery.
type BigQueryCatalog struct {
	client *bigquery.Client
}

// NewBigQueryCatalog returns a catalog using a BigQuery client for the given project.
func NewBigQueryCatalog(ctx context.Context, projectID string, opts ...option.ClientOption) (*BigQueryCatalog, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bigquery client: %w", err)
	}
	return &BigQueryCatalog{client: client}, nil
}

// Close releases the underlying client.
func (c *BigQueryCatalog) Close() error {
	return c.client.Close()
}

func (c *BigQueryCatalog) dataset(projectID, datasetID string) *bigquery.Dataset {
	if projectID == "" {
		return c.client.Dataset(datasetID)
	}
	return c.client.DatasetInProject(projectID, datasetID)
}

func (c *BigQueryCatalog) DatasetExists(ctx context.Context, projectID, datasetID string) (bool, error) {
	if _, err := c.dataset(projectID, datasetID).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to obtain dataset metadata: %w", err)
	}
	return true, nil
}

func (c *BigQueryCatalog) CreateDataset(ctx context.Context, projectID, datasetID string) error {
	md := &bigquery.DatasetMetadata{Name: datasetID, Description: "Bronze layer external tables over landed source files"}
	if err := c.dataset(projectID, datasetID).Create(ctx, md); err != nil {
		return classify(fmt.Errorf("failed to create dataset %q: %w", datasetID, err), ErrInvalidIdentifier)
	}
	return nil
}

func (c *BigQueryCatalog) TableExists(ctx context.Context, ref TableRef) (bool, error) {
	if _, err := c.dataset(ref.ProjectID, ref.DatasetID).Table(ref.TableID).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to obtain table metadata for %s: %w", ref, err)
	}
	return true, nil
}

func (c *BigQueryCatalog) CreateExternalTable(ctx context.Context, ref TableRef, def *ExternalTable) error {
	sf, err := sourceFormat(def.Format)
	if err != nil {
		return err
	}
	edc := &bigquery.ExternalDataConfig{
		SourceFormat: sf,
		SourceURIs:   def.SourceURIs,
		AutoDetect:   true,
	}
	if def.Format == CSV {
		edc.Options = &bigquery.CSVOptions{SkipLeadingRows: 1}
	}
	md := &bigquery.TableMetadata{
		Description:        def.Description,
		ExternalDataConfig: edc,
	}
	log.V(2).Infof("creating external table %s over %v", ref, def.SourceURIs)
	if err := c.dataset(ref.ProjectID, ref.DatasetID).Table(ref.TableID).Create(ctx, md); err != nil {
		return classify(fmt.Errorf("failed to create table %s: %w", ref, err), ErrInvalidLocation)
	}
	return nil
}

func sourceFormat(f Format) (bigquery.DataFormat, error) {
	switch f {
	case JSON:
		return bigquery.JSON, nil
	case CSV:
		return bigquery.CSV, nil
	case Parquet:
		return bigquery.Parquet, nil
	case Avro:
		return bigquery.Avro, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, f)
}
