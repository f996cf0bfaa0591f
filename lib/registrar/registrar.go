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

// Package registrar registers landed object-storage file sets as external tables
// in a warehouse catalog. Registration is create-if-absent only: an existing table
// is never altered or dropped.
package registrar

import (
	"context"
	"errors"
	"fmt"

	log "github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// Status is the observable result of registering one descriptor.
type Status string

// Possible values for Status.
const (
	StatusCreated Status = "CREATED"
	StatusExists  Status = "EXISTS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Outcome is the per-descriptor result of a registration.
type Outcome struct {
	Descriptor DatasetDescriptor
	Table      string
	Status     Status
	Err        error
}

// OK is true iff the table is registered (newly or previously).
func (o *Outcome) OK() bool {
	return o.Status == StatusCreated || o.Status == StatusExists
}

// Registrar ensures external tables exist in a Catalog.
type Registrar struct {
	Catalog Catalog
	// Filter, when set, restricts which descriptors EnsureCatalogBatch registers.
	Filter DescriptorFilter
	// Metrics, when set, counts outcomes.
	Metrics *Metrics
	// Parallelism bounds concurrent registrations in a batch. Values below 1 mean 1.
	Parallelism int
}

// EnsureDataset creates the target dataset if it does not exist yet.
func (r *Registrar) EnsureDataset(ctx context.Context, projectID, datasetID string) error {
	if !validID(datasetID) {
		return fmt.Errorf("%w: dataset %q", ErrInvalidIdentifier, datasetID)
	}
	ok, err := r.Catalog.DatasetExists(ctx, projectID, datasetID)
	if err != nil {
		return classify(err, ErrInvalidIdentifier)
	}
	if ok {
		log.V(2).Infof("dataset %q already exists", datasetID)
		return nil
	}
	log.Infof("creating dataset %q", datasetID)
	if err := r.Catalog.CreateDataset(ctx, projectID, datasetID); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return nil
}

// EnsureExternalTable registers d if no table with its qualified name exists.
// An existing table is left untouched, even if its definition differs from d.
func (r *Registrar) EnsureExternalTable(ctx context.Context, d DatasetDescriptor) *Outcome {
	o := r.ensure(ctx, d)
	r.Metrics.observe(o)
	return o
}

func (r *Registrar) ensure(ctx context.Context, d DatasetDescriptor) *Outcome {
	o := &Outcome{Descriptor: d, Table: d.QualifiedTableName()}
	fail := func(err error) *Outcome {
		log.Errorf("failed to register %s: %v", o.Table, err)
		o.Status, o.Err = StatusFailed, err
		return o
	}

	if err := d.Validate(); err != nil {
		return fail(err)
	}

	ref := d.TableRef()
	exists, err := r.Catalog.TableExists(ctx, ref)
	if err != nil {
		return fail(classify(err, ErrInvalidIdentifier))
	}
	if exists {
		log.V(2).Infof("table %s already registered, leaving it untouched", o.Table)
		o.Status = StatusExists
		return o
	}

	def := &ExternalTable{
		Format:      d.Format,
		SourceURIs:  []string{d.LocationPattern},
		Description: fmt.Sprintf("%s %s landed by %s", d.Format, d.EntityName, d.SourceSystem),
	}
	if err := r.Catalog.CreateExternalTable(ctx, ref, def); err != nil {
		err = classify(err, ErrInvalidLocation)
		if errors.Is(err, ErrAlreadyExists) {
			log.V(2).Infof("table %s was created concurrently: %v", o.Table, err)
			o.Status = StatusExists
			return o
		}
		return fail(err)
	}
	log.Infof("registered external table %s over %q (%s)", o.Table, d.LocationPattern, d.Format)
	o.Status = StatusCreated
	return o
}

// EnsureCatalogBatch registers every descriptor independently and returns one
// outcome per descriptor, in input order. A failure never stops the batch.
func (r *Registrar) EnsureCatalogBatch(ctx context.Context, descriptors []DatasetDescriptor) []*Outcome {
	outcomes := make([]*Outcome, len(descriptors))

	// Later descriptors with an already-seen valid name reuse the first one's result.
	primary := make(map[string]int)
	var dups []int

	g := new(errgroup.Group)
	g.SetLimit(max(r.Parallelism, 1))
	for i, d := range descriptors {
		if r.Filter != nil && !r.Filter.Apply(ctx, d) {
			log.V(2).Infof("descriptor %s excluded by filter", d.QualifiedTableName())
			outcomes[i] = &Outcome{Descriptor: d, Table: d.QualifiedTableName(), Status: StatusSkipped}
			r.Metrics.observe(outcomes[i])
			continue
		}
		if d.Validate() == nil {
			name := d.QualifiedTableName()
			if _, ok := primary[name]; ok {
				dups = append(dups, i)
				continue
			}
			primary[name] = i
		}
		i, d := i, d
		g.Go(func() error {
			outcomes[i] = r.EnsureExternalTable(ctx, d)
			return nil
		})
	}
	g.Wait()

	for _, i := range dups {
		d := descriptors[i]
		p := outcomes[primary[d.QualifiedTableName()]]
		o := &Outcome{Descriptor: d, Table: p.Table, Status: StatusExists}
		if !p.OK() {
			o.Status, o.Err = StatusFailed, p.Err
		} else if p.Descriptor.LocationPattern != d.LocationPattern || p.Descriptor.Format != d.Format {
			log.Warningf("descriptor for %s differs from an earlier one in the batch (%q, %s); ignoring it", o.Table, d.LocationPattern, d.Format)
		}
		r.Metrics.observe(o)
		outcomes[i] = o
	}
	return outcomes
}

// Failed returns the outcomes that did not register.
func Failed(outcomes []*Outcome) []*Outcome {
	var ret []*Outcome
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			ret = append(ret, o)
		}
	}
	return ret
}
