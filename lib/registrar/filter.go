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

	log "github.com/golang/glog"
	"github.com/google/cel-go/cel"
)

// DescriptorFilter selects which descriptors get registered.
type DescriptorFilter interface {
	Apply(context.Context, DatasetDescriptor) bool
}

// CELPredicate is a DescriptorFilter that evaluates a CEL program against a descriptor.
type CELPredicate struct {
	prg cel.Program
}

// Apply returns true iff the underlying CEL program returns true for the given descriptor.
func (c *CELPredicate) Apply(_ context.Context, d DatasetDescriptor) bool {
	out, _, err := c.prg.Eval(map[string]interface{}{"descriptor": celInput(d)})
	if err != nil {
		log.Errorf("failed to evaluate the CEL filter: %v", err)
		return false
	}

	match, ok := out.Value().(bool)
	if !ok {
		log.Errorf("failed to convert output of CEL filter program to a boolean: %v", out)
		return false
	}

	return match
}

func celInput(d DatasetDescriptor) map[string]interface{} {
	return map[string]interface{}{
		"source_system":    d.SourceSystem,
		"entity_name":      d.EntityName,
		"format":           string(d.Format),
		"location_pattern": d.LocationPattern,
		"table":            d.TableID(),
		"dataset":          d.DatasetID,
	}
}

// MakeCELPredicate returns a CELPredicate for the given filter string of CEL code.
// The descriptor is exposed as the `descriptor` map, e.g.
// `descriptor.source_system == "hospital-a" && descriptor.format == "JSON"`.
func MakeCELPredicate(filter string) (*CELPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("descriptor", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create a CEL env: %w", err)
	}

	ast, iss := env.Compile(filter)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL filter %q: %w", filter, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &CELPredicate{prg}, nil
}
