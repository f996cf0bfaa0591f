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
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Format is the file encoding of the objects backing an external table.
type Format string

// Supported formats.
const (
	JSON    Format = "JSON"
	CSV     Format = "CSV"
	Parquet Format = "PARQUET"
	Avro    Format = "AVRO"
)

// ParseFormat normalizes s into a Format. Unknown values are returned upper-cased
// so that the failure surfaces per descriptor at registration time.
func ParseFormat(s string) Format {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	if f == "NEWLINE_DELIMITED_JSON" {
		return JSON
	}
	return f
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case JSON, CSV, Parquet, Avro:
		return true
	}
	return false
}

// Extension is the file extension used for objects of this format in the landing area.
func (f Format) Extension() string {
	return strings.ToLower(string(f))
}

// maxIDLen bounds dataset and table ids. RE2 caps repeat counts at 1000, so it is checked apart from the pattern.
const maxIDLen = 1024

var (
	idPattern        = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	bucketPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)
)

// TableRef identifies a table in the catalog.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// String returns the catalog-qualified name, `dataset.table` or `project.dataset.table`.
func (r TableRef) String() string {
	if r.ProjectID == "" {
		return r.DatasetID + "." + r.TableID
	}
	return r.ProjectID + "." + r.DatasetID + "." + r.TableID
}

// Validate checks that every part of the reference is a valid catalog identifier.
func (r TableRef) Validate() error {
	if r.ProjectID != "" && !projectIDPattern.MatchString(r.ProjectID) {
		return fmt.Errorf("%w: project %q", ErrInvalidIdentifier, r.ProjectID)
	}
	if !validID(r.DatasetID) {
		return fmt.Errorf("%w: dataset %q", ErrInvalidIdentifier, r.DatasetID)
	}
	if !validID(r.TableID) {
		return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, r.TableID)
	}
	return nil
}

// validID reports whether id is a valid dataset or table id.
func validID(id string) bool {
	return len(id) <= maxIDLen && idPattern.MatchString(id)
}

// DatasetDescriptor describes one external table: which system produced the files,
// which entity they hold, how they are encoded and where they live.
type DatasetDescriptor struct {
	SourceSystem    string
	EntityName      string
	Format          Format
	LocationPattern string

	// Abbreviation overrides the abbreviation derived from SourceSystem.
	Abbreviation string
	// ProjectID is optional; the catalog client's project is used when empty.
	ProjectID string
	DatasetID string
}

// Abbreviate derives the short source-system suffix used in table names:
// the first letter of every word, lower-cased ("hospital-a" -> "ha").
func Abbreviate(sourceSystem string) string {
	words := strings.FieldsFunc(sourceSystem, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			b.WriteRune(unicode.ToLower(r))
			break
		}
	}
	return b.String()
}

// TableID returns `<entity>_<abbreviation>`.
func (d DatasetDescriptor) TableID() string {
	abbr := d.Abbreviation
	if abbr == "" {
		abbr = Abbreviate(d.SourceSystem)
	}
	entity := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(d.EntityName)), "-", "_")
	return entity + "_" + strings.ToLower(abbr)
}

// TableRef returns the reference under which the descriptor is exposed.
func (d DatasetDescriptor) TableRef() TableRef {
	return TableRef{ProjectID: d.ProjectID, DatasetID: d.DatasetID, TableID: d.TableID()}
}

// QualifiedTableName is the catalog-qualified table name, e.g. `bronze_dataset.patients_ha`.
func (d DatasetDescriptor) QualifiedTableName() string {
	return d.TableRef().String()
}

// Validate checks the descriptor without contacting the catalog.
func (d DatasetDescriptor) Validate() error {
	if strings.TrimSpace(d.SourceSystem) == "" || strings.TrimSpace(d.EntityName) == "" {
		return fmt.Errorf("%w: source system and entity name are required (got %q, %q)", ErrInvalidIdentifier, d.SourceSystem, d.EntityName)
	}
	if err := d.TableRef().Validate(); err != nil {
		return err
	}
	if err := ValidateLocation(d.LocationPattern); err != nil {
		return err
	}
	if !d.Format.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, d.Format)
	}
	return nil
}

// ValidateLocation checks that pattern is a `gs://bucket/object` URI with at most one `*` wildcard.
func ValidateLocation(pattern string) error {
	if strings.IndexFunc(pattern, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidLocation, pattern)
	}
	trm := strings.TrimPrefix(pattern, "gs://")
	if trm == pattern {
		return fmt.Errorf("%w: expected %q to start with `gs://`", ErrInvalidLocation, pattern)
	}
	split := strings.SplitN(trm, "/", 2)
	if len(split) != 2 || split[1] == "" {
		return fmt.Errorf("%w: expected form `gs://bucket/path/to/objects`: %q", ErrInvalidLocation, pattern)
	}
	if !bucketPattern.MatchString(split[0]) || strings.Contains(split[0], "..") {
		return fmt.Errorf("%w: bad bucket name %q", ErrInvalidLocation, split[0])
	}
	if strings.Count(split[1], "*") > 1 {
		return fmt.Errorf("%w: %q has more than one wildcard", ErrInvalidLocation, pattern)
	}
	return nil
}

// MatchesObject reports whether the object URI (gs://bucket/object) is covered by the
// descriptor's location pattern. The wildcard matches any run of characters, including `/`.
func (d DatasetDescriptor) MatchesObject(uri string) bool {
	prefix, suffix, ok := strings.Cut(d.LocationPattern, "*")
	if !ok {
		return uri == d.LocationPattern
	}
	return len(uri) >= len(prefix)+len(suffix) && strings.HasPrefix(uri, prefix) && strings.HasSuffix(uri, suffix)
}
