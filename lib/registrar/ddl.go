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
	"strings"
)

// RenderDDL returns the BigQuery DDL statement equivalent to registering d.
func RenderDDL(d DatasetDescriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	format := string(d.Format)
	if d.Format == JSON {
		format = "NEWLINE_DELIMITED_JSON"
	}
	uri := strings.ReplaceAll(d.LocationPattern, "'", `\'`)
	return fmt.Sprintf("CREATE EXTERNAL TABLE IF NOT EXISTS `%s`\nOPTIONS (\n  format = '%s',\n  uris = ['%s']\n);",
		d.QualifiedTableName(), format, uri), nil
}
