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
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Registration errors. Callers should check for these with errors.Is.
var (
	// ErrInvalidIdentifier is returned when the qualified table name is not a valid catalog identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidLocation is returned when the location pattern is not a valid storage URI glob.
	ErrInvalidLocation = errors.New("invalid location")
	// ErrInvalidFormat is returned when the descriptor's format is not one of the supported formats.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrPermissionDenied is returned when the caller lacks catalog privileges.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyExists is returned by a Catalog when a create races with another creator.
	// EnsureExternalTable folds it into the idempotent no-op path.
	ErrAlreadyExists = errors.New("already exists")
)

func apiErrorCode(err error) (int, bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code, true
	}
	return 0, false
}

func isNotFound(err error) bool {
	code, ok := apiErrorCode(err)
	return ok && code == http.StatusNotFound
}

// classify maps an engine error onto the registration error kinds.
// invalidKind is the kind used for a 400 response, which depends on the call.
func classify(err error, invalidKind error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrInvalidIdentifier) || errors.Is(err, ErrInvalidLocation) {
		return err
	}
	code, ok := apiErrorCode(err)
	if !ok {
		return err
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %w", invalidKind, err)
	}
	return err
}
