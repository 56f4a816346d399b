// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testutils has helpers shared by the tests of other packages.
package testutils

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// VerifyError checks that err aggregates expectedCount errors and mentions
// every expected substring. A zero count expects no error, a negative count
// any error. Wrapped multierrors are unwrapped.
func VerifyError(t *testing.T, err error, expectedCount int, expectedSubstrings []string) bool {
	t.Helper()

	switch {
	case expectedCount == 0:
		if err != nil {
			t.Errorf("expected no error, got %v", err)
			return false
		}
		return true
	case err == nil:
		t.Errorf("expected an error, got nil")
		return false
	case expectedCount > 0:
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			t.Errorf("expected %d errors, got %#v instead of a multierror", expectedCount, err)
			return false
		}
		if len(merr.Errors) != expectedCount {
			t.Errorf("expected %d errors, got %d: %v", expectedCount, len(merr.Errors), merr)
			return false
		}
	}

	ok := true
	for _, s := range expectedSubstrings {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("expected error with substring %q, got %q", s, err)
			ok = false
		}
	}
	return ok
}
