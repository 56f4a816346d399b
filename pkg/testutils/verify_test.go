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

package testutils

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestVerifyError(t *testing.T) {
	merr := multierror.Append(nil, fmt.Errorf("bad rate"), fmt.Errorf("bad burst"))

	require.True(t, VerifyError(t, nil, 0, nil))
	require.True(t, VerifyError(t, merr, 2, []string{"rate", "burst"}))
	require.True(t, VerifyError(t, errors.Wrap(merr, "daemon"), 2, []string{"daemon"}))
	require.True(t, VerifyError(t, fmt.Errorf("plain"), -1, []string{"plain"}))
}
