// Copyright 2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"strconv"
)

// Delayed is an argument whose formatting is deferred until a message is emitted.
type Delayed interface {
	String() string
}

type delay struct {
	o interface{}
}

// Delay wraps an object or a producer function for lazy formatting. Use it for
// costly debug arguments, like dumps of frequency vectors, which are thrown
// away unless debugging is on for the source.
func Delay(o interface{}) Delayed {
	return &delay{o: o}
}

func (d *delay) String() string {
	o := d.o
	switch fn := o.(type) {
	case func() string:
		return fn()
	case func() interface{}:
		o = fn()
	}

	switch v := o.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", o)
	}
}
