// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package config

import (
	"fmt"
)

//
// pkg/log implements its runtime configurability using this package, so we
// cannot import it here without an import cycle. Instead our logger is set
// externally, from pkg/log.
//

// Logger is our set of logging functions.
type Logger struct {
	Debugf func(string, ...interface{})
	Infof  func(string, ...interface{})
	Warnf  func(string, ...interface{})
	Errorf func(string, ...interface{})
	Panicf func(string, ...interface{})
}

// log is our Logger.
var log = defaultLogger()

// SetLogger sets our logger.
func SetLogger(logger Logger) {
	if logger.Debugf != nil {
		log.Debugf = logger.Debugf
	}
	if logger.Infof != nil {
		log.Infof = logger.Infof
	}
	if logger.Warnf != nil {
		log.Warnf = logger.Warnf
	}
	if logger.Errorf != nil {
		log.Errorf = logger.Errorf
	}
	if logger.Panicf != nil {
		log.Panicf = logger.Panicf
	}
}

func defaultLogger() Logger {
	return Logger{
		Debugf: func(string, ...interface{}) {},
		Infof:  printer("I"),
		Warnf:  printer("W"),
		Errorf: printer("E"),
		Panicf: func(format string, args ...interface{}) {
			printer("E")(format, args...)
			panic(fmt.Sprintf(format, args...))
		},
	}
}

func printer(level string) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		fmt.Printf(level+": [config] "+format+"\n", args...)
	}
}
