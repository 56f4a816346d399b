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

// Package log implements per-source logging for the policy engine.
//
// Every package creates its own logger with NewLogger(source). Normal
// messages of a source can be turned off and debug messages turned on
// through the 'logger' configuration module. Messages emitted once per
// loop iteration should go through a RateLimit()ed logger, and costly
// debug arguments through Delay().
package log
