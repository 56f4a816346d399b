// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goxrate "golang.org/x/time/rate"
)

func TestRateLimitWindow(t *testing.T) {
	rl := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)}).(*ratelimited)

	limiters := make(map[string]*goxrate.Limiter)

	// fill the message window, store limiters for checking
	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for msg, limiter := range limiters {
		require.Same(t, limiter, rl.getMessageLimit(msg), "limiter for %s", msg)
	}

	// push a few more messages, shifting out the oldest ones
	recent := MinimumWindow / 4
	for i := 0; i < recent; i++ {
		msg := fmt.Sprintf("message #%d", len(messages)+i)
		limiters[msg] = rl.getMessageLimit(msg)
	}

	for idx := recent; idx < len(messages); idx++ {
		msg := messages[idx]
		require.Same(t, limiters[msg], rl.getMessageLimit(msg), "in-window limiter for %s", msg)
	}
	for idx := 0; idx < recent; idx++ {
		_, ok := rl.limits[messages[idx]]
		require.False(t, ok, "old message %s should have been evicted", messages[idx])
	}
	require.Len(t, rl.window, MinimumWindow)
}

func TestRateLimitSuppresses(t *testing.T) {
	b := setupTestBackend(t)
	rl := RateLimit(NewLogger("test-ratelimit"), Interval(time.Hour))

	for i := 0; i < 5; i++ {
		rl.Warn("iteration took too long")
	}
	rl.Warn("other message")

	require.Equal(t, []string{
		"W: <rate-limited> iteration took too long",
		"W: <rate-limited> other message",
	}, b.messages())
}
