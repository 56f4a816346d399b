/*
Copyright 2020 Intel Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metricsring

import (
	"container/ring"
	"time"

	"github.com/VividCortex/ewma"
)

// SampleBuffer keeps the latest samples of a metric and their moving average.
type SampleBuffer interface {
	Push(v float64, at time.Time)
	EWMA() float64
	Mean() float64
	Span() time.Duration
	Len() int
	Cap() int
	LastN(count int) []float64
}

// MetricsRing implements SampleBuffer on top of a container/ring.
type MetricsRing struct {
	r  *ring.Ring
	s  int // the count of elements in the ring
	ma ewma.MovingAverage
}

type sample struct {
	v         float64
	timestamp time.Time
}

// NewMetricsRing creates a ring for ringlen samples.
func NewMetricsRing(ringlen int) SampleBuffer {
	// Note: unless ringlen is 30, ewma has a warm-up period of 10
	// samples during which EWMA() returns 0.0.
	if ringlen < 1 {
		ringlen = 1
	}
	return &MetricsRing{
		r:  ring.New(ringlen),
		ma: ewma.NewMovingAverage(float64(ringlen)),
	}
}

// Push adds a sample taken at the given time.
func (mr *MetricsRing) Push(v float64, at time.Time) {
	mr.r.Value = sample{v: v, timestamp: at}
	mr.ma.Add(v)
	mr.r = mr.r.Next()
	if mr.s < mr.r.Len() {
		mr.s++
	}
}

// EWMA returns the exponentially weighted moving average of the samples.
func (mr *MetricsRing) EWMA() float64 {
	return mr.ma.Value()
}

// Mean returns the plain average of the samples in the ring.
func (mr *MetricsRing) Mean() float64 {
	if mr.s == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range mr.LastN(mr.s) {
		sum += v
	}
	return sum / float64(mr.s)
}

// Span returns the time between the oldest and the latest sample in the ring.
func (mr *MetricsRing) Span() time.Duration {
	if mr.s < 2 {
		return 0
	}
	latest := mr.r.Prev().Value.(sample).timestamp
	oldest := mr.r.Move(-mr.s).Value.(sample).timestamp
	return latest.Sub(oldest)
}

// Len returns the number of samples in the ring.
func (mr *MetricsRing) Len() int {
	return mr.s
}

// Cap returns the capacity of the ring.
func (mr *MetricsRing) Cap() int {
	return mr.r.Len()
}

// LastN returns the latest count samples, oldest first.
func (mr *MetricsRing) LastN(count int) []float64 {
	if count > mr.s {
		count = mr.s
	}
	if count < 0 {
		count = 0
	}

	s := make([]float64, count)
	p := mr.r.Move(-count)
	for i := 0; i < count; i++ {
		s[i] = p.Value.(sample).v
		p = p.Next()
	}

	return s
}
