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

package daemon

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// ErrNotConfirmed is returned when the daemon did not confirm a request.
var ErrNotConfirmed = errors.New("daemon: request not confirmed")

var log = logger.NewLogger("daemon")

// Client sends requests to the node daemon.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Retrying is a Client retrying unconfirmed requests at a limited rate.
type Retrying struct {
	client     Client
	limiter    *rate.Limiter
	maxRetries int
	opts       Options
	warn       logger.Logger
}

// NewRetrying wraps a client with retries configured by opts.
func NewRetrying(client Client, opts Options) *Retrying {
	return &Retrying{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		maxRetries: opts.MaxRetries,
		opts:       opts,
		warn:       logger.RateLimit(log, logger.Interval(opts.Timeout.Duration())),
	}
}

// Do sends the request, retrying it up to the configured number of times
// until the daemon confirms it.
func (r *Retrying) Do(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return Response{}, errors.Wrapf(err, "%s request", req.Kind())
		}

		rctx, cancel := context.WithTimeout(ctx, r.opts.Timeout.Duration())
		rpl, err := r.client.Do(rctx, req)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case !rpl.OK:
			lastErr = fmt.Errorf("%s", rpl.Error)
		default:
			return rpl, nil
		}

		r.warn.Warn("%s request failed (attempt %d/%d): %v", req.Kind(), attempt+1, r.maxRetries+1, lastErr)

		if ctx.Err() != nil {
			break
		}
	}

	return Response{}, errors.Wrapf(ErrNotConfirmed, "%s: %v", req.Kind(), lastErr)
}

// Actuator applies node frequency decisions through a daemon client.
type Actuator struct {
	client Client
}

// NewActuator creates an actuator using the given client.
func NewActuator(client Client) *Actuator {
	return &Actuator{client: client}
}

// ApplyFrequency requests the per-core CPU frequencies and the uncore and
// GPU selections of freqs.
func (a *Actuator) ApplyFrequency(ctx context.Context, cores []signature.Freq, freqs signature.NodeFreqs) error {
	var errs *multierror.Error

	if len(cores) > 0 {
		if _, err := a.client.Do(ctx, SetCPUFreqs{Freqs: cores}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if len(freqs.IMC) > 0 {
		if _, err := a.client.Do(ctx, SetIMCRange{Ranges: freqs.IMC}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if len(freqs.GPU) > 0 {
		if _, err := a.client.Do(ctx, SetGPUFreqs{Freqs: freqs.GPU}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// GetPowercapLimit returns the node power limit in W, zero if unlimited.
func (a *Actuator) GetPowercapLimit(ctx context.Context) (float64, error) {
	rpl, err := a.client.Do(ctx, GetPowercap{})
	if err != nil {
		return 0, err
	}
	return rpl.Powercap, nil
}

func daemonError(format string, args ...interface{}) error {
	return fmt.Errorf("daemon: "+format, args...)
}
