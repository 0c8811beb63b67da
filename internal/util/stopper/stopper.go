// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a cooperative goroutine group built around
// context.Context. It gives long-running components (the change-
// streamer's forwarder, a resolver's retire loop, a subscriber's
// delivery task) a uniform way to be asked to stop, to finish any
// in-flight work, and to report the first error any of them returned.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// A Context is a context.Context augmented with a goroutine group and a
// graceful-stop signal. Stopping() is closed when Stop is called;
// Done() (inherited from context.Context) is closed once every
// goroutine started with Go has returned, or the parent is canceled.
type Context struct {
	context.Context

	group    *errgroup.Group
	stopping chan struct{}
	stopOnce sync.Once

	cancel context.CancelFunc
}

// WithContext creates a new stopper Context whose goroutines are
// canceled if the parent context is canceled.
func WithContext(parent context.Context) *Context {
	inner, cancel := context.WithCancel(parent)
	group, groupCtx := errgroup.WithContext(inner)
	return &Context{
		Context:  groupCtx,
		group:    group,
		stopping: make(chan struct{}),
		cancel:   cancel,
	}
}

// Go starts fn in a new goroutine tracked by the group. The first
// non-nil error returned by any fn cancels the Context.
func (c *Context) Go(fn func() error) {
	c.group.Go(fn)
}

// Stopping returns a channel that is closed when Stop is first called.
// Long-running loops should select on this (in addition to Done) so
// that they can distinguish "please wind down cleanly" from "the
// process is being torn down".
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests a graceful shutdown and blocks until every goroutine
// has returned or the timeout elapses, whichever comes first. If the
// timeout elapses, the underlying context is canceled to force
// in-flight work to unwind.
func (c *Context) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	done := make(chan error, 1)
	go func() { done <- c.group.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		c.cancel()
		return errors.Wrap(<-done, "stop timed out; forced cancellation")
	}
}

// Wait blocks until every goroutine in the group has returned and
// returns the first non-nil error, if any.
func (c *Context) Wait() error {
	return c.group.Wait()
}
