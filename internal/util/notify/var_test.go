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

package notify_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/zero-ivm/internal/util/notify"
	"github.com/stretchr/testify/require"
)

func TestGetSetWakesWaiters(t *testing.T) {
	v := notify.New(0)

	val, updated := v.Get()
	require.Equal(t, 0, val)

	done := make(chan int, 1)
	go func() {
		<-updated
		next, _ := v.Get()
		done <- next
	}()

	v.Set(42)

	select {
	case got := <-done:
		require.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestUpdate(t *testing.T) {
	v := notify.New([]int{1})
	v.Update(func(cur []int) []int { return append(cur, 2) })
	val, _ := v.Get()
	require.Equal(t, []int{1, 2}, val)
}
