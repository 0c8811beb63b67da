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

package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/zero-ivm/internal/presence"
	"github.com/stretchr/testify/require"
)

func TestOnlineManagerSetOnlineTrueIsIdempotent(t *testing.T) {
	m := presence.NewOnlineManager(time.Hour)
	m.SetOnline(true)
	require.Equal(t, presence.Online, m.Status())
	m.SetOnline(true)
	require.Equal(t, presence.Online, m.Status())
}

func TestOnlineManagerGracePeriod(t *testing.T) {
	var mu sync.Mutex
	var fired func()
	m := &presence.OnlineManager{GracePeriod: time.Hour}
	m.AfterFunc = func(d time.Duration, f func()) *time.Timer {
		mu.Lock()
		fired = f
		mu.Unlock()
		return time.NewTimer(time.Hour) // never actually fires; we invoke fired() by hand
	}
	require.Equal(t, presence.Online, m.Status())

	var transitions []presence.Status
	m.Subscribe(func(s presence.Status) { transitions = append(transitions, s) })

	m.SetOnline(false)
	require.Equal(t, presence.OfflinePending, m.Status())

	// A repeat SetOnline(false) while pending is a no-op (spec §4.8).
	m.SetOnline(false)
	require.Equal(t, presence.OfflinePending, m.Status())

	mu.Lock()
	cb := fired
	mu.Unlock()
	require.NotNil(t, cb)
	cb()
	require.Equal(t, presence.Offline, m.Status())

	require.Equal(t, []presence.Status{presence.OfflinePending, presence.Offline}, transitions)
}

func TestOnlineManagerReconnectCancelsTimer(t *testing.T) {
	m := presence.NewOnlineManager(50 * time.Millisecond)
	m.SetOnline(false)
	require.Equal(t, presence.OfflinePending, m.Status())
	m.SetOnline(true)
	require.Equal(t, presence.Online, m.Status())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, presence.Online, m.Status())
}

func TestActiveClientManagerMemoryBackend(t *testing.T) {
	backend := presence.NewMemoryLockBackend()
	bus := presence.NewGroupBroadcast()

	var mu sync.Mutex
	var lastA, lastB []string

	a := &presence.ActiveClientManager{
		Prefix: "zero", GroupID: "g1", ClientID: "client-a",
		Backend: backend, Bus: bus,
		OnChange: func(active []string) { mu.Lock(); lastA = active; mu.Unlock() },
	}
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	require.Contains(t, a.Active(), "client-a")

	b := &presence.ActiveClientManager{
		Prefix: "zero", GroupID: "g1", ClientID: "client-b",
		Backend: backend, Bus: bus,
		OnChange: func(active []string) { mu.Lock(); lastB = active; mu.Unlock() },
	}
	require.NoError(t, b.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return contains(lastA, "client-b") && contains(lastB, "client-a")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !contains(lastA, "client-b")
	}, time.Second, 5*time.Millisecond)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
