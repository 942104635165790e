// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timers so that polling cadences, reconnect
// backoff, and message timestamps can be tested deterministically.
//
// Production wiring passes Real(). Tests pass a FakeClock and drive it:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	source := poll.New(poll.Config{Clock: fake, ...})
//	source.Start(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(7 * time.Second)
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
