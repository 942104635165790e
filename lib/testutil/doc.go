// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves shared by
// gmtsync tests. Everything else in the test suite runs on
// clock.FakeClock; these helpers are the only place a real timeout
// appears, and only to turn a hung goroutine into a test failure.
package testutil
