// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the retry
// backoff in lib/netutil and the progress reporter in lib/progress.
//
// Production code holds a Clock field set to Real(). Tests set it to
// Fake(), wait for the code under test to register its timer with
// WaitForTimers, and then call Advance to fire it. No test in this
// module sleeps on the wall clock to observe a backoff or a reporter
// tick.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := netutil.NewClient(httpClient, netutil.RetryOptions{Clock: c})
//	go client.Do(ctx, build)
//	c.WaitForTimers(1)
//	c.Advance(250 * time.Millisecond)
package clock
