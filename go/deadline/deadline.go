// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deadline implements absolute operation deadlines.
//
// A Deadline is either none (unbounded) or an absolute point in time.
// Deadlines built from durations saturate instead of overflowing, and
// several deadlines compose with Min.
package deadline

import (
	"context"
	"math"
	"time"
)

// MaxDuration is the largest representable duration.
const MaxDuration = time.Duration(math.MaxInt64)

// Max is the latest representable time point.
var Max = time.Unix(1<<63-62135596801, 999999999)

// Deadline is an absolute expiry time. The zero value is None.
type Deadline struct {
	at  time.Time
	set bool
}

// None returns a deadline that never expires.
func None() Deadline {
	return Deadline{}
}

// At returns a deadline expiring at t.
func At(t time.Time) Deadline {
	return Deadline{at: t, set: true}
}

// After returns a deadline expiring d after now. A negative d yields now,
// and a d too large to add to now saturates to Max.
func After(d time.Duration, now time.Time) Deadline {
	if d <= 0 {
		return At(now)
	}
	if Max.Sub(now) <= d {
		return At(Max)
	}
	return At(now.Add(d))
}

// FromNow is After(d, time.Now()).
func FromNow(d time.Duration) Deadline {
	return After(d, time.Now())
}

// FromContext returns t bounded by ctx's deadline, if any.
func FromContext(ctx context.Context, t Deadline) Deadline {
	if at, ok := ctx.Deadline(); ok {
		return Min(t, At(at))
	}
	return t
}

// Min returns the earlier of a and b. None is the identity.
func Min(a, b Deadline) Deadline {
	switch {
	case !a.set:
		return b
	case !b.set:
		return a
	case b.at.Before(a.at):
		return b
	default:
		return a
	}
}

// IsNone reports whether d is unbounded.
func (d Deadline) IsNone() bool {
	return !d.set
}

// Time returns the expiry time and whether one is set.
func (d Deadline) Time() (time.Time, bool) {
	return d.at, d.set
}

// TimeLeft returns max(0, d-now), or MaxDuration for None.
func (d Deadline) TimeLeft(now time.Time) time.Duration {
	if !d.set {
		return MaxDuration
	}
	if !d.at.After(now) {
		return 0
	}
	return d.at.Sub(now)
}

// Expired reports whether d has passed at now.
func (d Deadline) Expired(now time.Time) bool {
	return d.set && !d.at.After(now)
}

// Divide returns the deadline for one of n equal shares of the time left,
// measured from now. It is used to split a budget across attempts.
func (d Deadline) Divide(n int, now time.Time) Deadline {
	if !d.set || n <= 1 {
		return d
	}
	return After(d.TimeLeft(now)/time.Duration(n), now)
}

// String implements fmt.Stringer.
func (d Deadline) String() string {
	if !d.set {
		return "none"
	}
	return d.at.Format(time.RFC3339Nano)
}
