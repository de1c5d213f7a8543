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

package pool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/multigres/pgasync/go/pgasync/pool"

// Attribute keys from the OTel database client semantic conventions.
const (
	attrKeyPoolName = "db.client.connection.pool.name"
	attrKeyState    = "db.client.connection.state"
)

const (
	stateIdle = "idle"
	stateUsed = "used"
)

// metrics records connection counts by state and queue timeouts for one
// pool.
type metrics struct {
	count    metric.Int64UpDownCounter
	timeouts metric.Int64Counter
	idle     metric.MeasurementOption
	used     metric.MeasurementOption
	pool     metric.MeasurementOption
}

func newMetrics(m metric.Meter, poolName string) (*metrics, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}
	count, err := m.Int64UpDownCounter("db.client.connection.count",
		metric.WithDescription("The number of connections that are currently in state described by the state attribute."),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection count: %w", err)
	}
	timeouts, err := m.Int64Counter("db.client.connection.timeouts",
		metric.WithDescription("The number of connection acquisitions that timed out in the queue."),
		metric.WithUnit("{timeout}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection timeouts: %w", err)
	}
	name := attribute.String(attrKeyPoolName, poolName)
	return &metrics{
		count:    count,
		timeouts: timeouts,
		idle:     metric.WithAttributeSet(attribute.NewSet(name, attribute.String(attrKeyState, stateIdle))),
		used:     metric.WithAttributeSet(attribute.NewSet(name, attribute.String(attrKeyState, stateUsed))),
		pool:     metric.WithAttributeSet(attribute.NewSet(name)),
	}, nil
}

func (m *metrics) addIdle(delta int64) {
	m.count.Add(context.Background(), delta, m.idle)
}

func (m *metrics) addUsed(delta int64) {
	m.count.Add(context.Background(), delta, m.used)
}

func (m *metrics) timedOut(ctx context.Context) {
	m.timeouts.Add(ctx, 1, m.pool)
}
