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

package pgasync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/multigres/pgasync/go/pgasync"

// Statistics counts connection activity for one source. A nil *Statistics
// records nothing.
type Statistics struct {
	connects metric.Int64Counter
	requests metric.Int64Counter
	timeouts metric.Int64Counter
	attrs    metric.MeasurementOption
}

// NewStatistics creates counters on meter, or on the global meter provider
// when meter is nil. Measurements carry the given source name.
func NewStatistics(meter metric.Meter, source string) (*Statistics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	s := &Statistics{
		attrs: metric.WithAttributeSet(attribute.NewSet(attribute.String("db.client.source", source))),
	}
	var err error
	if s.connects, err = meter.Int64Counter("db.client.connects",
		metric.WithDescription("Connections established"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create connects counter: %w", err)
	}
	if s.requests, err = meter.Int64Counter("db.client.requests",
		metric.WithDescription("Requests started"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	if s.timeouts, err = meter.Int64Counter("db.client.operation.timeouts",
		metric.WithDescription("Connect and request operations that ran past their deadline"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create timeouts counter: %w", err)
	}
	return s, nil
}

func (s *Statistics) connected(ctx context.Context) {
	if s != nil {
		s.connects.Add(ctx, 1, s.attrs)
	}
}

func (s *Statistics) requested(ctx context.Context) {
	if s != nil {
		s.requests.Add(ctx, 1, s.attrs)
	}
}

func (s *Statistics) timedOut(ctx context.Context) {
	if s != nil {
		s.timeouts.Add(ctx, 1, s.attrs)
	}
}
