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

package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestDetachIgnoresCancellation(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	cancel()
	ctx := Detach(parent)
	assert.NoError(t, ctx.Err())
	_, ok := ctx.Deadline()
	assert.False(t, ok)
}

func TestDetachKeepsBaggage(t *testing.T) {
	m, err := baggage.NewMember("pool", "primary")
	require.NoError(t, err)
	bag, err := baggage.New(m)
	require.NoError(t, err)
	parent := baggage.ContextWithBaggage(context.Background(), bag)

	got := baggage.FromContext(Detach(parent))
	assert.Equal(t, "primary", got.Member("pool").Value())
}

func TestDetachRemembersSpan(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	parent := trace.ContextWithSpanContext(context.Background(), sc)

	ctx := Detach(parent)
	got, ok := ParentSpanContext(ctx)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())

	_, span := StartLinkedSpan(ctx, noop.NewTracerProvider().Tracer("test"), "cancel")
	span.End()

	_, ok = ParentSpanContext(Detach(context.Background()))
	assert.False(t, ok)
}
