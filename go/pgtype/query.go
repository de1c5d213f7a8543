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

package pgtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/protocol"
)

// Query is SQL text with ordered parameters bound to $1..$n.
// It is immutable once built.
type Query struct {
	Text   string
	Params []any
}

// NewQuery builds a Query.
func NewQuery(text string, params ...any) Query {
	return Query{Text: text, Params: params}
}

// Placeholders returns the $n placeholder numbers appearing in text, left to
// right. Placeholders inside string literals, quoted identifiers, comments,
// and dollar-quoted bodies are ignored.
func Placeholders(text string) []int {
	var out []int
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"':
			i = skipQuoted(text, i, c)
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
				i += nl + 1
			} else {
				i = len(text)
			}
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			if end := strings.Index(text[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = len(text)
			}
		case c == '$':
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, _ := strconv.Atoi(text[i+1 : j])
				out = append(out, n)
				i = j
				continue
			}
			i = skipDollarQuoted(text, i)
		default:
			i++
		}
	}
	return out
}

func skipQuoted(text string, i int, quote byte) int {
	for j := i + 1; j < len(text); j++ {
		if text[j] != quote {
			continue
		}
		if j+1 < len(text) && text[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(text)
}

// skipDollarQuoted skips $tag$...$tag$ starting at i, or just the '$' when
// it does not open a dollar quote.
func skipDollarQuoted(text string, i int) int {
	j := i + 1
	for j < len(text) && (text[j] == '_' || text[j] >= 'a' && text[j] <= 'z' || text[j] >= 'A' && text[j] <= 'Z' || text[j] >= '0' && text[j] <= '9') {
		j++
	}
	if j >= len(text) || text[j] != '$' {
		return i + 1
	}
	tag := text[i : j+1]
	if end := strings.Index(text[j+1:], tag); end >= 0 {
		return j + 1 + end + len(tag)
	}
	return len(text)
}

// Validate checks that the placeholders are exactly $1..$n for n
// parameters.
func (q Query) Validate() error {
	n := len(q.Params)
	seen := make([]bool, n+1)
	for _, p := range Placeholders(q.Text) {
		if p < 1 || p > n {
			return mterrors.New(mterrors.BadQuery, "placeholder $%d out of range for %d parameters", p, n)
		}
		seen[p] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			return mterrors.New(mterrors.BadQuery, "parameter $%d is not referenced", i)
		}
	}
	return nil
}

// BinaryQuery is a query ready for the parameterized-execute primitive:
// text plus per-parameter oid, value, and format. A nil value is NULL.
type BinaryQuery struct {
	Text    string
	Types   []Oid
	Values  [][]byte
	Formats []int16
}

// Lengths returns the byte length of each parameter, -1 for NULL.
func (b *BinaryQuery) Lengths() []int32 {
	out := make([]int32, len(b.Values))
	for i, v := range b.Values {
		if v == nil {
			out[i] = -1
			continue
		}
		out[i] = int32(len(v))
	}
	return out
}

// Bind validates q and encodes its parameters with m.
func (q Query) Bind(m *OidMap) (*BinaryQuery, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	bq := &BinaryQuery{
		Text:    q.Text,
		Types:   make([]Oid, len(q.Params)),
		Values:  make([][]byte, len(q.Params)),
		Formats: make([]int16, len(q.Params)),
	}
	for i, p := range q.Params {
		oid, data, err := m.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		bq.Types[i] = oid
		bq.Values[i] = data
		bq.Formats[i] = protocol.FormatBinary
	}
	return bq, nil
}
